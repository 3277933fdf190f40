package assembly

import (
	"fmt"
	"math"
	"math/rand"
)

// Motion describes the camera path over one still: zoom endpoints plus
// normalized pan offsets. Pan offsets live in [-1, 1], where -1 is the
// left/top edge of the reachable range, 0 is centered and 1 is the
// right/bottom edge.
type Motion struct {
	ZoomStart float64
	ZoomEnd   float64
	PanXStart float64
	PanXEnd   float64
	PanYStart float64
	PanYEnd   float64
}

// RandomMotion picks a camera path for one slide: the zoom runs between the
// two configured levels in a random direction, and both pan endpoints are
// drawn uniformly from the full offset range.
func RandomMotion(rng *rand.Rand, zoomNear, zoomFar float64) Motion {
	m := Motion{
		ZoomStart: zoomNear,
		ZoomEnd:   zoomFar,
		PanXStart: rng.Float64()*2 - 1,
		PanXEnd:   rng.Float64()*2 - 1,
		PanYStart: rng.Float64()*2 - 1,
		PanYEnd:   rng.Float64()*2 - 1,
	}
	if rng.Intn(2) == 0 {
		m.ZoomStart, m.ZoomEnd = m.ZoomEnd, m.ZoomStart
	}
	return m
}

// EaseInOutCubic maps linear progress t in [0,1] onto a cubic ease-in-out
// curve: slow start, fast middle, slow finish.
func EaseInOutCubic(t float64) float64 {
	if t < 0.5 {
		return 4 * t * t * t
	}
	return 1 - math.Pow(-2*t+2, 3)/2
}

// ZoompanFilter renders the motion as an ffmpeg zoompan filter producing
// `frames` frames at the output size. The per-frame zoom and pan values
// follow the same cubic ease-in-out curve EaseInOutCubic computes, expressed
// in zoompan's expression language with `on` as the frame index.
func (m Motion) ZoompanFilter(frames, width, height, fps int) string {
	if frames < 2 {
		frames = 2
	}

	t := fmt.Sprintf("(on/%d)", frames-1)
	eased := fmt.Sprintf("if(lt(%s,0.5),4*pow(%s,3),1-pow(-2*%s+2,3)/2)", t, t, t)

	z := interpExpr(m.ZoomStart, m.ZoomEnd, eased)
	// Map a [-1,1] offset onto [0, max pan] with 0 centered.
	px := interpExpr(m.PanXStart, m.PanXEnd, eased)
	py := interpExpr(m.PanYStart, m.PanYEnd, eased)
	x := fmt.Sprintf("(iw-iw/zoom)*(1+%s)/2", px)
	y := fmt.Sprintf("(ih-ih/zoom)*(1+%s)/2", py)

	return fmt.Sprintf(
		"zoompan=z='%s':x='%s':y='%s':d=%d:s=%dx%d:fps=%d",
		z, x, y, frames, width, height, fps,
	)
}

func interpExpr(from, to float64, eased string) string {
	return fmt.Sprintf("(%.4f+%.4f*%s)", from, to-from, eased)
}
