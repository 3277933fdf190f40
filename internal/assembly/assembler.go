// Package assembly renders the finished slideshow: each image becomes a
// timed clip (optionally with an eased pan/zoom camera move), clips are
// concatenated, and narration audio drives the timing. All rendering shells
// out to ffmpeg.
package assembly

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"math/rand"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/norell/slidecast/internal/audio"
	"github.com/norell/slidecast/internal/models"
	"github.com/norell/slidecast/internal/services"
)

const videoSuffix = "_slidecast.mp4"

type Config struct {
	OutputDir            string
	FPS                  int
	DefaultSlideDuration float64 // seconds, for slides without narration
	ZoomNear             float64
	ZoomFar              float64
	StandardHeight       int    // short edge of the standard quality tier
	HighHeight           int    // short edge of the high quality tier
	StandardBitrate      string // fixed -b:v target for the standard tier
	HighBitrate          string // fixed -b:v target for the high tier
}

func DefaultConfig(outputDir string) Config {
	return Config{
		OutputDir:            outputDir,
		FPS:                  30,
		DefaultSlideDuration: 4.0,
		ZoomNear:             1.0,
		ZoomFar:              1.15,
		StandardHeight:       720,
		HighHeight:           1080,
		StandardBitrate:      "4M",
		HighBitrate:          "8M",
	}
}

// Options are the per-render knobs a caller can set.
type Options struct {
	Orientation string // "widescreen" (default) or "tall"
	Quality     string // "standard" (default) or "high"
	Animate     bool
}

type Assembler struct {
	cfg Config
	rng *rand.Rand
}

func NewAssembler(cfg Config) (*Assembler, error) {
	if err := os.MkdirAll(cfg.OutputDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output dir: %w", err)
	}
	return &Assembler{
		cfg: cfg,
		rng: rand.New(rand.NewSource(time.Now().UnixNano())),
	}, nil
}

// Assemble renders the slides into a single mp4 named after the topic and
// returns its path. If the audio encoder itself is unavailable, the render
// is retried without audio before the whole operation is reported as failed.
// Nothing partial is left behind on failure: all intermediates live in a
// temp dir that is removed either way.
func (a *Assembler) Assemble(ctx context.Context, topic string, slides []models.Slide, opts Options) (string, error) {
	if len(slides) == 0 {
		return "", services.NewGenError(services.KindAssemblyFailure, "no slides to assemble: generate images first")
	}

	width, height, bitrate := a.renderTarget(opts)

	withAudio := false
	for _, s := range slides {
		if len(s.AudioPCM) > 0 {
			withAudio = true
			break
		}
	}

	out, err := a.render(ctx, topic, slides, opts, width, height, bitrate, withAudio)
	if err != nil && withAudio && isCodecError(err) {
		log.Printf("[Assembler] Audio encoder unavailable, retrying video-only: %v", err)
		out, err = a.render(ctx, topic, slides, opts, width, height, bitrate, false)
	}
	if err != nil {
		return "", services.WrapGenError(services.KindAssemblyFailure, err, "video assembly failed")
	}
	return out, nil
}

// renderTarget resolves the output geometry and bitrate: the quality tier
// picks the resolution pair and its fixed bitrate, the orientation picks
// which edge is the long one.
func (a *Assembler) renderTarget(opts Options) (width, height int, bitrate string) {
	short, bitrate := a.cfg.StandardHeight, a.cfg.StandardBitrate
	if opts.Quality == "high" {
		short, bitrate = a.cfg.HighHeight, a.cfg.HighBitrate
	}
	long := short * 16 / 9
	if opts.Orientation == "tall" {
		return short, long, bitrate
	}
	return long, short, bitrate
}

// isCodecError reports whether an ffmpeg failure points at a missing or
// unopenable encoder, the one case worth retrying without the audio track.
func isCodecError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unknown encoder") ||
		strings.Contains(msg, "encoder not found") ||
		strings.Contains(msg, "error while opening encoder") ||
		strings.Contains(msg, "automatic encoder selection failed")
}

func (a *Assembler) render(ctx context.Context, topic string, slides []models.Slide, opts Options, width, height int, bitrate string, withAudio bool) (string, error) {
	tempDir, err := os.MkdirTemp("", "slidecast-render-")
	if err != nil {
		return "", fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer os.RemoveAll(tempDir)

	log.Printf("[Assembler] Rendering %d slides (%dx%d, audio=%v, animate=%v)",
		len(slides), width, height, withAudio, opts.Animate)

	clipPaths := make([]string, 0, len(slides))
	for i, slide := range slides {
		imgPath := filepath.Join(tempDir, fmt.Sprintf("slide_%03d%s", i, imageExt(slide.ImageMime)))
		if err := os.WriteFile(imgPath, slide.ImageData, 0644); err != nil {
			return "", fmt.Errorf("failed to write slide image: %w", err)
		}

		audioPath := ""
		if withAudio && len(slide.AudioPCM) > 0 {
			audioPath = filepath.Join(tempDir, fmt.Sprintf("slide_%03d.wav", i))
			if err := os.WriteFile(audioPath, audio.WrapWAV(slide.AudioPCM), 0644); err != nil {
				return "", fmt.Errorf("failed to write slide audio: %w", err)
			}
		}

		clipPath := filepath.Join(tempDir, fmt.Sprintf("clip_%03d.mp4", i))
		if err := a.renderClip(ctx, imgPath, audioPath, clipPath, slide.Duration, opts, width, height, bitrate, withAudio); err != nil {
			return "", fmt.Errorf("clip %d: %w", i, err)
		}
		clipPaths = append(clipPaths, clipPath)
	}

	concatPath := filepath.Join(tempDir, "combined.mp4")
	if err := a.concatenate(ctx, tempDir, clipPaths, concatPath); err != nil {
		return "", err
	}

	outPath := filepath.Join(a.cfg.OutputDir, VideoFileName(topic))
	if err := copyFile(concatPath, outPath); err != nil {
		return "", fmt.Errorf("failed to place output video: %w", err)
	}
	log.Printf("[Assembler] Wrote %s", outPath)
	return outPath, nil
}

// renderClip turns one still into a timed clip. With Animate set the image
// gets a randomized eased pan/zoom, otherwise it is scaled and cropped to
// fill the frame and held static.
func (a *Assembler) renderClip(ctx context.Context, imgPath, audioPath, outPath string, duration float64, opts Options, width, height int, bitrate string, withAudio bool) error {
	if duration <= 0 {
		duration = a.cfg.DefaultSlideDuration
	}
	frames := int(duration*float64(a.cfg.FPS) + 0.5)
	if frames < 2 {
		frames = 2
	}

	var vf string
	if opts.Animate {
		motion := RandomMotion(a.rng, a.cfg.ZoomNear, a.cfg.ZoomFar)
		// Upscale before zoompan so the crop window always has pixels to
		// spare at maximum zoom.
		vf = fmt.Sprintf("scale=%d:%d:force_original_aspect_ratio=increase,crop=%d:%d,%s,format=yuv420p",
			width*2, height*2, width*2, height*2,
			motion.ZoompanFilter(frames, width, height, a.cfg.FPS))
	} else {
		vf = fmt.Sprintf("scale=%d:%d:force_original_aspect_ratio=increase,crop=%d:%d,fps=%d,format=yuv420p",
			width, height, width, height, a.cfg.FPS)
	}

	args := []string{"-loop", "1", "-i", imgPath}
	switch {
	case audioPath != "":
		args = append(args, "-i", audioPath)
	case withAudio:
		// Concat with stream copy needs every clip to carry the same
		// streams, so audioless slides get silence.
		args = append(args, "-f", "lavfi", "-i", fmt.Sprintf("anullsrc=r=%d:cl=mono", audio.SampleRate))
	}

	args = append(args,
		"-vf", vf,
		"-t", fmt.Sprintf("%.3f", duration),
		"-c:v", "libx264",
		"-b:v", bitrate,
		"-pix_fmt", "yuv420p",
	)
	if audioPath != "" || withAudio {
		args = append(args, "-c:a", "aac", "-b:a", "192k")
	} else {
		args = append(args, "-an")
	}
	args = append(args, "-y", outPath)

	// ffmpeg reports everything on stderr; keep a copy so failures carry
	// the actual reason up to the caller.
	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, "ffmpeg", args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = io.MultiWriter(os.Stderr, &stderr)

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("ffmpeg render clip failed: %w: %s", err, logTail(stderr.String()))
	}
	return nil
}

func logTail(s string) string {
	const max = 500
	s = strings.TrimSpace(s)
	if len(s) <= max {
		return s
	}
	return "..." + s[len(s)-max:]
}

func (a *Assembler) concatenate(ctx context.Context, tempDir string, clipPaths []string, outPath string) error {
	listPath := filepath.Join(tempDir, "concat_list.txt")
	var list strings.Builder
	for _, p := range clipPaths {
		fmt.Fprintf(&list, "file '%s'\n", p)
	}
	if err := os.WriteFile(listPath, []byte(list.String()), 0644); err != nil {
		return fmt.Errorf("failed to write concat list: %w", err)
	}

	args := []string{
		"-f", "concat",
		"-safe", "0",
		"-i", listPath,
		"-c", "copy",
		"-y",
		outPath,
	}

	cmd := exec.CommandContext(ctx, "ffmpeg", args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("ffmpeg concatenate failed: %w", err)
	}
	return nil
}

// VideoFileName derives the output filename from the topic: whitespace runs
// collapse to single underscores and the fixed suffix is appended.
func VideoFileName(topic string) string {
	base := strings.Join(strings.Fields(topic), "_")
	if base == "" {
		base = "untitled"
	}
	return base + videoSuffix
}

func imageExt(mimeType string) string {
	switch mimeType {
	case "image/jpeg":
		return ".jpg"
	case "image/webp":
		return ".webp"
	default:
		return ".png"
	}
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return err
	}
	return out.Close()
}
