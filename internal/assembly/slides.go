package assembly

import (
	"github.com/norell/slidecast/internal/audio"
	"github.com/norell/slidecast/internal/models"
)

// BuildSlides flattens the scene collection into the ordered slide list the
// renderer consumes: scenes in narrative order, filled image slots in slot
// order within each scene. Unfilled slots are skipped. A scene's narration
// is attached to its first slide, and that slide's duration comes from the
// audio; every other slide gets the default duration.
func BuildSlides(scns []models.Scene, defaultDuration float64) []models.Slide {
	var slides []models.Slide
	for _, sc := range scns {
		audioPending := sc.HasAudio()
		for _, img := range sc.Images {
			if !img.Filled() {
				continue
			}
			slide := models.Slide{
				ImageData: img.Data,
				ImageMime: img.MimeType,
				Duration:  defaultDuration,
			}
			if audioPending {
				slide.AudioPCM = sc.Audio
				slide.Duration = audio.DurationOf(sc.Audio)
				audioPending = false
			}
			slides = append(slides, slide)
		}
	}
	return slides
}
