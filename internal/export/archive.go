// Package export bundles the generated assets into a downloadable zip so
// users can take scripts, images and narration into their own editor.
package export

import (
	"archive/zip"
	"fmt"
	"io"
	"strings"

	"github.com/norell/slidecast/internal/audio"
	"github.com/norell/slidecast/internal/models"
)

// WriteArchive streams a zip of every scene's assets to w. Each scene gets a
// zero-padded directory (scene_001/, scene_002/, ...) holding its script,
// its prompts, whatever images are filled and its narration as WAV. Scenes
// missing an asset simply omit that entry.
func WriteArchive(w io.Writer, scns []models.Scene) error {
	zw := zip.NewWriter(w)

	for _, sc := range scns {
		dir := fmt.Sprintf("scene_%03d", sc.ID)

		if err := writeEntry(zw, dir+"/story.txt", []byte(sc.Description)); err != nil {
			return err
		}
		if len(sc.Prompts) > 0 {
			prompts := strings.Join(sc.Prompts, "\n\n")
			if err := writeEntry(zw, dir+"/prompts.txt", []byte(prompts)); err != nil {
				return err
			}
		}
		for i, img := range sc.Images {
			if !img.Filled() {
				continue
			}
			name := fmt.Sprintf("%s/image_%02d%s", dir, i+1, imageExt(img.MimeType))
			if err := writeEntry(zw, name, img.Data); err != nil {
				return err
			}
		}
		if sc.HasAudio() {
			if err := writeEntry(zw, dir+"/narration.wav", audio.WrapWAV(sc.Audio)); err != nil {
				return err
			}
		}
	}

	if err := zw.Close(); err != nil {
		return fmt.Errorf("failed to finalize archive: %w", err)
	}
	return nil
}

func writeEntry(zw *zip.Writer, name string, data []byte) error {
	f, err := zw.Create(name)
	if err != nil {
		return fmt.Errorf("failed to create archive entry %s: %w", name, err)
	}
	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("failed to write archive entry %s: %w", name, err)
	}
	return nil
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
