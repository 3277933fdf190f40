package export

import (
	"archive/zip"
	"bytes"
	"io"
	"testing"

	"github.com/norell/slidecast/internal/models"
)

func readArchive(t *testing.T, scns []models.Scene) map[string][]byte {
	t.Helper()
	var buf bytes.Buffer
	if err := WriteArchive(&buf, scns); err != nil {
		t.Fatal(err)
	}

	zr, err := zip.NewReader(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	if err != nil {
		t.Fatal(err)
	}

	entries := map[string][]byte{}
	for _, f := range zr.File {
		rc, err := f.Open()
		if err != nil {
			t.Fatal(err)
		}
		data, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			t.Fatal(err)
		}
		entries[f.Name] = data
	}
	return entries
}

func TestWriteArchiveLaysOutScenes(t *testing.T) {
	scns := []models.Scene{
		{
			ID:          1,
			Description: "A storm rolls in.",
			Prompts:     []string{"dark clouds", "lightning over hills"},
			Images: []models.ImageSlot{
				{Data: []byte{0x89, 0x50}, MimeType: "image/png"},
				{Data: []byte{0xFF, 0xD8}, MimeType: "image/jpeg"},
			},
			Audio: make([]byte, 4800),
		},
		{
			ID:          12,
			Description: "Calm returns.",
		},
	}

	entries := readArchive(t, scns)

	if string(entries["scene_001/story.txt"]) != "A storm rolls in." {
		t.Error("scene 1 story missing or wrong")
	}
	if string(entries["scene_001/prompts.txt"]) != "dark clouds\n\nlightning over hills" {
		t.Error("scene 1 prompts missing or wrong")
	}
	if _, ok := entries["scene_001/image_01.png"]; !ok {
		t.Error("png entry missing")
	}
	if _, ok := entries["scene_001/image_02.jpg"]; !ok {
		t.Error("jpg entry missing")
	}
	wav := entries["scene_001/narration.wav"]
	if len(wav) != 44+4800 {
		t.Errorf("narration.wav length: got %d, want %d", len(wav), 44+4800)
	}

	// Scene IDs are zero-padded to three digits.
	if _, ok := entries["scene_012/story.txt"]; !ok {
		t.Error("zero-padded scene directory missing")
	}
	// A scene without prompts/images/audio only exports its story.
	for name := range entries {
		if name != "scene_012/story.txt" && len(name) > 9 && name[:9] == "scene_012" {
			t.Errorf("unexpected entry %s for bare scene", name)
		}
	}
}

func TestWriteArchiveSkipsEmptySlots(t *testing.T) {
	scns := []models.Scene{{
		ID:          1,
		Description: "one",
		Prompts:     []string{"p1", "p2"},
		Images: []models.ImageSlot{
			{},
			{Data: []byte{1}, MimeType: "image/png"},
		},
	}}

	entries := readArchive(t, scns)
	if _, ok := entries["scene_001/image_01.png"]; ok {
		t.Error("empty slot should not be exported")
	}
	if _, ok := entries["scene_001/image_02.png"]; !ok {
		t.Error("filled slot should keep its slot-based name")
	}
}
