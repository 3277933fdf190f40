package assembly

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestRenderTargetCrossesOrientationAndQuality(t *testing.T) {
	a, err := NewAssembler(DefaultConfig(t.TempDir()))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	tests := []struct {
		name          string
		opts          Options
		width, height int
		bitrate       string
	}{
		{"defaults", Options{}, 1280, 720, "4M"},
		{"standard widescreen", Options{Orientation: "widescreen", Quality: "standard"}, 1280, 720, "4M"},
		{"standard tall", Options{Orientation: "tall", Quality: "standard"}, 720, 1280, "4M"},
		{"high widescreen", Options{Orientation: "widescreen", Quality: "high"}, 1920, 1080, "8M"},
		{"high tall", Options{Orientation: "tall", Quality: "high"}, 1080, 1920, "8M"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, h, b := a.renderTarget(tt.opts)
			if w != tt.width || h != tt.height {
				t.Errorf("got %dx%d, want %dx%d", w, h, tt.width, tt.height)
			}
			if b != tt.bitrate {
				t.Errorf("got bitrate %s, want %s", b, tt.bitrate)
			}
		})
	}
}

func TestIsCodecError(t *testing.T) {
	codec := []error{
		errors.New("ffmpeg render clip failed: exit status 1: Unknown encoder 'aac'"),
		errors.New("ffmpeg render clip failed: exit status 1: Encoder not found"),
		errors.New("ffmpeg render clip failed: exit status 1: Error while opening encoder for output stream #0:1"),
		errors.New("ffmpeg render clip failed: exit status 1: Automatic encoder selection failed"),
	}
	for _, err := range codec {
		if !isCodecError(err) {
			t.Errorf("should flag encoder failure: %v", err)
		}
	}

	other := []error{
		nil,
		errors.New("ffmpeg render clip failed: exit status 1: No such file or directory"),
		errors.New("ffmpeg render clip failed: signal: killed"),
		errors.New("failed to write slide image: disk full"),
	}
	for _, err := range other {
		if isCodecError(err) {
			t.Errorf("should not flag as encoder failure: %v", err)
		}
	}
}

func TestNewAssemblerCreatesOutputDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out", "videos")
	if _, err := NewAssembler(DefaultConfig(dir)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		t.Fatalf("output dir not created: %v", err)
	}
}

func TestNewAssemblerReportsUnusableOutputDir(t *testing.T) {
	file := filepath.Join(t.TempDir(), "blocker")
	if err := os.WriteFile(file, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := NewAssembler(DefaultConfig(filepath.Join(file, "out"))); err == nil {
		t.Fatal("expected an error when the output dir cannot be created")
	}
}
