package audio

import (
	"encoding/binary"
	"math"
	"testing"
)

func TestDecodeNormalizesSamples(t *testing.T) {
	// -32768, -1, 0, 1, 32767 as little-endian int16
	values := []int16{-32768, -1, 0, 1, 32767}
	pcm := make([]byte, len(values)*2)
	for i, v := range values {
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(v))
	}

	buf, err := Decode(pcm)
	if err != nil {
		t.Fatal(err)
	}
	if buf.SampleCount() != len(values) {
		t.Fatalf("expected %d samples, got %d", len(values), buf.SampleCount())
	}

	want := []float64{-1.0, -1.0 / 32768.0, 0, 1.0 / 32768.0, 32767.0 / 32768.0}
	for i, w := range want {
		if math.Abs(buf.Samples[i]-w) > 1e-12 {
			t.Errorf("sample %d: got %v, want %v", i, buf.Samples[i], w)
		}
	}
	for i, s := range buf.Samples {
		if s < -1.0 || s >= 1.0 {
			t.Errorf("sample %d out of [-1,1): %v", i, s)
		}
	}
}

func TestDecodeRejectsOddLength(t *testing.T) {
	if _, err := Decode([]byte{1, 2, 3}); err == nil {
		t.Error("expected error for odd-length payload")
	}
}

func TestDurationFromSampleCount(t *testing.T) {
	// 36000 samples at 24 kHz is exactly 1.5 seconds.
	pcm := make([]byte, 36000*2)
	buf, err := Decode(pcm)
	if err != nil {
		t.Fatal(err)
	}
	if got := buf.Duration(); got != 1.5 {
		t.Errorf("duration: got %v, want 1.5", got)
	}
	if got := DurationOf(pcm); got != 1.5 {
		t.Errorf("DurationOf: got %v, want 1.5", got)
	}
}

func TestWrapWAVHeader(t *testing.T) {
	pcm := make([]byte, 1000)
	wav := WrapWAV(pcm)

	if len(wav) != 44+len(pcm) {
		t.Fatalf("expected %d bytes, got %d", 44+len(pcm), len(wav))
	}
	if string(wav[0:4]) != "RIFF" || string(wav[8:12]) != "WAVE" {
		t.Error("missing RIFF/WAVE magic")
	}
	if rate := binary.LittleEndian.Uint32(wav[24:28]); rate != SampleRate {
		t.Errorf("sample rate: got %d, want %d", rate, SampleRate)
	}
	if ch := binary.LittleEndian.Uint16(wav[22:24]); ch != 1 {
		t.Errorf("channels: got %d, want 1", ch)
	}
	if bits := binary.LittleEndian.Uint16(wav[34:36]); bits != 16 {
		t.Errorf("bits per sample: got %d, want 16", bits)
	}
	if dataLen := binary.LittleEndian.Uint32(wav[40:44]); dataLen != uint32(len(pcm)) {
		t.Errorf("data length: got %d, want %d", dataLen, len(pcm))
	}
}
