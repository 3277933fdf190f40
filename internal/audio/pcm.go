// Package audio handles the raw speech output from the TTS backend: 24 kHz
// mono 16-bit little-endian linear PCM. Slide timing is derived from sample
// counts here, and the assembler gets WAV-wrapped bytes it can feed to
// ffmpeg.
package audio

import (
	"encoding/binary"
	"fmt"
)

// SampleRate is the fixed output rate of the speech backend.
const SampleRate = 24000

const bytesPerSample = 2

// Buffer is a decoded narration clip.
type Buffer struct {
	Samples []float64
}

// Decode converts raw 16-bit signed little-endian mono PCM into normalized
// samples in [-1.0, 1.0). A trailing odd byte means the payload is corrupt.
func Decode(pcm []byte) (*Buffer, error) {
	if len(pcm)%bytesPerSample != 0 {
		return nil, fmt.Errorf("pcm payload has odd length %d", len(pcm))
	}
	samples := make([]float64, len(pcm)/bytesPerSample)
	for i := range samples {
		v := int16(binary.LittleEndian.Uint16(pcm[i*bytesPerSample:]))
		samples[i] = float64(v) / 32768.0
	}
	return &Buffer{Samples: samples}, nil
}

func (b *Buffer) SampleCount() int {
	return len(b.Samples)
}

// Duration is the clip length in seconds at the fixed sample rate.
func (b *Buffer) Duration() float64 {
	return float64(len(b.Samples)) / SampleRate
}

// DurationOf reports the play length of a raw PCM payload without decoding
// the samples.
func DurationOf(pcm []byte) float64 {
	return float64(len(pcm)/bytesPerSample) / SampleRate
}

// WrapWAV prefixes raw PCM with a RIFF/WAVE header so ffmpeg can read it
// from disk without -f s16le hints.
func WrapWAV(pcm []byte) []byte {
	const headerSize = 44
	dataLen := len(pcm)
	byteRate := SampleRate * bytesPerSample

	buf := make([]byte, headerSize+dataLen)
	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(36+dataLen))
	copy(buf[8:12], "WAVE")
	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16) // PCM chunk size
	binary.LittleEndian.PutUint16(buf[20:22], 1)  // linear PCM
	binary.LittleEndian.PutUint16(buf[22:24], 1)  // mono
	binary.LittleEndian.PutUint32(buf[24:28], SampleRate)
	binary.LittleEndian.PutUint32(buf[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(buf[32:34], bytesPerSample)
	binary.LittleEndian.PutUint16(buf[34:36], 16) // bits per sample
	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(dataLen))
	copy(buf[headerSize:], pcm)
	return buf
}
