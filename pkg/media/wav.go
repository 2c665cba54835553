// Package media wraps WAV file IO and the external ffmpeg toolchain.
package media

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"os"
)

// WAV holds mono PCM samples normalized to [-1, 1].
type WAV struct {
	SampleRate int
	Samples    []float64
}

// Duration returns the audio length in seconds.
func (w *WAV) Duration() float64 {
	if w.SampleRate == 0 {
		return 0
	}
	return float64(len(w.Samples)) / float64(w.SampleRate)
}

// ReadWAV decodes a PCM16 WAV file. Multi-channel input is downmixed to
// mono by averaging.
func ReadWAV(path string) (*WAV, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read wav file: %w", err)
	}
	return DecodeWAV(data)
}

// DecodeWAV decodes PCM16 WAV bytes.
func DecodeWAV(data []byte) (*WAV, error) {
	if len(data) < 44 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return nil, fmt.Errorf("not a RIFF/WAVE file")
	}

	var (
		sampleRate    int
		numChannels   int
		bitsPerSample int
		pcm           []byte
	)

	// Walk chunks; fmt must precede data.
	offset := 12
	for offset+8 <= len(data) {
		chunkID := string(data[offset : offset+4])
		chunkSize := int(binary.LittleEndian.Uint32(data[offset+4 : offset+8]))
		body := offset + 8
		if body+chunkSize > len(data) {
			chunkSize = len(data) - body
		}
		switch chunkID {
		case "fmt ":
			if chunkSize < 16 {
				return nil, fmt.Errorf("truncated fmt chunk")
			}
			audioFormat := int(binary.LittleEndian.Uint16(data[body : body+2]))
			if audioFormat != 1 {
				return nil, fmt.Errorf("unsupported wav encoding %d (want PCM)", audioFormat)
			}
			numChannels = int(binary.LittleEndian.Uint16(data[body+2 : body+4]))
			sampleRate = int(binary.LittleEndian.Uint32(data[body+4 : body+8]))
			bitsPerSample = int(binary.LittleEndian.Uint16(data[body+14 : body+16]))
		case "data":
			pcm = data[body : body+chunkSize]
		}
		// Chunks are word-aligned.
		offset = body + chunkSize
		if chunkSize%2 == 1 {
			offset++
		}
	}

	if sampleRate == 0 || pcm == nil {
		return nil, fmt.Errorf("missing fmt or data chunk")
	}
	if bitsPerSample != 16 {
		return nil, fmt.Errorf("unsupported sample width %d bits (want 16)", bitsPerSample)
	}
	if numChannels < 1 {
		return nil, fmt.Errorf("invalid channel count %d", numChannels)
	}

	frameCount := len(pcm) / (2 * numChannels)
	samples := make([]float64, frameCount)
	for i := 0; i < frameCount; i++ {
		var sum float64
		for ch := 0; ch < numChannels; ch++ {
			off := (i*numChannels + ch) * 2
			sum += float64(int16(binary.LittleEndian.Uint16(pcm[off:off+2]))) / 32768.0
		}
		samples[i] = sum / float64(numChannels)
	}

	return &WAV{SampleRate: sampleRate, Samples: samples}, nil
}

// WriteWAV encodes mono PCM16 and writes it to path.
func WriteWAV(path string, w *WAV) error {
	data, err := EncodeWAV(w)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write wav file: %w", err)
	}
	return nil
}

// EncodeWAV encodes mono samples as a PCM16 WAV byte stream. Samples are
// clipped to [-1, 1].
func EncodeWAV(w *WAV) ([]byte, error) {
	if w.SampleRate <= 0 {
		return nil, fmt.Errorf("invalid sample rate %d", w.SampleRate)
	}

	dataSize := len(w.Samples) * 2
	var buf bytes.Buffer
	buf.Grow(44 + dataSize)

	buf.WriteString("RIFF")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(36+dataSize))
	buf.WriteString("WAVE")

	buf.WriteString("fmt ")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(16))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(1)) // PCM
	_ = binary.Write(&buf, binary.LittleEndian, uint16(1)) // mono
	_ = binary.Write(&buf, binary.LittleEndian, uint32(w.SampleRate))
	_ = binary.Write(&buf, binary.LittleEndian, uint32(w.SampleRate*2)) // byte rate
	_ = binary.Write(&buf, binary.LittleEndian, uint16(2))              // block align
	_ = binary.Write(&buf, binary.LittleEndian, uint16(16))             // bits per sample

	buf.WriteString("data")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(dataSize))
	for _, s := range w.Samples {
		clipped := math.Max(-1, math.Min(1, s))
		_ = binary.Write(&buf, binary.LittleEndian, int16(clipped*32767))
	}

	return buf.Bytes(), nil
}

// ResampleLinear converts samples from one rate to another with linear
// interpolation. Returns the input unchanged when the rates match.
func ResampleLinear(samples []float64, fromRate, toRate int) []float64 {
	if fromRate == toRate || fromRate <= 0 || toRate <= 0 || len(samples) == 0 {
		return samples
	}
	ratio := float64(toRate) / float64(fromRate)
	outLen := int(float64(len(samples)) * ratio)
	out := make([]float64, outLen)
	for i := range out {
		pos := float64(i) / ratio
		idx := int(pos)
		if idx >= len(samples)-1 {
			out[i] = samples[len(samples)-1]
			continue
		}
		frac := pos - float64(idx)
		out[i] = samples[idx]*(1-frac) + samples[idx+1]*frac
	}
	return out
}

// RMS computes the root-mean-square energy of the samples.
func RMS(samples []float64) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += s * s
	}
	return math.Sqrt(sum / float64(len(samples)))
}
