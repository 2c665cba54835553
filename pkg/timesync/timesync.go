// Package timesync re-aligns synthesized speech onto the original media
// timeline. Each synthesized segment is time-stretched to match its
// transcript interval, then written into a silent buffer of the original
// duration at its exact start offset.
package timesync

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"os"

	"github.com/openscribe/scribed/pkg/media"
)

// CanonicalSampleRate is the output rate when nothing constrains it.
const CanonicalSampleRate = 22050

// Stretch ratio bounds. A ratio outside these produces badly degraded
// speech, so the stretch is clamped and overlap is tolerated instead.
const (
	MinStretchRatio = 0.25
	MaxStretchRatio = 4.0
)

// Segment pairs a synthesized audio file with its transcript interval.
type Segment struct {
	Path  string
	Start float64
	End   float64
}

// ClampRatio bounds a stretch ratio to [MinStretchRatio, MaxStretchRatio].
func ClampRatio(ratio float64) float64 {
	return math.Max(MinStretchRatio, math.Min(MaxStretchRatio, ratio))
}

// Engine runs the timing-sync pass. The zero value is not usable; construct
// with NewEngine.
type Engine struct {
	sampleRate int
}

// NewEngine creates an engine producing output at the canonical sample rate.
func NewEngine() *Engine {
	return &Engine{sampleRate: CanonicalSampleRate}
}

// Sync stretches each segment to its transcript interval, composes the
// timeline-aligned track and writes it to outPath. totalDuration is the
// original media duration in seconds. Returns the paths of the intermediate
// stretched segment files.
func (e *Engine) Sync(ctx context.Context, segments []Segment, totalDuration float64, outPath string) ([]string, error) {
	type placed struct {
		wav   *media.WAV
		start float64
	}

	var stretched []string
	var placements []placed

	for _, seg := range segments {
		if err := ctx.Err(); err != nil {
			return stretched, err
		}

		if _, err := os.Stat(seg.Path); err != nil {
			slog.Warn("Skipping missing synthesized segment", "path", seg.Path)
			continue
		}

		ttsDuration, err := media.ProbeDuration(ctx, seg.Path)
		if err != nil {
			return stretched, fmt.Errorf("failed to probe segment duration: %w", err)
		}
		if ttsDuration <= 0 {
			continue
		}

		ratio := ClampRatio((seg.End - seg.Start) / ttsDuration)
		syncedPath := syncedName(seg.Path)
		if err := media.TimeStretch(ctx, seg.Path, syncedPath, ratio); err != nil {
			return stretched, fmt.Errorf("failed to stretch segment: %w", err)
		}
		stretched = append(stretched, syncedPath)

		wav, err := media.ReadWAV(syncedPath)
		if err != nil {
			return stretched, fmt.Errorf("failed to read stretched segment: %w", err)
		}
		placements = append(placements, placed{wav: wav, start: seg.Start})
	}

	buffer := make([]float64, int(math.Round(totalDuration*float64(e.sampleRate))))
	for _, p := range placements {
		Place(buffer, p.wav.Samples, p.wav.SampleRate, e.sampleRate, p.start)
	}

	if err := media.WriteWAV(outPath, &media.WAV{SampleRate: e.sampleRate, Samples: buffer}); err != nil {
		return stretched, fmt.Errorf("failed to write synced track: %w", err)
	}
	return stretched, nil
}

// SampleRate returns the engine's output sample rate.
func (e *Engine) SampleRate() int {
	return e.sampleRate
}

// Place writes samples into buffer starting at round(start*bufferRate),
// resampling linearly when rates differ. Writes past the buffer end are
// truncated; overlapping writes overwrite, so the later segment wins.
func Place(buffer []float64, samples []float64, sampleRate, bufferRate int, start float64) {
	resampled := media.ResampleLinear(samples, sampleRate, bufferRate)
	offset := int(math.Round(start * float64(bufferRate)))
	for i, s := range resampled {
		idx := offset + i
		if idx < 0 {
			continue
		}
		if idx >= len(buffer) {
			break
		}
		buffer[idx] = s
	}
}

func syncedName(path string) string {
	ext := ".wav"
	base := path
	if n := len(path) - len(ext); n > 0 && path[n:] == ext {
		base = path[:n]
	}
	return base + "_synced" + ext
}
