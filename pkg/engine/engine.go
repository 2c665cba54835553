// Package engine abstracts the inference vendors behind three capability
// interfaces. Adapters wrap external CLI tools; loaded instances are kept in
// a process-wide cache with idle eviction.
package engine

import (
	"context"

	"github.com/openscribe/scribed/pkg/models"
)

// ProgressFunc reports stage progress as a fraction in [0, 1].
type ProgressFunc func(fraction float64)

// STTSegment is one transcribed interval.
type STTSegment struct {
	Start      float64
	End        float64
	Text       string
	Confidence float64
	Words      []models.Word
}

// STTResult is the output of a transcription run.
type STTResult struct {
	Segments         []STTSegment
	DetectedLanguage string
	Duration         float64
}

// Transcriber converts speech to text.
type Transcriber interface {
	// Transcribe processes the audio file. language is a code or "auto";
	// translate requests translation to English. progress may be nil.
	Transcribe(ctx context.Context, audioPath, language string, translate bool, progress ProgressFunc) (*STTResult, error)

	// Close releases model resources.
	Close() error
}

// Turn is one diarization interval.
type Turn struct {
	Start   float64
	End     float64
	Speaker string
}

// Diarizer labels who speaks when.
type Diarizer interface {
	Diarize(ctx context.Context, audioPath string) ([]Turn, error)
	Close() error
}

// Synthesizer converts text to speech, one segment per call.
type Synthesizer interface {
	Synthesize(ctx context.Context, text, language, outPath string) error
	Close() error
}

// Options carries process-level settings into adapter constructors.
type Options struct {
	Device      string
	ComputeType string
	// Threads pins the whisper thread count; zero lets the binary decide.
	Threads int
	HFToken string
}
