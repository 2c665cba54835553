// Package stream implements live microphone transcription over a rolling
// PCM buffer. Audio frames accumulate until a silence boundary or a length
// cap forces a transcription flush.
package stream

import (
	"context"
	"encoding/binary"
	"fmt"
	"os"
	"sync"

	"github.com/openscribe/scribed/pkg/engine"
	"github.com/openscribe/scribed/pkg/media"
	"github.com/openscribe/scribed/pkg/models"
	"github.com/openscribe/scribed/pkg/services"
)

// Input format: 16 kHz mono little-endian PCM16 frames.
const SampleRate = 16000

// Flush policy. A trailing second of near-silence after two seconds of
// speech closes an utterance; five seconds without a boundary forces a
// partial result so the client is never starved.
const (
	silenceWindowSeconds = 1.0
	silenceRMSThreshold  = 0.01
	minFinalSeconds      = 2.0
	maxBufferSeconds     = 5.0
)

// Result is one transcription flush. Every flush consumes the flushed
// audio; a partial result only signals that the utterance was cut by the
// buffer cap rather than a silence boundary.
type Result struct {
	Text    string  `json:"text"`
	IsFinal bool    `json:"is_final"`
	Start   float64 `json:"start"`
	End     float64 `json:"end"`
}

// Session is one live transcription stream. Not safe for concurrent use by
// multiple readers; the WebSocket handler serializes access.
type Session struct {
	models *services.ModelService
	loader *engine.Loader

	mu          sync.Mutex
	transcriber engine.Transcriber
	language    string
	samples     []float64
	offset      float64 // seconds of audio already finalized
}

// NewSession creates an unconfigured session. Configure must be called
// before audio is accepted.
func NewSession(modelSvc *services.ModelService, loader *engine.Loader) *Session {
	return &Session{models: modelSvc, loader: loader, language: "auto"}
}

// Configure selects the transcription model and language. Reconfiguring
// mid-stream keeps the buffered audio so no speech is lost across a model
// switch.
func (s *Session) Configure(ctx context.Context, modelID *string, language string) error {
	m, err := s.models.Resolve(ctx, modelID, models.ModelTypeSTT)
	if err != nil {
		return err
	}
	transcriber, err := s.loader.Transcriber(m)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.transcriber = transcriber
	if language != "" {
		s.language = language
	}
	return nil
}

// Configured reports whether a model has been selected.
func (s *Session) Configured() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transcriber != nil
}

// Clear empties the buffer without transcribing it.
func (s *Session) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.offset += float64(len(s.samples)) / SampleRate
	s.samples = s.samples[:0]
}

// BufferedSeconds returns the current buffer length in seconds.
func (s *Session) BufferedSeconds() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return float64(len(s.samples)) / SampleRate
}

// Append adds a PCM16 frame and flushes when the policy demands it.
// Returns nil when the buffer is still accumulating.
func (s *Session) Append(ctx context.Context, frame []byte) (*Result, error) {
	s.mu.Lock()
	if s.transcriber == nil {
		s.mu.Unlock()
		return nil, fmt.Errorf("session not configured")
	}
	s.appendPCM16(frame)
	final, flush := s.flushDecision()
	s.mu.Unlock()

	if !flush {
		return nil, nil
	}
	return s.Flush(ctx, final)
}

// Flush transcribes the buffered audio now. The flushed audio is consumed
// and the stream offset advances whether the result is final or partial.
func (s *Session) Flush(ctx context.Context, final bool) (*Result, error) {
	s.mu.Lock()
	if s.transcriber == nil {
		s.mu.Unlock()
		return nil, fmt.Errorf("session not configured")
	}
	if len(s.samples) == 0 {
		s.mu.Unlock()
		return nil, nil
	}
	samples := make([]float64, len(s.samples))
	copy(samples, s.samples)
	transcriber := s.transcriber
	language := s.language
	start := s.offset
	s.mu.Unlock()

	text, err := transcribeSamples(ctx, transcriber, samples, language)
	if err != nil {
		return nil, err
	}

	duration := float64(len(samples)) / SampleRate
	s.mu.Lock()
	// Only consume what was flushed; frames may have arrived meanwhile.
	if n := len(samples); n <= len(s.samples) {
		s.samples = s.samples[n:]
	} else {
		s.samples = s.samples[:0]
	}
	s.offset = start + duration
	s.mu.Unlock()

	return &Result{
		Text:    text,
		IsFinal: final,
		Start:   start,
		End:     start + duration,
	}, nil
}

// appendPCM16 decodes a little-endian PCM16 frame into the float buffer.
// Caller holds the lock.
func (s *Session) appendPCM16(frame []byte) {
	for i := 0; i+1 < len(frame); i += 2 {
		sample := int16(binary.LittleEndian.Uint16(frame[i:]))
		s.samples = append(s.samples, float64(sample)/32768)
	}
}

// flushDecision applies the flush policy. Caller holds the lock.
func (s *Session) flushDecision() (final, flush bool) {
	seconds := float64(len(s.samples)) / SampleRate

	if seconds > minFinalSeconds {
		window := int(silenceWindowSeconds * SampleRate)
		tail := s.samples[len(s.samples)-window:]
		if media.RMS(tail) < silenceRMSThreshold {
			return true, true
		}
	}
	if seconds > maxBufferSeconds {
		return false, true
	}
	return false, false
}

// transcribeSamples round-trips the buffer through a temp WAV file because
// the engine adapters operate on files.
func transcribeSamples(ctx context.Context, transcriber engine.Transcriber, samples []float64, language string) (string, error) {
	f, err := os.CreateTemp("", "stream-*.wav")
	if err != nil {
		return "", fmt.Errorf("failed to create stream buffer file: %w", err)
	}
	path := f.Name()
	f.Close()
	defer os.Remove(path)

	if err := media.WriteWAV(path, &media.WAV{SampleRate: SampleRate, Samples: samples}); err != nil {
		return "", err
	}

	result, err := transcriber.Transcribe(ctx, path, language, false, nil)
	if err != nil {
		return "", fmt.Errorf("stream transcription failed: %w", err)
	}

	text := ""
	for _, seg := range result.Segments {
		if seg.Text == "" {
			continue
		}
		if text != "" {
			text += " "
		}
		text += seg.Text
	}
	return text, nil
}
