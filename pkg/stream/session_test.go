package stream

import (
	"context"
	"encoding/binary"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openscribe/scribed/pkg/engine"
)

// fakeTranscriber returns a fixed text and records how often it ran.
type fakeTranscriber struct {
	text  string
	calls int
	err   error
}

func (f *fakeTranscriber) Transcribe(ctx context.Context, audioPath, language string, translate bool, progress engine.ProgressFunc) (*engine.STTResult, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &engine.STTResult{
		Segments: []engine.STTSegment{{Start: 0, End: 1, Text: f.text}},
	}, nil
}

func (f *fakeTranscriber) Close() error { return nil }

func newTestSession(text string) (*Session, *fakeTranscriber) {
	ft := &fakeTranscriber{text: text}
	s := NewSession(nil, nil)
	s.transcriber = ft
	return s, ft
}

// pcmFrame builds a little-endian PCM16 frame of the given length in seconds.
// amplitude 0 produces silence.
func pcmFrame(seconds, amplitude float64) []byte {
	n := int(seconds * SampleRate)
	frame := make([]byte, 0, n*2)
	for i := 0; i < n; i++ {
		v := amplitude * math.Sin(2*math.Pi*200*float64(i)/SampleRate)
		frame = binary.LittleEndian.AppendUint16(frame, uint16(int16(v*32767)))
	}
	return frame
}

func TestAppendRequiresConfiguration(t *testing.T) {
	s := NewSession(nil, nil)
	_, err := s.Append(context.Background(), pcmFrame(0.1, 0.5))
	assert.ErrorContains(t, err, "not configured")
	assert.False(t, s.Configured())
}

func TestAppendAccumulatesBelowThresholds(t *testing.T) {
	s, ft := newTestSession("hello")

	result, err := s.Append(context.Background(), pcmFrame(1.0, 0.5))
	require.NoError(t, err)
	assert.Nil(t, result, "one second of speech must not flush")
	assert.Equal(t, 0, ft.calls)
	assert.InDelta(t, 1.0, s.BufferedSeconds(), 1e-6)
}

func TestSilenceAfterSpeechProducesFinal(t *testing.T) {
	s, _ := newTestSession("hello world")

	// 2.5s of speech then 1s of silence crosses both the minimum length
	// and the trailing-silence boundary.
	_, err := s.Append(context.Background(), pcmFrame(2.5, 0.5))
	require.NoError(t, err)
	result, err := s.Append(context.Background(), pcmFrame(1.0, 0))
	require.NoError(t, err)

	require.NotNil(t, result)
	assert.True(t, result.IsFinal)
	assert.Equal(t, "hello world", result.Text)
	assert.InDelta(t, 0.0, result.Start, 1e-6)
	assert.InDelta(t, 3.5, result.End, 1e-6)

	// Final flush consumes the buffer and advances the offset.
	assert.InDelta(t, 0.0, s.BufferedSeconds(), 1e-6)
}

func TestLongSpeechProducesPartial(t *testing.T) {
	s, _ := newTestSession("still talking")

	_, err := s.Append(context.Background(), pcmFrame(3.0, 0.5))
	require.NoError(t, err)
	result, err := s.Append(context.Background(), pcmFrame(2.5, 0.5))
	require.NoError(t, err)

	require.NotNil(t, result)
	assert.False(t, result.IsFinal)
	assert.Equal(t, "still talking", result.Text)
	assert.InDelta(t, 5.5, result.End, 1e-6)

	// Partial flushes consume the buffer just like final ones.
	assert.InDelta(t, 0.0, s.BufferedSeconds(), 1e-6)
}

func TestPartialFlushDoesNotRetranscribe(t *testing.T) {
	s, ft := newTestSession("long monologue")

	result, err := s.Append(context.Background(), pcmFrame(5.1, 0.5))
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.False(t, result.IsFinal)
	assert.Equal(t, 1, ft.calls)

	// Frames after the forced partial accumulate from an empty buffer; the
	// already-flushed audio is never transcribed again.
	for i := 0; i < 2; i++ {
		next, err := s.Append(context.Background(), pcmFrame(0.05, 0.5))
		require.NoError(t, err)
		assert.Nil(t, next)
	}
	assert.Equal(t, 1, ft.calls)
	assert.InDelta(t, 0.1, s.BufferedSeconds(), 1e-6)

	// The next utterance starts where the partial ended.
	_, err = s.Append(context.Background(), pcmFrame(2.5, 0.5))
	require.NoError(t, err)
	final, err := s.Append(context.Background(), pcmFrame(1.0, 0))
	require.NoError(t, err)
	require.NotNil(t, final)
	assert.True(t, final.IsFinal)
	assert.InDelta(t, result.End, final.Start, 1e-6)
}

func TestOffsetAdvancesAcrossUtterances(t *testing.T) {
	s, _ := newTestSession("first")

	_, err := s.Append(context.Background(), pcmFrame(2.5, 0.5))
	require.NoError(t, err)
	first, err := s.Append(context.Background(), pcmFrame(1.0, 0))
	require.NoError(t, err)
	require.NotNil(t, first)
	require.True(t, first.IsFinal)

	// Second utterance starts where the first ended.
	_, err = s.Append(context.Background(), pcmFrame(2.5, 0.5))
	require.NoError(t, err)
	second, err := s.Append(context.Background(), pcmFrame(1.0, 0))
	require.NoError(t, err)

	require.NotNil(t, second)
	assert.InDelta(t, first.End, second.Start, 1e-6)
}

func TestClearAdvancesOffsetWithoutTranscribing(t *testing.T) {
	s, ft := newTestSession("discarded")

	_, err := s.Append(context.Background(), pcmFrame(1.5, 0.5))
	require.NoError(t, err)
	s.Clear()

	assert.Equal(t, 0, ft.calls)
	assert.InDelta(t, 0.0, s.BufferedSeconds(), 1e-6)

	// Audio after a clear is timestamped past the discarded stretch.
	_, err = s.Append(context.Background(), pcmFrame(2.5, 0.5))
	require.NoError(t, err)
	result, err := s.Append(context.Background(), pcmFrame(1.0, 0))
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.InDelta(t, 1.5, result.Start, 1e-6)
}

func TestExplicitFlushEmptyBuffer(t *testing.T) {
	s, ft := newTestSession("nothing")

	result, err := s.Flush(context.Background(), true)
	require.NoError(t, err)
	assert.Nil(t, result)
	assert.Equal(t, 0, ft.calls)
}

func TestExplicitFlushIsFinal(t *testing.T) {
	s, _ := newTestSession("wrap up")

	_, err := s.Append(context.Background(), pcmFrame(1.0, 0.5))
	require.NoError(t, err)
	result, err := s.Flush(context.Background(), true)
	require.NoError(t, err)

	require.NotNil(t, result)
	assert.True(t, result.IsFinal)
	assert.InDelta(t, 0.0, s.BufferedSeconds(), 1e-6)
}
