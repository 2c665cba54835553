package store

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openscribe/scribed/pkg/models"
)

func testTranscript(jobID string) *models.Transcript {
	id := uuid.NewString()
	return &models.Transcript{
		ID:           id,
		JobID:        jobID,
		Language:     "en",
		Duration:     5.0,
		WordCount:    4,
		SpeakerCount: 0,
		FullText:     "Hello world. Second segment.",
		CreatedAt:    time.Now().UTC(),
		Segments: []*models.Segment{
			{
				ID: uuid.NewString(), TranscriptID: id, Index: 0,
				Start: 0, End: 2.5, Text: "Hello world.", Confidence: 0.9,
				Words: []models.Word{{Word: "Hello", Start: 0, End: 1.2, Confidence: 0.9}},
			},
			{
				ID: uuid.NewString(), TranscriptID: id, Index: 1,
				Start: 2.5, End: 5.0, Text: "Second segment.",
			},
		},
	}
}

func TestTranscriptRoundTrip(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	job := testJob(models.JobStatusCompleted, 5, time.Now().UTC())
	require.NoError(t, st.CreateJob(ctx, job))

	tr := testTranscript(job.ID)
	require.NoError(t, st.CreateTranscript(ctx, tr))

	got, err := st.GetTranscriptByJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, tr.ID, got.ID)
	assert.Equal(t, "en", got.Language)
	assert.Equal(t, "Hello world. Second segment.", got.FullText)
	require.Len(t, got.Segments, 2)
	assert.Equal(t, 0, got.Segments[0].Index)
	assert.Equal(t, "Hello world.", got.Segments[0].Text)
	assert.InDelta(t, 0.9, got.Segments[0].Confidence, 1e-9)
	require.Len(t, got.Segments[0].Words, 1)
	assert.Equal(t, "Hello", got.Segments[0].Words[0].Word)
	assert.Empty(t, got.Segments[1].Words)
}

func TestCreateTranscriptDuplicate(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	job := testJob(models.JobStatusCompleted, 5, time.Now().UTC())
	require.NoError(t, st.CreateJob(ctx, job))
	require.NoError(t, st.CreateTranscript(ctx, testTranscript(job.ID)))

	err := st.CreateTranscript(ctx, testTranscript(job.ID))
	assert.ErrorIs(t, err, ErrDuplicate, "one transcript per job")
}

func TestGetTranscriptByJobNotFound(t *testing.T) {
	st := newTestStore(t)

	_, err := st.GetTranscriptByJob(context.Background(), uuid.NewString())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpdateSegmentSpeakersDerivesCount(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	job := testJob(models.JobStatusCompleted, 5, time.Now().UTC())
	require.NoError(t, st.CreateJob(ctx, job))
	tr := testTranscript(job.ID)
	require.NoError(t, st.CreateTranscript(ctx, tr))

	require.NoError(t, st.UpdateSegmentSpeakers(ctx, tr.ID, map[int]string{
		0: "SPEAKER_00",
		1: "SPEAKER_01",
	}))

	got, err := st.GetTranscriptByJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.SpeakerCount)
	assert.Equal(t, "SPEAKER_00", got.Segments[0].Speaker)
	assert.Equal(t, "SPEAKER_01", got.Segments[1].Speaker)
}

func TestRemapSpeakers(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	job := testJob(models.JobStatusCompleted, 5, time.Now().UTC())
	require.NoError(t, st.CreateJob(ctx, job))
	tr := testTranscript(job.ID)
	require.NoError(t, st.CreateTranscript(ctx, tr))
	require.NoError(t, st.UpdateSegmentSpeakers(ctx, tr.ID, map[int]string{
		0: "SPEAKER_00",
		1: "SPEAKER_01",
	}))

	got, err := st.RemapSpeakers(ctx, job.ID, map[string]string{
		"SPEAKER_00": "Alice",
		"SPEAKER_01": "Alice", // merging two labels is allowed
	})
	require.NoError(t, err)
	assert.Equal(t, "Alice", got.Segments[0].Speaker)
	assert.Equal(t, "Alice", got.Segments[1].Speaker)
	assert.Equal(t, 1, got.SpeakerCount, "merge collapses the speaker count")
}

func TestRemapSpeakersSwap(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	job := testJob(models.JobStatusCompleted, 5, time.Now().UTC())
	require.NoError(t, st.CreateJob(ctx, job))
	tr := testTranscript(job.ID)
	require.NoError(t, st.CreateTranscript(ctx, tr))
	require.NoError(t, st.UpdateSegmentSpeakers(ctx, tr.ID, map[int]string{
		0: "SPEAKER_00",
		1: "SPEAKER_01",
	}))

	// Swapping two labels must not collapse them into one.
	got, err := st.RemapSpeakers(ctx, job.ID, map[string]string{
		"SPEAKER_00": "SPEAKER_01",
		"SPEAKER_01": "SPEAKER_00",
	})
	require.NoError(t, err)
	assert.Equal(t, "SPEAKER_01", got.Segments[0].Speaker)
	assert.Equal(t, "SPEAKER_00", got.Segments[1].Speaker)
	assert.Equal(t, 2, got.SpeakerCount)
}

func TestRemapSpeakersUnknownJob(t *testing.T) {
	st := newTestStore(t)

	_, err := st.RemapSpeakers(context.Background(), uuid.NewString(), map[string]string{"a": "b"})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteJobCascadesTranscript(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	job := testJob(models.JobStatusCompleted, 5, time.Now().UTC())
	require.NoError(t, st.CreateJob(ctx, job))
	require.NoError(t, st.CreateTranscript(ctx, testTranscript(job.ID)))

	require.NoError(t, st.DeleteJob(ctx, job.ID))

	_, err := st.GetTranscriptByJob(ctx, job.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}
