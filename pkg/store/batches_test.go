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

func testBatch(totalFiles int) *models.JobBatch {
	return &models.JobBatch{
		ID:         uuid.NewString(),
		Name:       "Batch 2026-08-24 10:00",
		TotalFiles: totalFiles,
		Status:     models.JobStatusPending,
		CreatedAt:  time.Now().UTC(),
	}
}

func batchMember(batchID string, status models.JobStatus, progress float64) *models.Job {
	job := testJob(status, 5, time.Now().UTC())
	job.BatchID = &batchID
	job.Progress = progress
	return job
}

func TestBatchRoundTrip(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	batch := testBatch(3)
	require.NoError(t, st.CreateBatch(ctx, batch))

	got, err := st.GetBatch(ctx, batch.ID)
	require.NoError(t, err)
	assert.Equal(t, batch.ID, got.ID)
	assert.Equal(t, 3, got.TotalFiles)
	assert.Equal(t, models.JobStatusPending, got.Status)
	assert.Nil(t, got.CompletedAt)

	_, err = st.GetBatch(ctx, uuid.NewString())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRecomputeBatchAggregatesInFlight(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	batch := testBatch(2)
	require.NoError(t, st.CreateBatch(ctx, batch))
	require.NoError(t, st.CreateJob(ctx, batchMember(batch.ID, models.JobStatusCompleted, 100)))
	require.NoError(t, st.CreateJob(ctx, batchMember(batch.ID, models.JobStatusTranscribing, 30)))

	got, err := st.RecomputeBatchAggregates(ctx, batch.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.CompletedFiles)
	assert.Equal(t, 0, got.FailedFiles)
	assert.Equal(t, models.JobStatusProcessing, got.Status)
	assert.InDelta(t, 65.0, got.Progress, 1e-9)
	assert.Nil(t, got.CompletedAt)
}

func TestRecomputeBatchAggregatesAllTerminal(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	batch := testBatch(2)
	require.NoError(t, st.CreateBatch(ctx, batch))
	require.NoError(t, st.CreateJob(ctx, batchMember(batch.ID, models.JobStatusCompleted, 100)))
	require.NoError(t, st.CreateJob(ctx, batchMember(batch.ID, models.JobStatusCancelled, 0)))

	got, err := st.RecomputeBatchAggregates(ctx, batch.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, got.Status, "cancellations do not fail a batch")
	assert.NotNil(t, got.CompletedAt)
}

func TestRecomputeBatchAggregatesFailedMember(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	batch := testBatch(2)
	require.NoError(t, st.CreateBatch(ctx, batch))
	require.NoError(t, st.CreateJob(ctx, batchMember(batch.ID, models.JobStatusCompleted, 100)))
	require.NoError(t, st.CreateJob(ctx, batchMember(batch.ID, models.JobStatusFailed, 40)))

	got, err := st.RecomputeBatchAggregates(ctx, batch.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, got.Status)
	assert.Equal(t, 1, got.FailedFiles)
	assert.NotNil(t, got.CompletedAt)
}

func TestListBatches(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	first := testBatch(2)
	first.CreatedAt = time.Now().UTC().Add(-time.Hour)
	second := testBatch(2)
	for _, b := range []*models.JobBatch{first, second} {
		require.NoError(t, st.CreateBatch(ctx, b))
	}

	batches, total, err := st.ListBatches(ctx, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	require.Len(t, batches, 2)
	assert.Equal(t, second.ID, batches[0].ID, "newest first")

	batches, total, err = st.ListBatches(ctx, 1, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	require.Len(t, batches, 1)
	assert.Equal(t, first.ID, batches[0].ID)
}

func TestDeleteBatchKeepsJobsUnlinked(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	batch := testBatch(2)
	require.NoError(t, st.CreateBatch(ctx, batch))
	member := batchMember(batch.ID, models.JobStatusCompleted, 100)
	require.NoError(t, st.CreateJob(ctx, member))

	require.NoError(t, st.DeleteBatch(ctx, batch.ID))
	assert.ErrorIs(t, st.DeleteBatch(ctx, batch.ID), ErrNotFound)

	// ON DELETE SET NULL: the job row survives without a batch link.
	got, err := st.GetJob(ctx, member.ID)
	require.NoError(t, err)
	assert.Nil(t, got.BatchID)
}

func TestStatistics(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	started := time.Now().UTC().Add(-10 * time.Minute)
	finished := started.Add(2 * time.Minute)
	done := testJob(models.JobStatusCompleted, 5, started)
	done.Duration = 120.5
	done.StartedAt = &started
	done.CompletedAt = &finished
	require.NoError(t, st.CreateJob(ctx, done))
	require.NoError(t, st.CreateJob(ctx, testJob(models.JobStatusQueued, 5, time.Now().UTC())))

	m := testModel(models.ModelTypeSTT, models.EngineFasterWhisper, "small")
	m.DownloadStatus = models.DownloadPresent
	require.NoError(t, st.CreateModel(ctx, m))

	stats, err := st.Statistics(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.CountsByStatus[models.JobStatusCompleted])
	assert.Equal(t, 1, stats.CountsByStatus[models.JobStatusQueued])
	assert.InDelta(t, 120.5, stats.AudioProcessedSeconds, 1e-9)
	assert.InDelta(t, 120.0, stats.AvgProcessingSeconds, 1.0)
	assert.Equal(t, 2, stats.JobsLastHour)
	assert.Equal(t, 1, stats.ModelsDownloaded)
}
