package services

import (
	"archive/zip"
	"bytes"
	"context"
	"io"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openscribe/scribed/pkg/config"
	"github.com/openscribe/scribed/pkg/events"
	"github.com/openscribe/scribed/pkg/models"
	"github.com/openscribe/scribed/pkg/store"
)

func newTestBatchService(t *testing.T) (*BatchService, *store.Store, *config.Config) {
	t.Helper()
	st := newServiceStore(t)
	bus := events.NewBus()
	t.Cleanup(bus.Close)
	cfg := testConfig(t)
	return NewBatchService(st, events.NewPublisher(bus, nil), cfg, nil, nil), st, cfg
}

func batchTranscript(jobID string) *models.Transcript {
	id := uuid.NewString()
	return &models.Transcript{
		ID:        id,
		JobID:     jobID,
		Language:  "en",
		Duration:  5.0,
		WordCount: 2,
		FullText:  "Hello world.",
		CreatedAt: time.Now().UTC(),
		Segments: []*models.Segment{
			{ID: uuid.NewString(), TranscriptID: id, Index: 0, Start: 0, End: 2.5, Text: "Hello world."},
		},
	}
}

func readZip(t *testing.T, buf *bytes.Buffer) map[string]string {
	t.Helper()
	zr, err := zip.NewReader(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	require.NoError(t, err)

	entries := make(map[string]string, len(zr.File))
	for _, f := range zr.File {
		rc, err := f.Open()
		require.NoError(t, err)
		data, err := io.ReadAll(rc)
		rc.Close()
		require.NoError(t, err)
		entries[f.Name] = string(data)
	}
	return entries
}

func TestExportZipRendersRequestedFormat(t *testing.T) {
	svc, st, _ := newTestBatchService(t)
	ctx := context.Background()

	batch := &models.JobBatch{
		ID: uuid.NewString(), Name: "b", TotalFiles: 2,
		Status: models.JobStatusPending, CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, st.CreateBatch(ctx, batch))

	done := queueTestJob(models.JobStatusCompleted)
	done.Filename = "first.wav"
	done.BatchID = &batch.ID
	require.NoError(t, st.CreateJob(ctx, done))
	require.NoError(t, st.CreateTranscript(ctx, batchTranscript(done.ID)))

	failed := queueTestJob(models.JobStatusFailed)
	failed.Filename = "second.wav"
	failed.BatchID = &batch.ID
	require.NoError(t, st.CreateJob(ctx, failed))

	var buf bytes.Buffer
	require.NoError(t, svc.ExportZip(ctx, batch.ID, models.FormatTXT, &buf))

	entries := readZip(t, &buf)
	require.Len(t, entries, 1, "only completed members are exported")
	assert.Equal(t, "Hello world.", entries["first/transcript.txt"])
}

func TestExportZipArchivesOutputDirectory(t *testing.T) {
	svc, st, cfg := newTestBatchService(t)
	ctx := context.Background()

	batch := &models.JobBatch{
		ID: uuid.NewString(), Name: "b", TotalFiles: 2,
		Status: models.JobStatusPending, CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, st.CreateBatch(ctx, batch))

	done := queueTestJob(models.JobStatusCompleted)
	done.Filename = "first.wav"
	done.BatchID = &batch.ID
	require.NoError(t, st.CreateJob(ctx, done))

	dir := cfg.JobOutputDir(done.ID)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(dir+"/transcript.json", []byte("{}"), 0o644))

	var buf bytes.Buffer
	require.NoError(t, svc.ExportZip(ctx, batch.ID, "", &buf))

	entries := readZip(t, &buf)
	assert.Equal(t, "{}", entries["first/transcript.json"])
}

func TestExportZipRequiresCompletedMember(t *testing.T) {
	svc, st, _ := newTestBatchService(t)
	ctx := context.Background()

	batch := &models.JobBatch{
		ID: uuid.NewString(), Name: "b", TotalFiles: 2,
		Status: models.JobStatusPending, CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, st.CreateBatch(ctx, batch))

	failed := queueTestJob(models.JobStatusFailed)
	failed.BatchID = &batch.ID
	require.NoError(t, st.CreateJob(ctx, failed))

	var buf bytes.Buffer
	err := svc.ExportZip(ctx, batch.ID, models.FormatTXT, &buf)
	assert.ErrorIs(t, err, ErrPreconditionFailed)
}

func TestZipRenderedTranscript(t *testing.T) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	tr := batchTranscript(uuid.NewString())
	require.NoError(t, zipRenderedTranscript(zw, "interview", tr, models.FormatSRT))
	require.NoError(t, zw.Close())

	entries := readZip(t, &buf)
	require.Contains(t, entries, "interview/transcript.srt")
	assert.Contains(t, entries["interview/transcript.srt"], "00:00:00,000 --> 00:00:02,500")
}
