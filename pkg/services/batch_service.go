package services

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/openscribe/scribed/pkg/config"
	"github.com/openscribe/scribed/pkg/events"
	"github.com/openscribe/scribed/pkg/export"
	"github.com/openscribe/scribed/pkg/models"
	"github.com/openscribe/scribed/pkg/store"
)

// BatchService manages job batches: cohorts of jobs submitted together whose
// counters are derived from member terminal transitions.
type BatchService struct {
	store     *store.Store
	publisher *events.Publisher
	cfg       *config.Config
	jobs      *JobService
	queue     *QueueService
}

// NewBatchService creates a BatchService.
func NewBatchService(st *store.Store, publisher *events.Publisher, cfg *config.Config, jobs *JobService, queue *QueueService) *BatchService {
	return &BatchService{store: st, publisher: publisher, cfg: cfg, jobs: jobs, queue: queue}
}

// CreateBatch creates the batch record for totalFiles member jobs. Members
// are created and enqueued by the caller with the returned batch id.
func (s *BatchService) CreateBatch(ctx context.Context, name string, totalFiles int) (*models.JobBatch, error) {
	if totalFiles < 2 {
		return nil, NewValidationError("files", "a batch requires at least 2 files")
	}
	if name == "" {
		name = fmt.Sprintf("Batch %s", time.Now().UTC().Format("2006-01-02 15:04"))
	}

	batch := &models.JobBatch{
		ID:         uuid.NewString(),
		Name:       name,
		TotalFiles: totalFiles,
		Status:     models.JobStatusPending,
		CreatedAt:  time.Now().UTC(),
	}
	if err := s.store.CreateBatch(ctx, batch); err != nil {
		return nil, fmt.Errorf("failed to create batch: %w", err)
	}

	slog.Info("Batch created", "batch_id", batch.ID, "name", batch.Name, "total_files", totalFiles)
	return batch, nil
}

// GetBatch returns the batch together with its member jobs.
func (s *BatchService) GetBatch(ctx context.Context, id string) (*models.BatchResponse, error) {
	batch, err := s.store.GetBatch(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	jobs, _, err := s.store.ListJobs(ctx, models.JobFilters{BatchID: id})
	if err != nil {
		return nil, fmt.Errorf("failed to list batch jobs: %w", err)
	}
	return &models.BatchResponse{JobBatch: batch, Jobs: jobs}, nil
}

// ListBatches returns batches newest first.
func (s *BatchService) ListBatches(ctx context.Context, limit, offset int) (*models.BatchListResponse, error) {
	if limit <= 0 {
		limit = 50
	}
	batches, total, err := s.store.ListBatches(ctx, limit, offset)
	if err != nil {
		return nil, err
	}
	return &models.BatchListResponse{
		Batches:    batches,
		TotalCount: total,
		Limit:      limit,
		Offset:     offset,
	}, nil
}

// DeleteBatch cancels any live members, removes all member jobs and their
// artifacts, then removes the batch itself.
func (s *BatchService) DeleteBatch(ctx context.Context, id string) error {
	resp, err := s.GetBatch(ctx, id)
	if err != nil {
		return err
	}

	for _, job := range resp.Jobs {
		if !job.Status.IsTerminal() {
			if _, err := s.queue.Cancel(ctx, job.ID); err != nil && !errors.Is(err, ErrPreconditionFailed) {
				slog.Warn("Failed to cancel batch member", "batch_id", id, "job_id", job.ID, "error", err)
			}
			s.waitForTerminal(ctx, job.ID)
		}
		if err := s.jobs.DeleteJob(ctx, job.ID); err != nil && !errors.Is(err, ErrNotFound) {
			return fmt.Errorf("failed to delete batch member %s: %w", job.ID, err)
		}
	}

	if err := s.store.DeleteBatch(ctx, id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrNotFound
		}
		return err
	}

	slog.Info("Batch deleted", "batch_id", id, "members", len(resp.Jobs))
	return nil
}

// waitForTerminal polls briefly for a cancelled run to settle so the member
// row can be deleted. A run that ignores cancellation is deleted anyway.
func (s *BatchService) waitForTerminal(ctx context.Context, jobID string) {
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		job, err := s.store.GetJob(ctx, jobID)
		if err != nil || job.Status.IsTerminal() || !job.Status.IsRunning() {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(200 * time.Millisecond):
		}
	}
}

// ExportZip streams a ZIP archive of the completed members' export files.
// With an empty format every file in each member's output directory is
// archived; with a format set, each member contributes a single transcript
// rendered in that format. Fails when no member has completed.
func (s *BatchService) ExportZip(ctx context.Context, id string, format models.OutputFormat, w io.Writer) error {
	resp, err := s.GetBatch(ctx, id)
	if err != nil {
		return err
	}

	var completed []*models.Job
	for _, job := range resp.Jobs {
		if job.Status == models.JobStatusCompleted {
			completed = append(completed, job)
		}
	}
	if len(completed) == 0 {
		return ErrPreconditionFailed
	}

	zw := zip.NewWriter(w)
	for _, job := range completed {
		prefix := sanitizeZipName(job.Filename)

		if format != "" {
			transcript, err := s.store.GetTranscriptByJob(ctx, job.ID)
			if err != nil {
				slog.Warn("Missing transcript for completed job", "job_id", job.ID, "error", err)
				continue
			}
			if err := zipRenderedTranscript(zw, prefix, transcript, format); err != nil {
				zw.Close()
				return fmt.Errorf("failed to archive transcript for %s: %w", job.ID, err)
			}
			continue
		}

		dir := s.cfg.JobOutputDir(job.ID)
		entries, err := os.ReadDir(dir)
		if err != nil {
			slog.Warn("Missing output directory for completed job", "job_id", job.ID, "error", err)
			continue
		}
		for _, entry := range entries {
			if entry.IsDir() {
				continue
			}
			if err := addZipFile(zw, filepath.Join(dir, entry.Name()), prefix+"/"+entry.Name()); err != nil {
				zw.Close()
				return fmt.Errorf("failed to archive %s: %w", entry.Name(), err)
			}
		}
	}
	return zw.Close()
}

// zipRenderedTranscript renders the transcript in the requested format and
// writes it as the member's single archive entry.
func zipRenderedTranscript(zw *zip.Writer, prefix string, t *models.Transcript, format models.OutputFormat) error {
	data, err := export.Render(t, format)
	if err != nil {
		return err
	}
	entry, err := zw.Create(prefix + "/transcript." + string(format))
	if err != nil {
		return err
	}
	_, err = entry.Write(data)
	return err
}

func addZipFile(zw *zip.Writer, path, name string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	entry, err := zw.Create(name)
	if err != nil {
		return err
	}
	_, err = io.Copy(entry, f)
	return err
}

// sanitizeZipName strips the extension and any path separators so member
// filenames become safe archive directory names.
func sanitizeZipName(filename string) string {
	base := filepath.Base(filename)
	return base[:len(base)-len(filepath.Ext(base))]
}
