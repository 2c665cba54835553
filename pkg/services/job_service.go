package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/openscribe/scribed/pkg/config"
	"github.com/openscribe/scribed/pkg/events"
	"github.com/openscribe/scribed/pkg/export"
	"github.com/openscribe/scribed/pkg/media"
	"github.com/openscribe/scribed/pkg/models"
	"github.com/openscribe/scribed/pkg/store"
)

// JobService owns job lifecycle operations outside the queue: creation,
// listing, transcript access and deletion.
type JobService struct {
	store     *store.Store
	publisher *events.Publisher
	cfg       *config.Config
}

// NewJobService creates a JobService.
func NewJobService(st *store.Store, publisher *events.Publisher, cfg *config.Config) *JobService {
	return &JobService{store: st, publisher: publisher, cfg: cfg}
}

// CreateJob validates the request and persists a new pending job whose input
// bytes are already saved at sourcePath. The job is not yet queued.
func (s *JobService) CreateJob(ctx context.Context, req models.CreateJobRequest, sourcePath string, fileSize int64, batchID *string) (*models.Job, error) {
	if req.Filename == "" {
		return nil, NewValidationError("filename", "filename is required")
	}
	if !media.SupportedExtension(req.Filename) {
		return nil, NewValidationError("filename", fmt.Sprintf("unsupported file extension on %q", req.Filename))
	}

	priority := req.Priority
	if priority == 0 {
		priority = models.PriorityDefault
	}
	if priority < models.PriorityHighest || priority > models.PriorityLowest {
		return nil, NewValidationError("priority", fmt.Sprintf("priority must be between %d and %d", models.PriorityHighest, models.PriorityLowest))
	}

	formats := req.OutputFormats
	if len(formats) == 0 {
		formats = []models.OutputFormat{models.FormatJSON, models.FormatSRT}
	}
	for _, f := range formats {
		if !models.ValidOutputFormat(f) {
			return nil, NewValidationError("output_formats", fmt.Sprintf("unknown output format %q", f))
		}
	}

	language := req.Language
	if language == "" {
		language = s.cfg.DefaultLanguage
	}

	job := &models.Job{
		ID:                uuid.NewString(),
		BatchID:           batchID,
		Filename:          req.Filename,
		OriginalPath:      sourcePath,
		FileSize:          fileSize,
		Language:          language,
		TranslateTo:       req.TranslateTo,
		ModelID:           req.ModelID,
		EnableDiarization: req.EnableDiarization,
		EnableTTS:         req.EnableTTS,
		SyncTTSTiming:     req.SyncTTSTiming,
		OutputFormats:     formats,
		Priority:          priority,
		Status:            models.JobStatusPending,
		CreatedAt:         time.Now().UTC(),
	}

	if err := s.store.CreateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to create job: %w", err)
	}

	slog.Info("Job created",
		"job_id", job.ID, "filename", job.Filename, "priority", job.Priority,
		"diarization", job.EnableDiarization, "tts", job.EnableTTS)
	return job, nil
}

// GetJob returns a job by id.
func (s *JobService) GetJob(ctx context.Context, id string) (*models.Job, error) {
	job, err := s.store.GetJob(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return job, nil
}

// ListJobs returns jobs matching the filters, newest first.
func (s *JobService) ListJobs(ctx context.Context, filters models.JobFilters) (*models.JobListResponse, error) {
	if filters.Limit <= 0 {
		filters.Limit = 50
	}
	if filters.Limit > 200 {
		filters.Limit = 200
	}
	jobs, total, err := s.store.ListJobs(ctx, filters)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	return &models.JobListResponse{
		Jobs:       jobs,
		TotalCount: total,
		Limit:      filters.Limit,
		Offset:     filters.Offset,
	}, nil
}

// DeleteJob removes a terminal or pending job together with its artifacts.
// Deleting a live job is a precondition error; callers cancel first.
func (s *JobService) DeleteJob(ctx context.Context, id string) error {
	job, err := s.GetJob(ctx, id)
	if err != nil {
		return err
	}
	if job.Status.IsRunning() {
		return ErrPreconditionFailed
	}

	if err := s.store.DeleteJob(ctx, id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to delete job: %w", err)
	}

	// File cleanup is best-effort; the row is already gone.
	s.removeJobFiles(job)

	slog.Info("Job deleted", "job_id", id)
	return nil
}

func (s *JobService) removeJobFiles(job *models.Job) {
	if job.OriginalPath != "" {
		if err := os.Remove(job.OriginalPath); err != nil && !os.IsNotExist(err) {
			slog.Warn("Failed to remove job input file", "job_id", job.ID, "error", err)
		}
	}
	outDir := s.cfg.JobOutputDir(job.ID)
	if err := os.RemoveAll(outDir); err != nil {
		slog.Warn("Failed to remove job output directory", "job_id", job.ID, "error", err)
	}
}

// Transcript renders the job's stored transcript in the requested format.
// Only completed jobs have a transcript to serve.
func (s *JobService) Transcript(ctx context.Context, jobID string, format models.OutputFormat) ([]byte, error) {
	if !models.ValidOutputFormat(format) {
		return nil, NewValidationError("format", fmt.Sprintf("unknown output format %q", format))
	}

	job, err := s.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status != models.JobStatusCompleted {
		return nil, ErrPreconditionFailed
	}

	transcript, err := s.store.GetTranscriptByJob(ctx, jobID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to load transcript: %w", err)
	}
	return export.Render(transcript, format)
}

// RemapSpeakers rewrites speaker labels on the stored transcript and
// refreshes the exported files. Identity mappings are idempotent.
func (s *JobService) RemapSpeakers(ctx context.Context, jobID string, mapping map[string]string) (*models.Transcript, error) {
	if len(mapping) == 0 {
		return nil, NewValidationError("speakers", "speaker mapping is required")
	}

	job, err := s.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status != models.JobStatusCompleted {
		return nil, ErrPreconditionFailed
	}

	transcript, err := s.store.RemapSpeakers(ctx, jobID, mapping)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to remap speakers: %w", err)
	}

	// Keep on-disk exports consistent with the edited transcript.
	if _, err := export.WriteAll(transcript, s.cfg.JobOutputDir(jobID), job.OutputFormats); err != nil {
		slog.Warn("Failed to refresh transcript exports", "job_id", jobID, "error", err)
	}

	return transcript, nil
}

// Statistics returns the read-only job aggregates.
func (s *JobService) Statistics(ctx context.Context) (*models.JobStatistics, error) {
	return s.store.Statistics(ctx)
}
