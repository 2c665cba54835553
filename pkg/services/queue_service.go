package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/openscribe/scribed/pkg/events"
	"github.com/openscribe/scribed/pkg/models"
	"github.com/openscribe/scribed/pkg/store"
)

// RunCanceller interrupts a job's in-flight pipeline run. Implemented by the
// worker pool; wired after construction because the pool depends on services
// for terminal bookkeeping.
type RunCanceller interface {
	CancelRun(jobID string) bool
}

// QueueStatus is the admission-ordered view of the queue.
type QueueStatus struct {
	Running       []*models.Job `json:"running"`
	Queued        []*models.Job `json:"queued"`
	PendingCount  int           `json:"pending_count"`
	MaxConcurrent int           `json:"max_concurrent"`
}

// QueueService owns admission, ordering and cancellation of queued work.
type QueueService struct {
	store     *store.Store
	publisher *events.Publisher
	canceller RunCanceller
	capacity  int
}

// NewQueueService creates a QueueService. capacity is the worker pool size
// reported in status responses.
func NewQueueService(st *store.Store, publisher *events.Publisher, capacity int) *QueueService {
	return &QueueService{store: st, publisher: publisher, capacity: capacity}
}

// SetRunCanceller wires the worker pool in after both sides exist.
func (s *QueueService) SetRunCanceller(c RunCanceller) {
	s.canceller = c
}

// Enqueue moves a pending job into the queue and assigns its position.
func (s *QueueService) Enqueue(ctx context.Context, jobID string) (*models.Job, error) {
	waiting, err := s.store.PendingCount(ctx)
	if err != nil {
		return nil, err
	}

	job, err := s.store.UpdateJob(ctx, jobID, func(j *models.Job) error {
		if j.Status != models.JobStatusPending {
			return ErrPreconditionFailed
		}
		pos := waiting + 1
		j.Status = models.JobStatusQueued
		j.QueuePosition = &pos
		return nil
	})
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	s.publisher.PublishStatusChanged(job)
	slog.Info("Job queued", "job_id", job.ID, "priority", job.Priority, "position", *job.QueuePosition)
	return job, nil
}

// Status returns running jobs, the waiting queue in admission order and the
// pool capacity.
func (s *QueueService) Status(ctx context.Context) (*QueueStatus, error) {
	running, err := s.store.RunningJobs(ctx)
	if err != nil {
		return nil, err
	}
	queued, err := s.store.QueueSnapshot(ctx)
	if err != nil {
		return nil, err
	}
	return &QueueStatus{
		Running:       running,
		Queued:        queued,
		PendingCount:  len(queued),
		MaxConcurrent: s.capacity,
	}, nil
}

// Reorder rewrites priorities and positions for the given jobs in list order.
// All-or-nothing: any member in a non-reorderable status fails the whole call.
func (s *QueueService) Reorder(ctx context.Context, jobIDs []string) error {
	if len(jobIDs) == 0 {
		return NewValidationError("job_ids", "at least one job id is required")
	}
	seen := make(map[string]struct{}, len(jobIDs))
	for _, id := range jobIDs {
		if _, dup := seen[id]; dup {
			return NewValidationError("job_ids", fmt.Sprintf("duplicate job id %s", id))
		}
		seen[id] = struct{}{}
	}

	if err := s.store.ReorderJobs(ctx, jobIDs); err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			return ErrNotFound
		case errors.Is(err, store.ErrNotReorderable):
			return ErrPreconditionFailed
		}
		return err
	}

	s.publisher.PublishQueueReordered(jobIDs)
	slog.Info("Queue reordered", "count", len(jobIDs))
	return nil
}

// SetPriority updates a single waiting job's priority.
func (s *QueueService) SetPriority(ctx context.Context, jobID string, priority int) (*models.Job, error) {
	if priority < models.PriorityHighest || priority > models.PriorityLowest {
		return nil, NewValidationError("priority", fmt.Sprintf("priority must be between %d and %d", models.PriorityHighest, models.PriorityLowest))
	}

	job, err := s.store.UpdateJob(ctx, jobID, func(j *models.Job) error {
		if !j.Status.IsReorderable() {
			return ErrPreconditionFailed
		}
		j.Priority = priority
		return nil
	})
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	s.publisher.PublishPriorityChanged(job.ID, job.Priority)
	return job, nil
}

// Cancel stops a job. Waiting jobs are cancelled directly; running jobs are
// interrupted through the worker pool, which performs the terminal transition
// itself. Cancelling a job that already reached a terminal state is a no-op
// and returns the job unchanged.
func (s *QueueService) Cancel(ctx context.Context, jobID string) (*models.Job, error) {
	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	if job.Status.IsTerminal() {
		return job, nil
	}

	if job.Status.IsRunning() {
		if s.canceller != nil && s.canceller.CancelRun(jobID) {
			slog.Info("Cancellation requested for running job", "job_id", jobID)
			return job, nil
		}
		// No live run owns the job (e.g. pool restart raced the claim);
		// fall through and cancel the row directly.
	}

	cancelled, err := s.markCancelled(ctx, jobID)
	if err != nil {
		return nil, err
	}
	return cancelled, nil
}

// markCancelled performs the terminal transition for a job with no live run.
func (s *QueueService) markCancelled(ctx context.Context, jobID string) (*models.Job, error) {
	job, err := s.store.UpdateJob(ctx, jobID, func(j *models.Job) error {
		if j.Status.IsTerminal() {
			return ErrPreconditionFailed
		}
		now := time.Now().UTC()
		j.Status = models.JobStatusCancelled
		j.CompletedAt = &now
		j.QueuePosition = nil
		return nil
	})
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	s.publisher.PublishStatusChanged(job)
	if job.BatchID != nil {
		if batch, err := s.store.RecomputeBatchAggregates(ctx, *job.BatchID); err != nil {
			slog.Warn("Failed to recompute batch after cancellation", "batch_id", *job.BatchID, "error", err)
		} else {
			s.publisher.PublishBatchProgress(batch)
		}
	}

	slog.Info("Job cancelled", "job_id", jobID)
	return job, nil
}
