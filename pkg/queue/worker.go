package queue

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/openscribe/scribed/pkg/events"
	"github.com/openscribe/scribed/pkg/models"
	"github.com/openscribe/scribed/pkg/store"
)

// WorkerStatus represents the current state of a worker.
type WorkerStatus string

// Worker status constants.
const (
	WorkerStatusIdle    WorkerStatus = "idle"
	WorkerStatusWorking WorkerStatus = "working"
)

// Poll timing. Jitter spreads concurrent workers so claims rarely collide.
const (
	pollInterval       = 1 * time.Second
	pollIntervalJitter = 250 * time.Millisecond
)

// Worker is a single queue worker that polls for and processes jobs.
type Worker struct {
	id        string
	store     *store.Store
	publisher *events.Publisher
	executor  JobExecutor
	pool      JobRegistry
	stopCh    chan struct{}
	stopOnce  sync.Once
	wg        sync.WaitGroup

	// Health tracking
	mu            sync.RWMutex
	status        WorkerStatus
	currentJobID  string
	jobsProcessed int
	lastActivity  time.Time
}

// JobRegistry is the subset of WorkerPool used by Worker for cancellation
// registration.
type JobRegistry interface {
	RegisterJob(jobID string, cancel context.CancelFunc)
	UnregisterJob(jobID string)
}

// NewWorker creates a new queue worker.
func NewWorker(id string, st *store.Store, publisher *events.Publisher, executor JobExecutor, pool JobRegistry) *Worker {
	return &Worker{
		id:           id,
		store:        st,
		publisher:    publisher,
		executor:     executor,
		pool:         pool,
		stopCh:       make(chan struct{}),
		status:       WorkerStatusIdle,
		lastActivity: time.Now(),
	}
}

// Start begins the worker polling loop in a goroutine.
func (w *Worker) Start(ctx context.Context) {
	w.wg.Add(1)
	go w.run(ctx)
}

// Stop signals the worker to stop and waits for it to finish.
// It is safe to call Stop multiple times.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
	w.wg.Wait()
}

// Health returns the current worker health status.
func (w *Worker) Health() WorkerHealth {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return WorkerHealth{
		ID:            w.id,
		Status:        string(w.status),
		CurrentJobID:  w.currentJobID,
		JobsProcessed: w.jobsProcessed,
		LastActivity:  w.lastActivity,
	}
}

// run is the main worker loop.
func (w *Worker) run(ctx context.Context) {
	defer w.wg.Done()

	log := slog.With("worker_id", w.id)
	log.Info("Worker started")

	for {
		select {
		case <-w.stopCh:
			log.Info("Worker shutting down")
			return
		case <-ctx.Done():
			log.Info("Context cancelled, worker shutting down")
			return
		default:
			if err := w.pollAndProcess(ctx); err != nil {
				if errors.Is(err, ErrNoJobsAvailable) {
					w.sleep(w.pollDelay())
					continue
				}
				log.Error("Error processing job", "error", err)
				w.sleep(time.Second) // Brief backoff on error
			}
		}
	}
}

// sleep waits for the given duration or until stop is signalled.
func (w *Worker) sleep(d time.Duration) {
	select {
	case <-w.stopCh:
	case <-time.After(d):
	}
}

// pollAndProcess claims the next queued job and runs it to a terminal state.
func (w *Worker) pollAndProcess(ctx context.Context) error {
	job, err := w.store.ClaimNextQueued(ctx)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrNoJobsAvailable
		}
		return err
	}

	log := slog.With("job_id", job.ID, "worker_id", w.id)
	log.Info("Job claimed", "filename", job.Filename, "priority", job.Priority)

	w.publisher.PublishStatusChanged(job)

	w.setStatus(WorkerStatusWorking, job.ID)
	defer w.setStatus(WorkerStatusIdle, "")

	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	w.pool.RegisterJob(job.ID, cancelRun)
	defer w.pool.UnregisterJob(job.ID)

	execErr := w.executor.Execute(runCtx, job)

	// Terminal transition uses a background context: the run context may
	// already be cancelled.
	if err := w.finishJob(context.Background(), job, execErr, runCtx); err != nil {
		log.Error("Failed to record terminal job status", "error", err)
		return err
	}

	w.mu.Lock()
	w.jobsProcessed++
	w.mu.Unlock()

	log.Info("Job processing complete")
	return nil
}

// finishJob records the terminal status and fans out the events and batch
// bookkeeping it implies.
func (w *Worker) finishJob(ctx context.Context, job *models.Job, execErr error, runCtx context.Context) error {
	cancelled := execErr != nil &&
		(errors.Is(execErr, context.Canceled) || errors.Is(runCtx.Err(), context.Canceled))

	updated, err := w.store.UpdateJob(ctx, job.ID, func(j *models.Job) error {
		now := time.Now().UTC()
		j.CompletedAt = &now
		switch {
		case execErr == nil:
			j.Status = models.JobStatusCompleted
			j.Progress = 100
			j.ErrorMessage = ""
		case cancelled:
			j.Status = models.JobStatusCancelled
		default:
			j.Status = models.JobStatusFailed
			j.ErrorMessage = execErr.Error()
		}
		return nil
	})
	if err != nil {
		return err
	}

	switch updated.Status {
	case models.JobStatusCompleted:
		w.publisher.PublishJobCompleted(updated)
	case models.JobStatusFailed:
		slog.Warn("Job failed", "job_id", updated.ID, "error", updated.ErrorMessage)
		w.publisher.PublishJobFailed(updated)
	default:
		w.publisher.PublishStatusChanged(updated)
	}

	if updated.BatchID != nil {
		if batch, err := w.store.RecomputeBatchAggregates(ctx, *updated.BatchID); err != nil {
			slog.Warn("Failed to recompute batch aggregates", "batch_id", *updated.BatchID, "error", err)
		} else {
			w.publisher.PublishBatchProgress(batch)
		}
	}
	return nil
}

// pollDelay returns the poll duration with jitter in
// [pollInterval - jitter, pollInterval + jitter].
func (w *Worker) pollDelay() time.Duration {
	offset := time.Duration(rand.Int64N(int64(2 * pollIntervalJitter)))
	return pollInterval - pollIntervalJitter + offset
}

// setStatus updates the worker's health tracking state.
func (w *Worker) setStatus(status WorkerStatus, jobID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.status = status
	w.currentJobID = jobID
	w.lastActivity = time.Now()
}
