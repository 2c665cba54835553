// Package queue provides job queue management and processing infrastructure.
package queue

import (
	"context"
	"errors"
	"time"

	"github.com/openscribe/scribed/pkg/models"
)

// Sentinel errors for queue operations.
var (
	// ErrNoJobsAvailable indicates no queued jobs are waiting.
	ErrNoJobsAvailable = errors.New("no jobs available")
)

// JobExecutor runs the full processing pipeline for a claimed job.
//
// The executor owns all intermediate state: stage status transitions,
// progress, transcripts and artifacts are written progressively during the
// run. The worker only handles claiming, cancellation wiring and the
// terminal status transition. A nil return means the job completed; a
// context cancellation error means it was cancelled.
type JobExecutor interface {
	Execute(ctx context.Context, job *models.Job) error
}

// PoolHealth contains health information for the entire worker pool.
type PoolHealth struct {
	IsHealthy     bool           `json:"is_healthy"`
	DBReachable   bool           `json:"db_reachable"`
	DBError       string         `json:"db_error,omitempty"`
	ActiveWorkers int            `json:"active_workers"`
	TotalWorkers  int            `json:"total_workers"`
	QueueDepth    int            `json:"queue_depth"`
	WorkerStats   []WorkerHealth `json:"worker_stats"`
}

// WorkerHealth contains health information for a single worker.
type WorkerHealth struct {
	ID            string    `json:"id"`
	Status        string    `json:"status"` // "idle" or "working"
	CurrentJobID  string    `json:"current_job_id,omitempty"`
	JobsProcessed int       `json:"jobs_processed"`
	LastActivity  time.Time `json:"last_activity"`
}
