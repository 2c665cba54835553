package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/openscribe/scribed/pkg/events"
	"github.com/openscribe/scribed/pkg/store"
)

// WorkerPool manages a pool of queue workers. The pool size is the admission
// limit: at most that many jobs run concurrently.
type WorkerPool struct {
	store     *store.Store
	publisher *events.Publisher
	executor  JobExecutor
	size      int
	workers   []*Worker

	// Job cancel registry: job id → cancel function for the live run.
	mu         sync.RWMutex
	activeJobs map[string]context.CancelFunc
	started    bool
}

// NewWorkerPool creates a worker pool of the given size.
func NewWorkerPool(st *store.Store, publisher *events.Publisher, executor JobExecutor, size int) *WorkerPool {
	if size < 1 {
		size = 1
	}
	return &WorkerPool{
		store:      st,
		publisher:  publisher,
		executor:   executor,
		size:       size,
		workers:    make([]*Worker, 0, size),
		activeJobs: make(map[string]context.CancelFunc),
	}
}

// Size returns the pool's concurrency limit.
func (p *WorkerPool) Size() int {
	return p.size
}

// Start spawns the worker goroutines. Safe to call multiple times; subsequent
// calls are no-ops.
func (p *WorkerPool) Start(ctx context.Context) error {
	if p.started {
		slog.Warn("Worker pool already started, ignoring duplicate Start call")
		return nil
	}
	p.started = true

	slog.Info("Starting worker pool", "worker_count", p.size)
	for i := 0; i < p.size; i++ {
		worker := NewWorker(fmt.Sprintf("worker-%d", i), p.store, p.publisher, p.executor, p)
		p.workers = append(p.workers, worker)
		worker.Start(ctx)
	}
	return nil
}

// Stop signals all workers to stop and waits for them to finish. Workers
// finish their current jobs before exiting.
func (p *WorkerPool) Stop() {
	slog.Info("Stopping worker pool gracefully")

	active := p.activeJobIDs()
	if len(active) > 0 {
		slog.Info("Waiting for active jobs to complete", "count", len(active), "job_ids", active)
	}

	for _, worker := range p.workers {
		worker.Stop()
	}
	slog.Info("Worker pool stopped gracefully")
}

// RegisterJob stores a cancel function for API-triggered cancellation.
func (p *WorkerPool) RegisterJob(jobID string, cancel context.CancelFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.activeJobs[jobID] = cancel
}

// UnregisterJob removes the cancel function when processing ends.
func (p *WorkerPool) UnregisterJob(jobID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.activeJobs, jobID)
}

// CancelRun triggers context cancellation for a live run. Returns true when
// the job was found and its run cancelled.
func (p *WorkerPool) CancelRun(jobID string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if cancel, ok := p.activeJobs[jobID]; ok {
		cancel()
		return true
	}
	return false
}

// Health returns the current health status of the pool.
func (p *WorkerPool) Health() *PoolHealth {
	ctx := context.Background()

	queueDepth, err := p.store.PendingCount(ctx)
	if err != nil {
		slog.Error("Failed to query queue depth for health check", "error", err)
	}

	workerStats := make([]WorkerHealth, len(p.workers))
	activeWorkers := 0
	for i, worker := range p.workers {
		stats := worker.Health()
		workerStats[i] = stats
		if stats.Status == string(WorkerStatusWorking) {
			activeWorkers++
		}
	}

	var dbError string
	if err != nil {
		dbError = fmt.Sprintf("queue depth query failed: %v", err)
	}

	return &PoolHealth{
		IsHealthy:     len(p.workers) > 0 && err == nil,
		DBReachable:   err == nil,
		DBError:       dbError,
		ActiveWorkers: activeWorkers,
		TotalWorkers:  len(p.workers),
		QueueDepth:    queueDepth,
		WorkerStats:   workerStats,
	}
}

func (p *WorkerPool) activeJobIDs() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	ids := make([]string, 0, len(p.activeJobs))
	for id := range p.activeJobs {
		ids = append(ids, id)
	}
	return ids
}
