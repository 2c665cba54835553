package pipeline

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/openscribe/scribed/pkg/engine"
	"github.com/openscribe/scribed/pkg/events"
	"github.com/openscribe/scribed/pkg/models"
)

// Stage progress bands. Each stage owns a contiguous slice of 0..100; a
// skipped stage reports once at its band floor.
const (
	bandPrepareLow    = 0.0
	bandTranscribeLow = 5.0
	bandDiarizeLow    = 60.0
	bandSynthesizeLow = 75.0
	bandSyncLow       = 90.0
	bandFinalizeLow   = 99.0
	bandDone          = 100.0
)

// Stage names as reported in progress events.
const (
	stagePrepare    = "prepare"
	stageTranscribe = "transcribe"
	stageDiarize    = "diarize"
	stageSynthesize = "synthesize"
	stageSync       = "sync"
	stageFinalize   = "finalize"
)

// persistInterval throttles mid-stage progress writes to the store. Events
// are always emitted.
const persistInterval = 500 * time.Millisecond

// progressStore is the slice of the store the tracker persists through.
type progressStore interface {
	UpdateJob(ctx context.Context, id string, mutate func(*models.Job) error) (*models.Job, error)
}

// tracker maps stage-local fractions onto the job's overall progress,
// enforcing monotonicity, and fans updates out to the store and the bus.
type tracker struct {
	store     progressStore
	publisher *events.Publisher
	jobID     string

	mu          sync.Mutex
	value       float64
	lastPersist time.Time
}

func newTracker(st progressStore, publisher *events.Publisher, jobID string) *tracker {
	return &tracker{store: st, publisher: publisher, jobID: jobID}
}

// report sets overall progress, clamped so it never moves backwards.
// force bypasses the persistence throttle; stage boundaries use it.
func (t *tracker) report(ctx context.Context, stage string, value float64, message string, force bool) {
	t.mu.Lock()
	if value < t.value {
		value = t.value
	}
	t.value = value
	persist := force || time.Since(t.lastPersist) >= persistInterval
	if persist {
		t.lastPersist = time.Now()
	}
	t.mu.Unlock()

	t.publisher.PublishJobProgress(t.jobID, stage, value, message)

	if persist {
		_, err := t.store.UpdateJob(ctx, t.jobID, func(j *models.Job) error {
			if value > j.Progress {
				j.Progress = value
			}
			j.CurrentStage = stage
			return nil
		})
		if err != nil {
			slog.Warn("Failed to persist job progress", "job_id", t.jobID, "error", err)
		}
	}
}

// stageFunc returns an adapter callback mapping a stage-local fraction onto
// the [low, high] band of overall progress.
func (t *tracker) stageFunc(ctx context.Context, stage string, low, high float64) engine.ProgressFunc {
	return func(fraction float64) {
		if fraction < 0 {
			fraction = 0
		}
		if fraction > 1 {
			fraction = 1
		}
		t.report(ctx, stage, low+(high-low)*fraction, "", false)
	}
}

// current returns the latest overall progress value.
func (t *tracker) current() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.value
}
