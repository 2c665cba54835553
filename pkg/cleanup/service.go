// Package cleanup provides data retention for finished jobs.
package cleanup

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/openscribe/scribed/pkg/config"
	"github.com/openscribe/scribed/pkg/store"
)

// jobPurger is the slice of the store the sweep needs.
type jobPurger interface {
	PurgeTerminalJobsBefore(ctx context.Context, cutoff time.Time) ([]store.PurgedJob, error)
}

// Service periodically enforces the retention policy: terminal jobs older
// than the configured retention are deleted from the database together with
// their upload and output files. Sweeps are idempotent.
type Service struct {
	cfg   *config.Config
	store jobPurger

	cancel context.CancelFunc
	done   chan struct{}
}

// NewService creates a new cleanup service.
func NewService(cfg *config.Config, st jobPurger) *Service {
	return &Service{cfg: cfg, store: st}
}

// Start launches the background cleanup loop. It is a no-op when retention
// is disabled.
func (s *Service) Start(ctx context.Context) {
	if s.cfg.JobRetentionDays <= 0 || s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go s.run(ctx)

	slog.Info("Cleanup service started",
		"retention_days", s.cfg.JobRetentionDays,
		"interval", s.cfg.CleanupInterval)
}

// Stop signals the cleanup loop to exit and waits for it to finish.
func (s *Service) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	s.cancel = nil
	slog.Info("Cleanup service stopped")
}

func (s *Service) run(ctx context.Context) {
	defer close(s.done)

	s.sweep(ctx)

	ticker := time.NewTicker(s.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Service) sweep(ctx context.Context) {
	cutoff := time.Now().UTC().AddDate(0, 0, -s.cfg.JobRetentionDays)

	purged, err := s.store.PurgeTerminalJobsBefore(ctx, cutoff)
	if err != nil {
		slog.Error("Retention: job purge failed", "error", err)
		return
	}
	if len(purged) == 0 {
		return
	}

	// File removal is best-effort; the rows are already gone.
	for _, job := range purged {
		if job.OriginalPath != "" {
			if err := os.Remove(job.OriginalPath); err != nil && !os.IsNotExist(err) {
				slog.Warn("Retention: could not remove upload", "path", job.OriginalPath, "error", err)
			}
		}
		if err := os.RemoveAll(s.cfg.JobOutputDir(job.ID)); err != nil {
			slog.Warn("Retention: could not remove job outputs", "job_id", job.ID, "error", err)
		}
	}
	slog.Info("Retention: purged old jobs", "count", len(purged), "cutoff", cutoff)
}
