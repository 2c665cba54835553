package queue

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/openscribe/scribed/pkg/events"
	"github.com/openscribe/scribed/pkg/store"
)

// RecoverStartupOrphans fails jobs left mid-run by a previous process that
// died without recording a terminal status. Called once during startup,
// before the worker pool begins processing. Idempotent.
func RecoverStartupOrphans(ctx context.Context, st *store.Store, publisher *events.Publisher) error {
	ids, err := st.FailOrphanedJobs(ctx, "interrupted: process restarted while job was running")
	if err != nil {
		return fmt.Errorf("failed to recover orphaned jobs: %w", err)
	}
	if len(ids) == 0 {
		return nil
	}

	slog.Warn("Recovered orphaned jobs from previous run", "count", len(ids), "job_ids", ids)

	for _, id := range ids {
		job, err := st.GetJob(ctx, id)
		if err != nil {
			slog.Error("Failed to load recovered orphan", "job_id", id, "error", err)
			continue
		}
		publisher.PublishJobFailed(job)

		if job.BatchID != nil {
			if batch, err := st.RecomputeBatchAggregates(ctx, *job.BatchID); err != nil {
				slog.Warn("Failed to recompute batch after orphan recovery", "batch_id", *job.BatchID, "error", err)
			} else {
				publisher.PublishBatchProgress(batch)
			}
		}
	}
	return nil
}
