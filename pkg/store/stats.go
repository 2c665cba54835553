package store

import (
	"context"
	"fmt"

	"github.com/openscribe/scribed/pkg/models"
)

// Statistics computes the read-only aggregates used by /metrics and the
// queue status view.
func (s *Store) Statistics(ctx context.Context) (*models.JobStatistics, error) {
	stats := &models.JobStatistics{
		CountsByStatus: make(map[models.JobStatus]int),
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM jobs GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to count jobs by status: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var status models.JobStatus
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan status count: %w", err)
		}
		stats.CountsByStatus[status] = count
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	err = s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(duration), 0),
		       COALESCE(AVG(EXTRACT(EPOCH FROM (completed_at - started_at))), 0)
		FROM jobs
		WHERE status = 'completed' AND started_at IS NOT NULL AND completed_at IS NOT NULL`).
		Scan(&stats.AudioProcessedSeconds, &stats.AvgProcessingSeconds)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate processing stats: %w", err)
	}

	err = s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM jobs WHERE created_at > now() - interval '1 hour'`).
		Scan(&stats.JobsLastHour)
	if err != nil {
		return nil, fmt.Errorf("failed to count recent jobs: %w", err)
	}

	err = s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM models WHERE download_status = 'present'`).
		Scan(&stats.ModelsDownloaded)
	if err != nil {
		return nil, fmt.Errorf("failed to count downloaded models: %w", err)
	}

	return stats, nil
}
