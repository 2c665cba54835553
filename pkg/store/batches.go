package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/openscribe/scribed/pkg/models"
)

const batchColumns = `id, name, total_files, completed_files, failed_files,
	status, progress, created_at, completed_at`

// CreateBatch inserts a new batch row.
func (s *Store) CreateBatch(ctx context.Context, batch *models.JobBatch) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO job_batches (`+batchColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		batch.ID, batch.Name, batch.TotalFiles, batch.CompletedFiles, batch.FailedFiles,
		batch.Status, batch.Progress, batch.CreatedAt, nullTimePtr(batch.CompletedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert batch: %w", err)
	}
	return nil
}

// GetBatch returns a batch by id.
func (s *Store) GetBatch(ctx context.Context, id string) (*models.JobBatch, error) {
	batch, err := scanBatch(s.db.QueryRowContext(ctx,
		`SELECT `+batchColumns+` FROM job_batches WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get batch: %w", err)
	}
	return batch, nil
}

// ListBatches returns batches ordered by created_at desc with a total count.
func (s *Store) ListBatches(ctx context.Context, limit, offset int) ([]*models.JobBatch, int, error) {
	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM job_batches`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count batches: %w", err)
	}

	query := `SELECT ` + batchColumns + ` FROM job_batches ORDER BY created_at DESC`
	var args []any
	if limit > 0 {
		args = append(args, limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if offset > 0 {
		args = append(args, offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query batches: %w", err)
	}
	defer rows.Close()

	var batches []*models.JobBatch
	for rows.Next() {
		batch, err := scanBatch(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan batch: %w", err)
		}
		batches = append(batches, batch)
	}
	return batches, total, rows.Err()
}

// DeleteBatch removes a batch row. Member jobs are deleted by the caller.
func (s *Store) DeleteBatch(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM job_batches WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete batch: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// RecomputeBatchAggregates rederives the batch counters, progress and status
// from its member jobs in one transaction and returns the updated batch.
// The batch terminates when all members are terminal; its status is completed
// iff no member failed.
func (s *Store) RecomputeBatchAggregates(ctx context.Context, batchID string) (*models.JobBatch, error) {
	var updated *models.JobBatch
	err := s.WithTx(ctx, func(tx *sql.Tx) error {
		batch, err := scanBatch(tx.QueryRowContext(ctx,
			`SELECT `+batchColumns+` FROM job_batches WHERE id = $1 FOR UPDATE`, batchID))
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrNotFound
			}
			return fmt.Errorf("failed to lock batch: %w", err)
		}

		var total, completed, failed, cancelled int
		var progressSum float64
		err = tx.QueryRowContext(ctx, `
			SELECT COUNT(*),
			       COUNT(*) FILTER (WHERE status = 'completed'),
			       COUNT(*) FILTER (WHERE status = 'failed'),
			       COUNT(*) FILTER (WHERE status = 'cancelled'),
			       COALESCE(SUM(progress), 0)
			FROM jobs WHERE batch_id = $1`, batchID).
			Scan(&total, &completed, &failed, &cancelled, &progressSum)
		if err != nil {
			return fmt.Errorf("failed to aggregate batch jobs: %w", err)
		}

		batch.CompletedFiles = completed
		batch.FailedFiles = failed
		if total > 0 {
			batch.Progress = progressSum / float64(total)
		}

		terminal := completed + failed + cancelled
		if total > 0 && terminal == total {
			if failed > 0 {
				batch.Status = models.JobStatusFailed
			} else {
				batch.Status = models.JobStatusCompleted
			}
			if batch.CompletedAt == nil {
				now := time.Now().UTC()
				batch.CompletedAt = &now
			}
		} else if terminal < total && total > 0 {
			batch.Status = models.JobStatusProcessing
		}

		_, err = tx.ExecContext(ctx, `
			UPDATE job_batches
			SET completed_files = $2, failed_files = $3, status = $4, progress = $5, completed_at = $6
			WHERE id = $1`,
			batch.ID, batch.CompletedFiles, batch.FailedFiles, batch.Status, batch.Progress,
			nullTimePtr(batch.CompletedAt),
		)
		if err != nil {
			return fmt.Errorf("failed to update batch aggregates: %w", err)
		}
		updated = batch
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func scanBatch(row rowScanner) (*models.JobBatch, error) {
	var batch models.JobBatch
	var completedAt sql.NullTime

	err := row.Scan(
		&batch.ID, &batch.Name, &batch.TotalFiles, &batch.CompletedFiles, &batch.FailedFiles,
		&batch.Status, &batch.Progress, &batch.CreatedAt, &completedAt,
	)
	if err != nil {
		return nil, err
	}
	batch.CompletedAt = timePtr(completedAt)
	return &batch, nil
}
