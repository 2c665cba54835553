package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/openscribe/scribed/pkg/models"
)

const modelColumns = `id, name, model_type, engine, source, upstream_id, revision,
	info, compute_type, device, is_default, download_status, download_progress,
	download_error, local_path, created_at, last_used_at`

// CreateModel inserts a model row. If the model is flagged default, the flag
// is atomically removed from other models of the same type in the same
// transaction. Duplicate (engine, upstream_id) pairs return ErrDuplicate.
func (s *Store) CreateModel(ctx context.Context, m *models.Model) error {
	info, err := json.Marshal(m.Info)
	if err != nil {
		return fmt.Errorf("failed to marshal model info: %w", err)
	}

	return s.WithTx(ctx, func(tx *sql.Tx) error {
		if m.IsDefault {
			if _, err := tx.ExecContext(ctx,
				`UPDATE models SET is_default = FALSE WHERE model_type = $1 AND is_default`,
				m.ModelType); err != nil {
				return fmt.Errorf("failed to clear default flag: %w", err)
			}
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO models (`+modelColumns+`)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)`,
			m.ID, m.Name, m.ModelType, m.Engine, m.Source, m.UpstreamID, nullStr(m.Revision),
			info, nullStr(m.ComputeType), nullStr(m.Device), m.IsDefault,
			m.DownloadStatus, m.DownloadProgress, nullStr(m.DownloadError), nullStr(m.LocalPath),
			m.CreatedAt, nullTimePtr(m.LastUsedAt),
		)
		if err != nil {
			if isUniqueViolation(err) {
				return ErrDuplicate
			}
			return fmt.Errorf("failed to insert model: %w", err)
		}
		return nil
	})
}

// GetModel returns a model by id.
func (s *Store) GetModel(ctx context.Context, id string) (*models.Model, error) {
	return getModel(ctx, s.db, id, false)
}

func getModel(ctx context.Context, q querier, id string, forUpdate bool) (*models.Model, error) {
	query := `SELECT ` + modelColumns + ` FROM models WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	m, err := scanModel(q.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get model: %w", err)
	}
	return m, nil
}

// UpdateModel applies mutate under a row lock and writes the result back.
func (s *Store) UpdateModel(ctx context.Context, id string, mutate func(*models.Model) error) (*models.Model, error) {
	var updated *models.Model
	err := s.WithTx(ctx, func(tx *sql.Tx) error {
		m, err := getModel(ctx, tx, id, true)
		if err != nil {
			return err
		}
		if err := mutate(m); err != nil {
			return err
		}
		info, err := json.Marshal(m.Info)
		if err != nil {
			return fmt.Errorf("failed to marshal model info: %w", err)
		}
		_, err = tx.ExecContext(ctx, `
			UPDATE models SET
				name = $2, revision = $3, info = $4, compute_type = $5, device = $6,
				is_default = $7, download_status = $8, download_progress = $9,
				download_error = $10, local_path = $11, last_used_at = $12
			WHERE id = $1`,
			m.ID, m.Name, nullStr(m.Revision), info, nullStr(m.ComputeType), nullStr(m.Device),
			m.IsDefault, m.DownloadStatus, m.DownloadProgress,
			nullStr(m.DownloadError), nullStr(m.LocalPath), nullTimePtr(m.LastUsedAt),
		)
		if err != nil {
			return fmt.Errorf("failed to update model: %w", err)
		}
		updated = m
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// SetDefaultModel atomically makes the given model the default for its type.
func (s *Store) SetDefaultModel(ctx context.Context, id string) (*models.Model, error) {
	var updated *models.Model
	err := s.WithTx(ctx, func(tx *sql.Tx) error {
		m, err := getModel(ctx, tx, id, true)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE models SET is_default = FALSE WHERE model_type = $1 AND is_default AND id <> $2`,
			m.ModelType, m.ID); err != nil {
			return fmt.Errorf("failed to clear default flag: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE models SET is_default = TRUE WHERE id = $1`, m.ID); err != nil {
			return fmt.Errorf("failed to set default flag: %w", err)
		}
		m.IsDefault = true
		updated = m
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// GetDefaultModel returns the default model for the given type, or
// ErrNotFound when no default is configured.
func (s *Store) GetDefaultModel(ctx context.Context, t models.ModelType) (*models.Model, error) {
	m, err := scanModel(s.db.QueryRowContext(ctx,
		`SELECT `+modelColumns+` FROM models WHERE model_type = $1 AND is_default`, t))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get default model: %w", err)
	}
	return m, nil
}

// ListModels returns models matching the filters, newest first.
func (s *Store) ListModels(ctx context.Context, filters models.ModelFilters) ([]*models.Model, error) {
	query := `SELECT ` + modelColumns + ` FROM models`
	var conds []string
	var args []any
	if filters.ModelType != "" {
		args = append(args, filters.ModelType)
		conds = append(conds, fmt.Sprintf("model_type = $%d", len(args)))
	}
	if filters.Engine != "" {
		args = append(args, filters.Engine)
		conds = append(conds, fmt.Sprintf("engine = $%d", len(args)))
	}
	for i, c := range conds {
		if i == 0 {
			query += " WHERE " + c
		} else {
			query += " AND " + c
		}
	}
	query += " ORDER BY created_at DESC"
	if filters.Limit > 0 {
		args = append(args, filters.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if filters.Offset > 0 {
		args = append(args, filters.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query models: %w", err)
	}
	defer rows.Close()

	var out []*models.Model
	for rows.Next() {
		m, err := scanModel(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan model: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// DeleteModel removes a model registration.
func (s *Store) DeleteModel(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM models WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete model: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// TouchModel stamps last_used_at. Best-effort bookkeeping for cache eviction
// diagnostics; errors are the caller's choice to ignore.
func (s *Store) TouchModel(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE models SET last_used_at = $2 WHERE id = $1`, id, time.Now().UTC())
	return err
}

func scanModel(row rowScanner) (*models.Model, error) {
	var (
		m                                  models.Model
		revision, computeType, device      sql.NullString
		downloadError, localPath           sql.NullString
		info                               []byte
		lastUsedAt                         sql.NullTime
	)

	err := row.Scan(
		&m.ID, &m.Name, &m.ModelType, &m.Engine, &m.Source, &m.UpstreamID, &revision,
		&info, &computeType, &device, &m.IsDefault, &m.DownloadStatus, &m.DownloadProgress,
		&downloadError, &localPath, &m.CreatedAt, &lastUsedAt,
	)
	if err != nil {
		return nil, err
	}

	if len(info) > 0 {
		if err := json.Unmarshal(info, &m.Info); err != nil {
			return nil, fmt.Errorf("failed to unmarshal model info: %w", err)
		}
	}
	m.Revision = strOrEmpty(revision)
	m.ComputeType = strOrEmpty(computeType)
	m.Device = strOrEmpty(device)
	m.DownloadError = strOrEmpty(downloadError)
	m.LocalPath = strOrEmpty(localPath)
	m.LastUsedAt = timePtr(lastUsedAt)

	return &m, nil
}
