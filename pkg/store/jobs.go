package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/openscribe/scribed/pkg/models"
)

const jobColumns = `id, batch_id, filename, original_path, file_size, duration,
	language, detected_language, translate_to, model_id, diarization_model_id, tts_model_id,
	enable_diarization, enable_tts, sync_tts_timing, output_formats,
	priority, queue_position, status, progress, current_stage, error_message,
	transcript_path, tts_audio_path, created_at, started_at, completed_at`

// CreateJob inserts a new job row.
func (s *Store) CreateJob(ctx context.Context, job *models.Job) error {
	formats, err := json.Marshal(job.OutputFormats)
	if err != nil {
		return fmt.Errorf("failed to marshal output formats: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO jobs (`+jobColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24,$25,$26,$27)`,
		job.ID, nullStrPtr(job.BatchID), job.Filename, job.OriginalPath, job.FileSize, job.Duration,
		job.Language, nullStr(job.DetectedLanguage), nullStrPtr(job.TranslateTo),
		nullStrPtr(job.ModelID), nullStrPtr(job.DiarizationModelID), nullStrPtr(job.TTSModelID),
		job.EnableDiarization, job.EnableTTS, job.SyncTTSTiming, formats,
		job.Priority, nullIntPtr(job.QueuePosition), job.Status, job.Progress,
		nullStr(job.CurrentStage), nullStr(job.ErrorMessage),
		nullStr(job.TranscriptPath), nullStr(job.TTSAudioPath),
		job.CreatedAt, nullTimePtr(job.StartedAt), nullTimePtr(job.CompletedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert job: %w", err)
	}
	return nil
}

// GetJob returns a job by id.
func (s *Store) GetJob(ctx context.Context, id string) (*models.Job, error) {
	return getJob(ctx, s.db, id, false)
}

func getJob(ctx context.Context, q querier, id string, forUpdate bool) (*models.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	job, err := scanJob(q.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return job, nil
}

// UpdateJob applies mutate to the current row under a row lock and writes the
// result back in the same transaction. The updated job is returned.
func (s *Store) UpdateJob(ctx context.Context, id string, mutate func(*models.Job) error) (*models.Job, error) {
	var updated *models.Job
	err := s.WithTx(ctx, func(tx *sql.Tx) error {
		job, err := getJob(ctx, tx, id, true)
		if err != nil {
			return err
		}
		if err := mutate(job); err != nil {
			return err
		}
		if err := writeJob(ctx, tx, job); err != nil {
			return err
		}
		updated = job
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func writeJob(ctx context.Context, q querier, job *models.Job) error {
	formats, err := json.Marshal(job.OutputFormats)
	if err != nil {
		return fmt.Errorf("failed to marshal output formats: %w", err)
	}
	_, err = q.ExecContext(ctx, `
		UPDATE jobs SET
			batch_id = $2, filename = $3, file_size = $4, duration = $5,
			language = $6, detected_language = $7, translate_to = $8,
			model_id = $9, diarization_model_id = $10, tts_model_id = $11,
			enable_diarization = $12, enable_tts = $13, sync_tts_timing = $14, output_formats = $15,
			priority = $16, queue_position = $17, status = $18, progress = $19,
			current_stage = $20, error_message = $21, transcript_path = $22, tts_audio_path = $23,
			started_at = $24, completed_at = $25
		WHERE id = $1`,
		job.ID, nullStrPtr(job.BatchID), job.Filename, job.FileSize, job.Duration,
		job.Language, nullStr(job.DetectedLanguage), nullStrPtr(job.TranslateTo),
		nullStrPtr(job.ModelID), nullStrPtr(job.DiarizationModelID), nullStrPtr(job.TTSModelID),
		job.EnableDiarization, job.EnableTTS, job.SyncTTSTiming, formats,
		job.Priority, nullIntPtr(job.QueuePosition), job.Status, job.Progress,
		nullStr(job.CurrentStage), nullStr(job.ErrorMessage),
		nullStr(job.TranscriptPath), nullStr(job.TTSAudioPath),
		nullTimePtr(job.StartedAt), nullTimePtr(job.CompletedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to update job: %w", err)
	}
	return nil
}

// DeleteJob removes a job row. Transcripts and TTS outputs cascade.
func (s *Store) DeleteJob(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM jobs WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete job: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListJobs returns jobs matching the filters ordered by created_at desc,
// plus the total count before pagination.
func (s *Store) ListJobs(ctx context.Context, filters models.JobFilters) ([]*models.Job, int, error) {
	where, args := buildJobFilters(filters)

	var total int
	countQuery := `SELECT COUNT(*) FROM jobs` + where
	if err := s.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count jobs: %w", err)
	}

	query := `SELECT ` + jobColumns + ` FROM jobs` + where + ` ORDER BY created_at DESC`
	if filters.Limit > 0 {
		args = append(args, filters.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if filters.Offset > 0 {
		args = append(args, filters.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	jobs, err := queryJobs(ctx, s.db, query, args...)
	if err != nil {
		return nil, 0, err
	}
	return jobs, total, nil
}

func buildJobFilters(filters models.JobFilters) (string, []any) {
	var conds []string
	var args []any

	if len(filters.Statuses) > 0 {
		var ph []string
		for _, st := range filters.Statuses {
			args = append(args, st)
			ph = append(ph, fmt.Sprintf("$%d", len(args)))
		}
		conds = append(conds, "status IN ("+strings.Join(ph, ",")+")")
	}
	if filters.BatchID != "" {
		args = append(args, filters.BatchID)
		conds = append(conds, fmt.Sprintf("batch_id = $%d", len(args)))
	}
	if filters.Search != "" {
		args = append(args, "%"+filters.Search+"%")
		conds = append(conds, fmt.Sprintf("filename ILIKE $%d", len(args)))
	}
	if filters.CreatedAfter != nil {
		args = append(args, *filters.CreatedAfter)
		conds = append(conds, fmt.Sprintf("created_at >= $%d", len(args)))
	}
	if filters.CreatedBefore != nil {
		args = append(args, *filters.CreatedBefore)
		conds = append(conds, fmt.Sprintf("created_at <= $%d", len(args)))
	}

	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// QueueSnapshot returns all queued and pending jobs in admission order.
func (s *Store) QueueSnapshot(ctx context.Context) ([]*models.Job, error) {
	return queryJobs(ctx, s.db, `
		SELECT `+jobColumns+` FROM jobs
		WHERE status IN ('queued', 'pending')
		ORDER BY priority ASC, created_at ASC`)
}

// RunningJobs returns jobs currently owned by a pipeline run.
func (s *Store) RunningJobs(ctx context.Context) ([]*models.Job, error) {
	return queryJobs(ctx, s.db, `
		SELECT `+jobColumns+` FROM jobs
		WHERE status IN ('processing', 'transcribing', 'diarizing', 'synthesizing', 'syncing')
		ORDER BY started_at ASC`)
}

// PendingCount counts jobs not yet terminal and not running.
func (s *Store) PendingCount(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM jobs WHERE status IN ('queued', 'pending')`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count pending jobs: %w", err)
	}
	return n, nil
}

// ClaimNextQueued atomically claims the queued job with the lowest
// (priority, created_at) tuple, marks it processing and stamps started_at.
// Uses FOR UPDATE SKIP LOCKED so concurrent workers never claim the same job.
// Returns ErrNotFound when the queue is empty.
func (s *Store) ClaimNextQueued(ctx context.Context) (*models.Job, error) {
	var claimed *models.Job
	err := s.WithTx(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, `
			SELECT `+jobColumns+` FROM jobs
			WHERE status = 'queued'
			ORDER BY priority ASC, created_at ASC
			LIMIT 1
			FOR UPDATE SKIP LOCKED`)
		job, err := scanJob(row)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrNotFound
			}
			return fmt.Errorf("failed to select next queued job: %w", err)
		}

		now := time.Now().UTC()
		job.Status = models.JobStatusProcessing
		job.StartedAt = &now
		job.QueuePosition = nil
		if err := writeJob(ctx, tx, job); err != nil {
			return err
		}
		claimed = job
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

// FailOrphanedJobs marks jobs left mid-run by a dead process as failed.
// Returns the ids of the jobs that were failed.
func (s *Store) FailOrphanedJobs(ctx context.Context, message string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		UPDATE jobs
		SET status = 'failed', error_message = $1, completed_at = now()
		WHERE status IN ('processing', 'transcribing', 'diarizing', 'synthesizing', 'syncing')
		RETURNING id`, message)
	if err != nil {
		return nil, fmt.Errorf("failed to fail orphaned jobs: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan orphaned job id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// PurgedJob identifies a job removed by retention cleanup together with the
// upload it owned, so the caller can remove the files on disk.
type PurgedJob struct {
	ID           string
	OriginalPath string
}

// PurgeTerminalJobsBefore deletes terminal jobs that finished before the
// cutoff. Transcripts cascade with the row; batch links are severed by the
// schema. Returns the purged jobs so on-disk artifacts can be cleaned up.
func (s *Store) PurgeTerminalJobsBefore(ctx context.Context, cutoff time.Time) ([]PurgedJob, error) {
	rows, err := s.db.QueryContext(ctx, `
		DELETE FROM jobs
		WHERE status IN ('completed', 'failed', 'cancelled')
		  AND completed_at IS NOT NULL
		  AND completed_at < $1
		RETURNING id, original_path`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to purge old jobs: %w", err)
	}
	defer rows.Close()

	var purged []PurgedJob
	for rows.Next() {
		var p PurgedJob
		if err := rows.Scan(&p.ID, &p.OriginalPath); err != nil {
			return nil, fmt.Errorf("failed to scan purged job: %w", err)
		}
		purged = append(purged, p)
	}
	return purged, rows.Err()
}

// ReorderJobs applies the given priorities and queue positions in one
// transaction. All jobs must currently be in a reorderable status or the
// whole operation fails with no partial effect.
func (s *Store) ReorderJobs(ctx context.Context, jobIDs []string) error {
	return s.WithTx(ctx, func(tx *sql.Tx) error {
		for i, id := range jobIDs {
			job, err := getJob(ctx, tx, id, true)
			if err != nil {
				return err
			}
			if !job.Status.IsReorderable() {
				return fmt.Errorf("job %s has status %s: %w", id, job.Status, ErrNotReorderable)
			}
			priority := i + 1
			if priority > models.PriorityLowest {
				priority = models.PriorityLowest
			}
			pos := i + 1
			job.Priority = priority
			job.QueuePosition = &pos
			if err := writeJob(ctx, tx, job); err != nil {
				return err
			}
		}
		return nil
	})
}

// ErrNotReorderable is returned when a queue operation targets a job whose
// status does not permit it.
var ErrNotReorderable = errors.New("job not in a reorderable status")

func queryJobs(ctx context.Context, q querier, query string, args ...any) ([]*models.Job, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*models.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*models.Job, error) {
	var (
		job                                            models.Job
		batchID, detectedLang, translateTo             sql.NullString
		modelID, diarModelID, ttsModelID               sql.NullString
		currentStage, errorMessage, transcriptPath     sql.NullString
		ttsAudioPath                                   sql.NullString
		queuePos                                       sql.NullInt64
		startedAt, completedAt                         sql.NullTime
		formats                                        []byte
	)

	err := row.Scan(
		&job.ID, &batchID, &job.Filename, &job.OriginalPath, &job.FileSize, &job.Duration,
		&job.Language, &detectedLang, &translateTo, &modelID, &diarModelID, &ttsModelID,
		&job.EnableDiarization, &job.EnableTTS, &job.SyncTTSTiming, &formats,
		&job.Priority, &queuePos, &job.Status, &job.Progress, &currentStage, &errorMessage,
		&transcriptPath, &ttsAudioPath, &job.CreatedAt, &startedAt, &completedAt,
	)
	if err != nil {
		return nil, err
	}

	if len(formats) > 0 {
		if err := json.Unmarshal(formats, &job.OutputFormats); err != nil {
			return nil, fmt.Errorf("failed to unmarshal output formats: %w", err)
		}
	}
	job.BatchID = strPtr(batchID)
	job.DetectedLanguage = strOrEmpty(detectedLang)
	job.TranslateTo = strPtr(translateTo)
	job.ModelID = strPtr(modelID)
	job.DiarizationModelID = strPtr(diarModelID)
	job.TTSModelID = strPtr(ttsModelID)
	job.CurrentStage = strOrEmpty(currentStage)
	job.ErrorMessage = strOrEmpty(errorMessage)
	job.TranscriptPath = strOrEmpty(transcriptPath)
	job.TTSAudioPath = strOrEmpty(ttsAudioPath)
	job.QueuePosition = intPtr(queuePos)
	job.StartedAt = timePtr(startedAt)
	job.CompletedAt = timePtr(completedAt)

	return &job, nil
}
