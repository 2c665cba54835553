package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/openscribe/scribed/pkg/models"
)

// CreateTTSOutput inserts a synthesized-audio record for a job.
func (s *Store) CreateTTSOutput(ctx context.Context, out *models.TTSOutput) error {
	var origDuration sql.NullFloat64
	if out.OriginalDuration != 0 {
		origDuration = sql.NullFloat64{Float64: out.OriginalDuration, Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tts_outputs (id, job_id, audio_path, duration, sample_rate, format, is_timing_synced, original_duration, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		out.ID, out.JobID, out.AudioPath, out.Duration, out.SampleRate, out.Format,
		out.IsTimingSynced, origDuration, out.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert tts output: %w", err)
	}
	return nil
}

// GetTTSOutputByJob returns the newest TTS output for a job.
func (s *Store) GetTTSOutputByJob(ctx context.Context, jobID string) (*models.TTSOutput, error) {
	var out models.TTSOutput
	var origDuration sql.NullFloat64
	err := s.db.QueryRowContext(ctx, `
		SELECT id, job_id, audio_path, duration, sample_rate, format, is_timing_synced, original_duration, created_at
		FROM tts_outputs WHERE job_id = $1
		ORDER BY created_at DESC LIMIT 1`, jobID).
		Scan(&out.ID, &out.JobID, &out.AudioPath, &out.Duration, &out.SampleRate,
			&out.Format, &out.IsTimingSynced, &origDuration, &out.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get tts output: %w", err)
	}
	if origDuration.Valid {
		out.OriginalDuration = origDuration.Float64
	}
	return &out, nil
}

// MarkTTSOutputSynced records that timing sync replaced the audio track.
func (s *Store) MarkTTSOutputSynced(ctx context.Context, id, audioPath string, originalDuration float64) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE tts_outputs
		SET is_timing_synced = TRUE, audio_path = $2, original_duration = $3
		WHERE id = $1`,
		id, audioPath, originalDuration)
	if err != nil {
		return fmt.Errorf("failed to mark tts output synced: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
