package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/openscribe/scribed/pkg/models"
)

// CreateTranscript inserts a transcript and all its segments in one
// transaction. A job has at most one transcript.
func (s *Store) CreateTranscript(ctx context.Context, t *models.Transcript) error {
	return s.WithTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO transcripts (id, job_id, language, duration, word_count, speaker_count, full_text, created_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
			t.ID, t.JobID, nullStr(t.Language), t.Duration, t.WordCount, t.SpeakerCount,
			t.FullText, t.CreatedAt,
		)
		if err != nil {
			if isUniqueViolation(err) {
				return ErrDuplicate
			}
			return fmt.Errorf("failed to insert transcript: %w", err)
		}
		return insertSegments(ctx, tx, t.Segments)
	})
}

func insertSegments(ctx context.Context, tx *sql.Tx, segments []*models.Segment) error {
	for _, seg := range segments {
		var words []byte
		if len(seg.Words) > 0 {
			var err error
			words, err = json.Marshal(seg.Words)
			if err != nil {
				return fmt.Errorf("failed to marshal segment words: %w", err)
			}
		}
		var confidence sql.NullFloat64
		if seg.Confidence != 0 {
			confidence = sql.NullFloat64{Float64: seg.Confidence, Valid: true}
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO transcript_segments (id, transcript_id, segment_index, start_time, end_time, text, speaker, confidence, words)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
			seg.ID, seg.TranscriptID, seg.Index, seg.Start, seg.End, seg.Text,
			nullStr(seg.Speaker), confidence, nullBytes(words),
		)
		if err != nil {
			return fmt.Errorf("failed to insert segment %d: %w", seg.Index, err)
		}
	}
	return nil
}

// GetTranscriptByJob returns a job's transcript with segments ordered by index.
func (s *Store) GetTranscriptByJob(ctx context.Context, jobID string) (*models.Transcript, error) {
	var t models.Transcript
	var language sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT id, job_id, language, duration, word_count, speaker_count, full_text, created_at
		FROM transcripts WHERE job_id = $1`, jobID).
		Scan(&t.ID, &t.JobID, &language, &t.Duration, &t.WordCount, &t.SpeakerCount,
			&t.FullText, &t.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get transcript: %w", err)
	}
	t.Language = strOrEmpty(language)

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, transcript_id, segment_index, start_time, end_time, text, speaker, confidence, words
		FROM transcript_segments
		WHERE transcript_id = $1
		ORDER BY segment_index ASC`, t.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to query segments: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		seg, err := scanSegment(rows)
		if err != nil {
			return nil, err
		}
		t.Segments = append(t.Segments, seg)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &t, nil
}

// RemapSpeakers rewrites speaker labels on a transcript's segments according
// to the mapping, then rederives speaker_count. Labels absent from the
// mapping are left unchanged. The edit is destructive and idempotent for
// identity mappings.
func (s *Store) RemapSpeakers(ctx context.Context, jobID string, mapping map[string]string) (*models.Transcript, error) {
	err := s.WithTx(ctx, func(tx *sql.Tx) error {
		var transcriptID string
		err := tx.QueryRowContext(ctx,
			`SELECT id FROM transcripts WHERE job_id = $1 FOR UPDATE`, jobID).
			Scan(&transcriptID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrNotFound
			}
			return fmt.Errorf("failed to lock transcript: %w", err)
		}

		if len(mapping) == 0 {
			return nil
		}
		// One statement so every row is matched against its pre-update label;
		// sequential per-label updates would corrupt swap mappings like
		// {A→B, B→A}.
		values := make([]string, 0, len(mapping))
		args := []any{transcriptID}
		n := 2
		for from, to := range mapping {
			values = append(values, fmt.Sprintf("($%d::text, $%d::text)", n, n+1))
			args = append(args, from, to)
			n += 2
		}
		query := fmt.Sprintf(`
			UPDATE transcript_segments AS s SET speaker = m.new_label
			FROM (VALUES %s) AS m(old_label, new_label)
			WHERE s.transcript_id = $1 AND s.speaker = m.old_label`,
			strings.Join(values, ", "))
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("failed to remap speakers: %w", err)
		}

		_, err = tx.ExecContext(ctx, `
			UPDATE transcripts SET speaker_count = (
				SELECT COUNT(DISTINCT speaker) FROM transcript_segments
				WHERE transcript_id = $1 AND speaker IS NOT NULL AND speaker <> ''
			) WHERE id = $1`, transcriptID)
		if err != nil {
			return fmt.Errorf("failed to update speaker count: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.GetTranscriptByJob(ctx, jobID)
}

// UpdateSegmentSpeakers overwrites the speaker labels for the given segment
// indices and rederives speaker_count. Used by the diarization stage.
func (s *Store) UpdateSegmentSpeakers(ctx context.Context, transcriptID string, speakers map[int]string) error {
	return s.WithTx(ctx, func(tx *sql.Tx) error {
		for index, speaker := range speakers {
			if _, err := tx.ExecContext(ctx, `
				UPDATE transcript_segments SET speaker = $3
				WHERE transcript_id = $1 AND segment_index = $2`,
				transcriptID, index, nullStr(speaker)); err != nil {
				return fmt.Errorf("failed to set segment %d speaker: %w", index, err)
			}
		}
		_, err := tx.ExecContext(ctx, `
			UPDATE transcripts SET speaker_count = (
				SELECT COUNT(DISTINCT speaker) FROM transcript_segments
				WHERE transcript_id = $1 AND speaker IS NOT NULL AND speaker <> ''
			) WHERE id = $1`, transcriptID)
		if err != nil {
			return fmt.Errorf("failed to update speaker count: %w", err)
		}
		return nil
	})
}

func scanSegment(row rowScanner) (*models.Segment, error) {
	var seg models.Segment
	var speaker sql.NullString
	var confidence sql.NullFloat64
	var words []byte

	err := row.Scan(&seg.ID, &seg.TranscriptID, &seg.Index, &seg.Start, &seg.End,
		&seg.Text, &speaker, &confidence, &words)
	if err != nil {
		return nil, fmt.Errorf("failed to scan segment: %w", err)
	}
	seg.Speaker = strOrEmpty(speaker)
	if confidence.Valid {
		seg.Confidence = confidence.Float64
	}
	if len(words) > 0 {
		if err := json.Unmarshal(words, &seg.Words); err != nil {
			return nil, fmt.Errorf("failed to unmarshal segment words: %w", err)
		}
	}
	return &seg, nil
}

func nullBytes(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return b
}
