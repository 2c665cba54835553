package models

import "time"

// TTSOutput tracks a job's synthesized audio track.
type TTSOutput struct {
	ID    string `json:"id"`
	JobID string `json:"job_id"`

	AudioPath  string  `json:"audio_path"`
	Duration   float64 `json:"duration"`
	SampleRate int     `json:"sample_rate"`
	Format     string  `json:"format"`

	IsTimingSynced   bool    `json:"is_timing_synced"`
	OriginalDuration float64 `json:"original_duration,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}
