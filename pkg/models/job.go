package models

import (
	"time"
)

// JobStatus is the lifecycle status of a transcription job.
type JobStatus string

const (
	JobStatusPending      JobStatus = "pending"
	JobStatusQueued       JobStatus = "queued"
	JobStatusProcessing   JobStatus = "processing"
	JobStatusTranscribing JobStatus = "transcribing"
	JobStatusDiarizing    JobStatus = "diarizing"
	JobStatusSynthesizing JobStatus = "synthesizing"
	JobStatusSyncing      JobStatus = "syncing"
	JobStatusCompleted    JobStatus = "completed"
	JobStatusFailed       JobStatus = "failed"
	JobStatusCancelled    JobStatus = "cancelled"
)

// IsTerminal reports whether the status permits no further transitions.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusCancelled
}

// IsReorderable reports whether queue operations (reorder, priority change)
// are legal for this status.
func (s JobStatus) IsReorderable() bool {
	return s == JobStatusPending || s == JobStatusQueued
}

// IsRunning reports whether a pipeline run currently owns the job.
func (s JobStatus) IsRunning() bool {
	switch s {
	case JobStatusProcessing, JobStatusTranscribing, JobStatusDiarizing,
		JobStatusSynthesizing, JobStatusSyncing:
		return true
	}
	return false
}

// OutputFormat is a transcript export format.
type OutputFormat string

const (
	FormatJSON OutputFormat = "json"
	FormatSRT  OutputFormat = "srt"
	FormatVTT  OutputFormat = "vtt"
	FormatTXT  OutputFormat = "txt"
)

// ValidOutputFormat reports whether f is a supported export format.
func ValidOutputFormat(f OutputFormat) bool {
	switch f {
	case FormatJSON, FormatSRT, FormatVTT, FormatTXT:
		return true
	}
	return false
}

const (
	// PriorityHighest is the most urgent priority.
	PriorityHighest = 1
	// PriorityDefault is assigned when the caller does not specify one.
	PriorityDefault = 5
	// PriorityLowest is the least urgent priority.
	PriorityLowest = 10
)

// Job is a single transcription job.
type Job struct {
	ID      string  `json:"id"`
	BatchID *string `json:"batch_id,omitempty"`

	Filename     string  `json:"filename"`
	OriginalPath string  `json:"original_path"`
	FileSize     int64   `json:"file_size"`
	Duration     float64 `json:"duration"`

	Language           string  `json:"language"`
	DetectedLanguage   string  `json:"detected_language,omitempty"`
	TranslateTo        *string `json:"translate_to,omitempty"`
	ModelID            *string `json:"model_id,omitempty"`
	DiarizationModelID *string `json:"diarization_model_id,omitempty"`
	TTSModelID         *string `json:"tts_model_id,omitempty"`

	EnableDiarization bool           `json:"enable_diarization"`
	EnableTTS         bool           `json:"enable_tts"`
	SyncTTSTiming     bool           `json:"sync_tts_timing"`
	OutputFormats     []OutputFormat `json:"output_formats"`

	Priority      int  `json:"priority"`
	QueuePosition *int `json:"queue_position,omitempty"`

	Status       JobStatus `json:"status"`
	Progress     float64   `json:"progress"`
	CurrentStage string    `json:"current_stage,omitempty"`
	ErrorMessage string    `json:"error_message,omitempty"`

	TranscriptPath string `json:"transcript_path,omitempty"`
	TTSAudioPath   string `json:"tts_audio_path,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// CreateJobRequest contains the processing options for a new job.
type CreateJobRequest struct {
	Filename          string         `json:"filename"`
	Language          string         `json:"language"`
	TranslateTo       *string        `json:"translate_to,omitempty"`
	ModelID           *string        `json:"model_id,omitempty"`
	EnableDiarization bool           `json:"enable_diarization"`
	EnableTTS         bool           `json:"enable_tts"`
	SyncTTSTiming     bool           `json:"sync_tts_timing"`
	OutputFormats     []OutputFormat `json:"output_formats"`
	Priority          int            `json:"priority"`
}

// JobFilters contains filtering options for listing jobs.
type JobFilters struct {
	Statuses      []JobStatus `json:"statuses,omitempty"`
	BatchID       string      `json:"batch_id,omitempty"`
	Search        string      `json:"search,omitempty"`
	CreatedAfter  *time.Time  `json:"created_after,omitempty"`
	CreatedBefore *time.Time  `json:"created_before,omitempty"`
	Limit         int         `json:"limit,omitempty"`
	Offset        int         `json:"offset,omitempty"`
}

// JobListResponse contains a paginated job list.
type JobListResponse struct {
	Jobs       []*Job `json:"jobs"`
	TotalCount int    `json:"total_count"`
	Limit      int    `json:"limit"`
	Offset     int    `json:"offset"`
}

// JobStatistics contains the read-only aggregates exposed on /metrics and
// the queue status view.
type JobStatistics struct {
	CountsByStatus        map[JobStatus]int `json:"counts_by_status"`
	AudioProcessedSeconds float64           `json:"audio_processed_seconds"`
	AvgProcessingSeconds  float64           `json:"avg_processing_seconds"`
	JobsLastHour          int               `json:"jobs_last_hour"`
	ModelsDownloaded      int               `json:"models_downloaded"`
}
