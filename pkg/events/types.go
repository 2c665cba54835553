// Package events provides the in-process event bus and real-time delivery
// to WebSocket observers. Durable state lives in the store; the bus carries
// only transient progress messages, so delivery is lossy by design — a slow
// subscriber is dropped rather than allowed to block publishers.
package events

import (
	"github.com/openscribe/scribed/pkg/models"
)

// Event types published on the bus and on the queue WebSocket.
const (
	EventTypeJobProgress         = "job_progress"
	EventTypeStatusChanged       = "status_changed"
	EventTypeJobCompleted        = "job_completed"
	EventTypeJobFailed           = "job_failed"
	EventTypePriorityChanged     = "priority_changed"
	EventTypeQueueBatchReordered = "queue_batch_reordered"
	EventTypeBatchProgress       = "batch_progress"
	EventTypeModelDownload       = "model_download_progress"

	EventTypePing = "ping"
	EventTypePong = "pong"

	// EventTypeOverflow is the last event delivered to a subscriber whose
	// buffer filled up, signalling dropped events.
	EventTypeOverflow = "overflow"
)

// Event is one bus message. Type is always set; Data and Job are populated
// per event type to match the wire envelopes.
type Event struct {
	Type string         `json:"type"`
	Data map[string]any `json:"data,omitempty"`
	Job  *JobView       `json:"job,omitempty"`
}

// JobView is the job projection embedded in status events.
type JobView struct {
	ID           string           `json:"id"`
	Filename     string           `json:"filename"`
	Status       models.JobStatus `json:"status"`
	Progress     float64          `json:"progress"`
	Priority     int              `json:"priority"`
	CurrentStage string           `json:"current_stage,omitempty"`
	ErrorMessage string           `json:"error_message,omitempty"`
	BatchID      *string          `json:"batch_id,omitempty"`
}

// NewJobView projects a job for event embedding.
func NewJobView(job *models.Job) *JobView {
	return &JobView{
		ID:           job.ID,
		Filename:     job.Filename,
		Status:       job.Status,
		Progress:     job.Progress,
		Priority:     job.Priority,
		CurrentStage: job.CurrentStage,
		ErrorMessage: job.ErrorMessage,
		BatchID:      job.BatchID,
	}
}

// ClientMessage is the JSON structure for client → server WebSocket messages.
type ClientMessage struct {
	Action string `json:"action"` // "ping"
}
