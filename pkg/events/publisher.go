package events

import (
	"log/slog"

	"github.com/openscribe/scribed/pkg/models"
)

// Publisher builds typed events and fans them out through the bus. When a
// broker bridge is configured, each event is also mirrored out-of-process.
// Publishing is best-effort and never fails the caller.
type Publisher struct {
	bus    *Bus
	bridge *RedisBridge
}

// NewPublisher creates a publisher over the bus. bridge may be nil.
func NewPublisher(bus *Bus, bridge *RedisBridge) *Publisher {
	return &Publisher{bus: bus, bridge: bridge}
}

// Bus returns the underlying bus for subscribers.
func (p *Publisher) Bus() *Bus {
	return p.bus
}

func (p *Publisher) publish(event Event) {
	p.bus.Publish(event)
	if p.bridge != nil {
		p.bridge.Forward(event)
	}
}

// PublishJobProgress emits a progress update for a running job.
func (p *Publisher) PublishJobProgress(jobID, stage string, progress float64, message string) {
	p.publish(Event{
		Type: EventTypeJobProgress,
		Data: map[string]any{
			"jobId":    jobID,
			"stage":    stage,
			"progress": progress,
			"message":  message,
		},
	})
}

// PublishStatusChanged emits a job status transition.
func (p *Publisher) PublishStatusChanged(job *models.Job) {
	p.publish(Event{Type: EventTypeStatusChanged, Job: NewJobView(job)})
}

// PublishJobCompleted emits a terminal completed transition.
func (p *Publisher) PublishJobCompleted(job *models.Job) {
	p.publish(Event{Type: EventTypeJobCompleted, Job: NewJobView(job)})
}

// PublishJobFailed emits a terminal failed transition.
func (p *Publisher) PublishJobFailed(job *models.Job) {
	p.publish(Event{Type: EventTypeJobFailed, Job: NewJobView(job)})
}

// PublishPriorityChanged emits a queue priority change.
func (p *Publisher) PublishPriorityChanged(jobID string, priority int) {
	p.publish(Event{
		Type: EventTypePriorityChanged,
		Data: map[string]any{"jobId": jobID, "priority": priority},
	})
}

// PublishQueueReordered emits a bulk queue reorder.
func (p *Publisher) PublishQueueReordered(jobIDs []string) {
	p.publish(Event{
		Type: EventTypeQueueBatchReordered,
		Data: map[string]any{"jobIds": jobIDs},
	})
}

// PublishBatchProgress emits derived batch counters after a member
// transition.
func (p *Publisher) PublishBatchProgress(batch *models.JobBatch) {
	p.publish(Event{
		Type: EventTypeBatchProgress,
		Data: map[string]any{
			"batchId":        batch.ID,
			"status":         batch.Status,
			"progress":       batch.Progress,
			"totalFiles":     batch.TotalFiles,
			"completedFiles": batch.CompletedFiles,
			"failedFiles":    batch.FailedFiles,
		},
	})
}

// PublishModelDownloadProgress emits model download progress.
func (p *Publisher) PublishModelDownloadProgress(modelID string, status models.DownloadStatus, progress float64, message string) {
	p.publish(Event{
		Type: EventTypeModelDownload,
		Data: map[string]any{
			"modelId":  modelID,
			"status":   status,
			"progress": progress,
			"message":  message,
		},
	})
}

// Close shuts the bridge down if one is configured.
func (p *Publisher) Close() {
	if p.bridge != nil {
		if err := p.bridge.Close(); err != nil {
			slog.Warn("Failed to close event broker bridge", "error", err)
		}
	}
}
