package models

import "time"

// JobBatch is a cohort of jobs sharing one submission. The counters and
// progress are derived from member jobs and recomputed on every member
// terminal transition.
type JobBatch struct {
	ID   string `json:"id"`
	Name string `json:"name"`

	TotalFiles     int `json:"total_files"`
	CompletedFiles int `json:"completed_files"`
	FailedFiles    int `json:"failed_files"`

	Status   JobStatus `json:"status"`
	Progress float64   `json:"progress"`

	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// BatchResponse is a batch together with its member jobs.
type BatchResponse struct {
	*JobBatch
	Jobs []*Job `json:"jobs"`
}

// BatchListResponse contains a paginated batch list.
type BatchListResponse struct {
	Batches    []*JobBatch `json:"batches"`
	TotalCount int         `json:"total_count"`
	Limit      int         `json:"limit"`
	Offset     int         `json:"offset"`
}
