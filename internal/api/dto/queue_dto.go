package dto

import "github.com/cuongbtq/media-queue/internal/queue"

// EnqueueJobRequest is the producer payload. delay_seconds is capped at one year.
type EnqueueJobRequest struct {
	SubjectID    string         `json:"subject_id" binding:"required"`
	PayloadRef   *string        `json:"payload_ref"`
	Priority     *int           `json:"priority" binding:"omitempty,gte=0,lte=999"`
	MaxRetries   *int           `json:"max_retries" binding:"omitempty,gte=0"`
	DelaySeconds int            `json:"delay_seconds" binding:"gte=0,lte=31536000"`
	Metadata     map[string]any `json:"metadata"`
}

type ListFailedRequest struct {
	Limit  int64 `form:"limit"`
	Offset int64 `form:"offset" binding:"gte=0"`
}

type ListFailedResponse struct {
	JobType string       `json:"job_type"`
	Jobs    []*queue.Job `json:"jobs"`
	Limit   int64        `json:"limit"`
	Offset  int64        `json:"offset"`
}

type StatsResponse struct {
	Queues map[string]queue.Stats `json:"queues"`
}
