package reporter

import (
	"context"
	"encoding/json"
	"time"
)

const (
	sinkEvents = "events"

	// EventJobStatus is the event name published for every terminal status
	EventJobStatus = "job.status"
)

// Publisher sends one message to the event exchange
type Publisher interface {
	PublishWithRetry(ctx context.Context, body []byte, contentType string) error
}

// EventReporter publishes statuses as events for downstream consumers
type EventReporter struct {
	publisher Publisher
	now       func() time.Time
}

type statusEvent struct {
	Event        string     `json:"event"`
	JobID        string     `json:"job_id"`
	JobType      string     `json:"job_type,omitempty"`
	Status       string     `json:"status"`
	ErrorMessage string     `json:"error_message,omitempty"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	OccurredAt   time.Time  `json:"occurred_at"`
}

// NewEventReporter creates an EventReporter
func NewEventReporter(publisher Publisher) *EventReporter {
	return &EventReporter{publisher: publisher, now: time.Now}
}

// Report implements Reporter
func (e *EventReporter) Report(ctx context.Context, update Update) error {
	body, err := json.Marshal(statusEvent{
		Event:        EventJobStatus,
		JobID:        update.JobID,
		JobType:      update.JobType,
		Status:       update.Status,
		ErrorMessage: update.ErrorMessage,
		StartedAt:    update.StartedAt,
		CompletedAt:  update.CompletedAt,
		OccurredAt:   e.now().UTC(),
	})
	if err != nil {
		return &ReportingError{Sink: sinkEvents, JobID: update.JobID, Err: err}
	}

	if err := e.publisher.PublishWithRetry(ctx, body, "application/json"); err != nil {
		return &ReportingError{Sink: sinkEvents, JobID: update.JobID, Err: err}
	}
	return nil
}
