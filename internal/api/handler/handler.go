package handler

import (
	"context"
	"log/slog"
	"slices"
	"time"

	"github.com/cuongbtq/media-queue/internal/queue"
)

// Queue is the part of the job queue exposed over HTTP
type Queue interface {
	Enqueue(ctx context.Context, job *queue.Job, delay time.Duration) error
	Stats(ctx context.Context, jobTypes ...string) (map[string]queue.Stats, error)
	ListDead(ctx context.Context, jobType string, offset, limit int64) ([]*queue.Job, error)
	RetryDead(ctx context.Context, jobType, jobID string) (*queue.Job, error)
	ClearPending(ctx context.Context, jobType string) error
}

// Pinger checks that the broker is reachable
type Pinger interface {
	Ping(ctx context.Context) error
}

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger *slog.Logger
	Queue  Queue
	Broker Pinger
	// JobTypes lists the job types the API accepts
	JobTypes []string
}

// QueueHandler handles queue-related HTTP requests
type QueueHandler struct {
	logger   *slog.Logger
	queue    Queue
	broker   Pinger
	jobTypes []string
}

// NewQueueHandler creates a new QueueHandler instance
func NewQueueHandler(deps *Dependencies) *QueueHandler {
	return &QueueHandler{
		logger:   deps.Logger,
		queue:    deps.Queue,
		broker:   deps.Broker,
		jobTypes: deps.JobTypes,
	}
}

func (h *QueueHandler) knownJobType(jobType string) bool {
	return slices.Contains(h.jobTypes, jobType)
}
