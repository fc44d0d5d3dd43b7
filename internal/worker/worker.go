package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/cuongbtq/media-queue/internal/queue"
	"github.com/cuongbtq/media-queue/internal/reporter"
)

const (
	// DefaultPollInterval bounds each claim wait and therefore shutdown latency
	DefaultPollInterval = 2 * time.Second
	// DefaultErrorBackoff is the pause after a broker failure
	DefaultErrorBackoff = time.Second
)

// Handler processes one job. Returning an error fails the attempt.
type Handler func(ctx context.Context, job *queue.Job) error

// JobQueue is the part of the queue a worker loop drives
type JobQueue interface {
	Claim(ctx context.Context, jobType string, timeout time.Duration) (*queue.Job, error)
	Touch(ctx context.Context, job *queue.Job) error
	Ack(ctx context.Context, job *queue.Job) error
	FailRetry(ctx context.Context, job *queue.Job, delay time.Duration) error
	FailDead(ctx context.Context, job *queue.Job) error
}

// Config holds worker configuration
type Config struct {
	Logger   *slog.Logger
	Queue    JobQueue
	Reporter reporter.Reporter
	// JobTypes lists the queues to consume; each gets Concurrency loops
	JobTypes     []string
	Concurrency  int
	PollInterval time.Duration
	ErrorBackoff time.Duration
	// JobTimeout wraps each callback when > 0
	JobTimeout time.Duration
	// HeartbeatInterval refreshes the claim of a running job when > 0
	HeartbeatInterval time.Duration
	Backoff           Backoff
	WorkerID          string
	Clock             func() time.Time
}

// Worker runs worker loops that claim jobs and resolve their outcome
type Worker struct {
	logger            *slog.Logger
	queue             JobQueue
	reporter          reporter.Reporter
	handlers          map[string]Handler
	jobTypes          []string
	concurrency       int
	pollInterval      time.Duration
	errorBackoff      time.Duration
	jobTimeout        time.Duration
	heartbeatInterval time.Duration
	backoff           Backoff
	workerID          string
	now               func() time.Time
}

// NewWorker creates a new worker instance
func NewWorker(cfg *Config) *Worker {
	w := &Worker{
		logger:            cfg.Logger,
		queue:             cfg.Queue,
		reporter:          cfg.Reporter,
		handlers:          make(map[string]Handler),
		jobTypes:          cfg.JobTypes,
		concurrency:       cfg.Concurrency,
		pollInterval:      cfg.PollInterval,
		errorBackoff:      cfg.ErrorBackoff,
		jobTimeout:        cfg.JobTimeout,
		heartbeatInterval: cfg.HeartbeatInterval,
		backoff:           cfg.Backoff,
		workerID:          cfg.WorkerID,
		now:               cfg.Clock,
	}

	if w.concurrency < 1 {
		w.concurrency = 1
	}
	if w.pollInterval <= 0 {
		w.pollInterval = DefaultPollInterval
	}
	if w.errorBackoff <= 0 {
		w.errorBackoff = DefaultErrorBackoff
	}
	if w.backoff == nil {
		w.backoff = Linear{Unit: DefaultRetryUnit}
	}
	if w.workerID == "" {
		w.workerID = defaultWorkerID()
	}
	if w.now == nil {
		w.now = time.Now
	}

	return w
}

// Register sets the processing callback for jobType, replacing any previous one.
func (w *Worker) Register(jobType string, handler Handler) {
	w.handlers[jobType] = handler
}

// Start runs the loops and blocks until all of them have exited. Loops
// exit only when ctx is canceled, after finishing the job they hold.
func (w *Worker) Start(ctx context.Context) error {
	if len(w.jobTypes) == 0 {
		return errors.New("worker has no job types to consume")
	}

	w.logger.Info("Starting worker",
		slog.String("worker_id", w.workerID),
		slog.Any("job_types", w.jobTypes),
		slog.Int("concurrency", w.concurrency),
		slog.Duration("poll_interval", w.pollInterval),
		slog.Duration("job_timeout", w.jobTimeout),
	)

	err := w.runPool(ctx)

	w.logger.Info("Worker stopped", slog.String("worker_id", w.workerID))
	return err
}

func defaultWorkerID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "worker"
	}
	return fmt.Sprintf("%s-%s", host, uuid.NewString()[:8])
}
