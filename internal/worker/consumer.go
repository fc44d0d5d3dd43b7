package worker

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cuongbtq/media-queue/internal/queue"
)

// runLoop claims and processes jobs of jobType one at a time until ctx is
// canceled. A claim never waits longer than pollInterval, so cancellation
// is noticed within one interval. The job being processed when ctx ends is
// finished and resolved before the loop returns.
func (w *Worker) runLoop(ctx context.Context, jobType, name string) error {
	logger := w.logger.With(
		slog.String("worker_name", name),
		slog.String("job_type", jobType),
	)
	logger.Info("Worker goroutine started")

	for {
		if ctx.Err() != nil {
			logger.Info("Worker goroutine stopping - context canceled")
			return context.Cause(ctx)
		}

		job, err := w.queue.Claim(ctx, jobType, w.pollInterval)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}

			if errors.Is(err, queue.ErrMalformedJob) {
				logger.Error("Dropping malformed job message",
					slog.String("error", err.Error()),
				)
				continue
			}

			logger.Error("Failed to claim job, backing off",
				slog.String("error", err.Error()),
				slog.Duration("backoff", w.errorBackoff),
			)
			w.sleep(ctx, w.errorBackoff)
			continue
		}

		if job == nil {
			continue
		}

		w.processJob(ctx, logger, job)
	}
}

// sleep waits for d or until ctx is done
func (w *Worker) sleep(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
