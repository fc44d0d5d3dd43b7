package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cuongbtq/media-queue/internal/queue"
	"github.com/cuongbtq/media-queue/internal/reporter"
	"github.com/cuongbtq/media-queue/internal/worker/domain"
)

// processJob runs the callback for a claimed job, resolves the job in the
// queue and reports the outcome. Everything after the claim runs on a
// context detached from ctx so shutdown cannot strand the job half done.
func (w *Worker) processJob(ctx context.Context, logger *slog.Logger, job *queue.Job) domain.Outcome {
	jobCtx := context.WithoutCancel(ctx)
	logger = logger.With(slog.String("job_id", job.ID))

	logger.Info("Processing job",
		slog.Int("retry_count", job.RetryCount),
		slog.Int("max_retries", job.MaxRetries),
	)

	outcome := domain.Outcome{
		JobID:     job.ID,
		JobType:   job.JobType,
		Attempt:   job.RetryCount + 1,
		StartedAt: w.now(),
	}

	stopHeartbeat := w.startHeartbeat(jobCtx, logger, job)
	err := w.execute(jobCtx, job)
	stopHeartbeat()

	outcome.FinishedAt = w.now()

	if err == nil {
		outcome.State = domain.StateAcked
		if ackErr := w.queue.Ack(jobCtx, job); ackErr != nil {
			logger.Error("Failed to ack job",
				slog.String("error", ackErr.Error()),
			)
		} else {
			logger.Info("Job completed successfully",
				slog.Duration("duration", outcome.Duration()),
			)
		}
		w.report(jobCtx, logger, job, reporter.StatusCompleted, "", outcome)
		return outcome
	}

	outcome.Err = &domain.ProcessingError{JobID: job.ID, Attempt: outcome.Attempt, Err: err}
	logger.Error("Job execution failed",
		slog.String("error", err.Error()),
		slog.Int("attempt", outcome.Attempt),
	)

	if job.Exhausted() {
		outcome.State = domain.StateDeadLettered
		if deadErr := w.queue.FailDead(jobCtx, job); deadErr != nil {
			logger.Error("Failed to move job to dead-letter",
				slog.String("error", deadErr.Error()),
			)
		} else {
			logger.Warn("Job exceeded max retries, moved to dead-letter",
				slog.Int("retry_count", job.RetryCount),
				slog.Int("max_retries", job.MaxRetries),
			)
		}
	} else {
		job.RetryCount++
		job.Priority = queue.RetryPriority
		outcome.State = domain.StateRetryScheduled
		outcome.Delay = w.backoff.Delay(job.RetryCount)

		if retryErr := w.queue.FailRetry(jobCtx, job, outcome.Delay); retryErr != nil {
			logger.Error("Failed to schedule job retry",
				slog.String("error", retryErr.Error()),
			)
		} else {
			logger.Info("Job will be retried",
				slog.Int("retry_count", job.RetryCount),
				slog.Int("max_retries", job.MaxRetries),
				slog.Duration("retry_after", outcome.Delay),
			)
		}
	}

	w.report(jobCtx, logger, job, reporter.StatusFailed, err.Error(), outcome)
	return outcome
}

// execute calls the handler registered for the job type. A missing handler
// or a panic counts as a failed attempt.
func (w *Worker) execute(ctx context.Context, job *queue.Job) (err error) {
	handler, ok := w.handlers[job.JobType]
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrNoHandler, job.JobType)
	}

	if w.jobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.jobTimeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", domain.ErrHandlerPanic, r)
		}
	}()

	err = handler(ctx, job)
	if err != nil && errors.Is(err, context.DeadlineExceeded) && w.jobTimeout > 0 {
		return fmt.Errorf("job timed out after %s: %w", w.jobTimeout, err)
	}
	return err
}

// startHeartbeat keeps the claim of job fresh while its callback runs. The
// returned func stops the heartbeat and waits for it to exit, so no refresh
// can land after the job is resolved.
func (w *Worker) startHeartbeat(ctx context.Context, logger *slog.Logger, job *queue.Job) func() {
	if w.heartbeatInterval <= 0 {
		return func() {}
	}

	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)

	go func() {
		defer wg.Done()

		ticker := time.NewTicker(w.heartbeatInterval)
		defer ticker.Stop()

		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if err := w.queue.Touch(ctx, job); err != nil {
					logger.Warn("Failed to refresh job claim",
						slog.String("error", err.Error()),
					)
				}
			}
		}
	}()

	return func() {
		close(done)
		wg.Wait()
	}
}

// report delivers a terminal status. Failures are logged and go no further.
func (w *Worker) report(ctx context.Context, logger *slog.Logger, job *queue.Job, status, message string, outcome domain.Outcome) {
	if w.reporter == nil {
		return
	}

	startedAt, completedAt := outcome.StartedAt.UTC(), outcome.FinishedAt.UTC()
	err := w.reporter.Report(ctx, reporter.Update{
		JobID:        job.ID,
		JobType:      job.JobType,
		Status:       status,
		ErrorMessage: message,
		StartedAt:    &startedAt,
		CompletedAt:  &completedAt,
	})
	if err != nil {
		logger.Error("Failed to report job status",
			slog.String("status", status),
			slog.String("error", err.Error()),
		)
	}
}
