package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"
)

// runPool spawns concurrency loops per job type and waits for them. The
// loops share nothing but the queue.
func (w *Worker) runPool(ctx context.Context) error {
	w.logger.Info("Spawning worker pool",
		slog.Int("concurrency", w.concurrency),
		slog.String("worker_id", w.workerID),
	)

	var g errgroup.Group
	for _, jobType := range w.jobTypes {
		if _, ok := w.handlers[jobType]; !ok {
			w.logger.Warn("No handler registered, jobs will fail until one is",
				slog.String("job_type", jobType),
			)
		}
		for i := 0; i < w.concurrency; i++ {
			name := fmt.Sprintf("%s-%s-%d", w.workerID, jobType, i)
			g.Go(func() error {
				return w.runLoop(ctx, jobType, name)
			})
		}
	}

	w.logger.Info("Worker pool spawned successfully",
		slog.Int("worker_count", w.concurrency*len(w.jobTypes)),
	)

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
