// Package sweeper returns orphaned in-flight jobs to their pending set on a
// cron schedule.
//
// A job is orphaned when the worker that claimed it died before resolving
// it. The sweeper cannot tell a dead worker from a slow one, so reclaiming
// can cause a job to be processed twice. Workers that refresh their claims
// (worker heartbeat) are safe as long as stale_after exceeds the heartbeat
// interval.
package sweeper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/cuongbtq/media-queue/internal/queue"
)

const (
	DefaultSchedule   = "*/5 * * * *"
	DefaultStaleAfter = 30 * time.Minute
	DefaultBatchSize  = 100
)

// Reclaimer is the part of the queue the sweeper uses
type Reclaimer interface {
	ReclaimStale(ctx context.Context, jobType string, staleAfter time.Duration, limit int64) (queue.ReclaimResult, error)
	Stats(ctx context.Context, jobTypes ...string) (map[string]queue.Stats, error)
}

// Config holds sweeper configuration
type Config struct {
	Logger     *slog.Logger
	Queue      Reclaimer
	JobTypes   []string
	Schedule   string
	StaleAfter time.Duration
	BatchSize  int64
}

// Sweeper periodically reclaims stale in-flight jobs
type Sweeper struct {
	logger     *slog.Logger
	queue      Reclaimer
	jobTypes   []string
	schedule   string
	staleAfter time.Duration
	batchSize  int64
}

// New validates the schedule and creates a Sweeper
func New(cfg *Config) (*Sweeper, error) {
	s := &Sweeper{
		logger:     cfg.Logger,
		queue:      cfg.Queue,
		jobTypes:   cfg.JobTypes,
		schedule:   cfg.Schedule,
		staleAfter: cfg.StaleAfter,
		batchSize:  cfg.BatchSize,
	}
	if s.schedule == "" {
		s.schedule = DefaultSchedule
	}
	if s.staleAfter <= 0 {
		s.staleAfter = DefaultStaleAfter
	}
	if s.batchSize <= 0 {
		s.batchSize = DefaultBatchSize
	}

	if _, err := cron.ParseStandard(s.schedule); err != nil {
		return nil, fmt.Errorf("invalid sweeper schedule %q: %w", s.schedule, err)
	}
	return s, nil
}

// Run schedules Sweep and blocks until ctx is canceled, then waits for a
// sweep in progress to finish.
func (s *Sweeper) Run(ctx context.Context) error {
	logger := cronLogger{s.logger}
	c := cron.New(
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)

	if _, err := c.AddFunc(s.schedule, func() {
		if err := s.Sweep(ctx); err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Error("Sweep failed", slog.String("error", err.Error()))
		}
	}); err != nil {
		return fmt.Errorf("failed to schedule sweeper: %w", err)
	}

	s.logger.Info("Sweeper started",
		slog.String("schedule", s.schedule),
		slog.Duration("stale_after", s.staleAfter),
	)
	c.Start()

	<-ctx.Done()
	<-c.Stop().Done()

	s.logger.Info("Sweeper stopped")
	return nil
}

// Sweep reclaims stale in-flight jobs of every job type once and logs a
// stats snapshot. It keeps going past a failing job type.
func (s *Sweeper) Sweep(ctx context.Context) error {
	var errs []error

	for _, jobType := range s.jobTypes {
		result, err := s.queue.ReclaimStale(ctx, jobType, s.staleAfter, s.batchSize)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", jobType, err))
			continue
		}
		if result.Requeued > 0 || result.DeadLettered > 0 {
			s.logger.Warn("Reclaimed stale in-flight jobs",
				slog.String("job_type", jobType),
				slog.Int("requeued", result.Requeued),
				slog.Int("dead_lettered", result.DeadLettered),
			)
		}
	}

	stats, err := s.queue.Stats(ctx, s.jobTypes...)
	if err != nil {
		errs = append(errs, err)
	} else {
		for jobType, st := range stats {
			s.logger.Info("Queue stats",
				slog.String("job_type", jobType),
				slog.Int64("pending", st.Pending),
				slog.Int64("in_flight", st.InFlight),
				slog.Int64("dead_letter", st.DeadLetter),
			)
		}
	}

	return errors.Join(errs...)
}

// cronLogger adapts slog to cron.Logger
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error("cron: "+msg, append([]interface{}{slog.String("error", err.Error())}, keysAndValues...)...)
}
