// Package queue implements the job queue on top of three sorted sets per
// job type: pending (scored by dispatch time), in flight (scored by claim
// time) and dead letter (scored by failure time).
package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cuongbtq/media-queue/shared/redis"
)

// RetryPriority is the priority given to jobs put back for another attempt
const RetryPriority = 10

// Broker is the subset of the ordered broker adapter the queue needs
type Broker interface {
	Add(ctx context.Context, key, member string, score float64) error
	PopMove(ctx context.Context, src, dst string, timeout time.Duration, due func() float64) (string, error)
	Remove(ctx context.Context, key, member string) error
	Refresh(ctx context.Context, key, member string, score float64) error
	Move(ctx context.Context, src, dst, member string, score float64) (bool, error)
	Cardinality(ctx context.Context, key string) (int64, error)
	Range(ctx context.Context, key string, start, stop int64) ([]string, error)
	RangeByScore(ctx context.Context, key string, max float64, limit int64) ([]string, error)
	Delete(ctx context.Context, key string) error
}

// Config holds queue configuration
type Config struct {
	Broker Broker
	Prefix string
	// Clock defaults to time.Now
	Clock func() time.Time
}

// Queue provides queue level operations for every job type under a prefix
type Queue struct {
	broker Broker
	prefix string
	now    func() time.Time
}

// Stats is a snapshot of the three set sizes for one job type
type Stats struct {
	Pending    int64 `json:"pending"`
	InFlight   int64 `json:"in_flight"`
	DeadLetter int64 `json:"dead_letter"`
}

// New creates a Queue
func New(cfg *Config) *Queue {
	now := cfg.Clock
	if now == nil {
		now = time.Now
	}
	return &Queue{
		broker: cfg.Broker,
		prefix: cfg.Prefix,
		now:    now,
	}
}

// PendingKey names the set of jobs awaiting dispatch
func (q *Queue) PendingKey(jobType string) string {
	return fmt.Sprintf("%s:queue:%s", q.prefix, jobType)
}

// InFlightKey names the set of claimed, unresolved jobs
func (q *Queue) InFlightKey(jobType string) string {
	return fmt.Sprintf("%s:processing:%s", q.prefix, jobType)
}

// DeadLetterKey names the set of jobs that exhausted their retries
func (q *Queue) DeadLetterKey(jobType string) string {
	return fmt.Sprintf("%s:failed:%s", q.prefix, jobType)
}

// Enqueue adds job to its pending set, dispatchable after delay.
func (q *Queue) Enqueue(ctx context.Context, job *Job, delay time.Duration) error {
	if err := job.Validate(); err != nil {
		return err
	}

	member, err := Encode(job)
	if err != nil {
		return err
	}

	score := Score(q.now().Add(delay), job.Priority)
	if err := q.broker.Add(ctx, q.PendingKey(job.JobType), member, score); err != nil {
		return fmt.Errorf("failed to enqueue job %s: %w", job.ID, err)
	}
	return nil
}

// Claim waits up to timeout for a due job of jobType and records it as in
// flight. The move from pending to in flight is a single broker operation,
// so a claim interrupted by cancellation leaves the job in one set or the
// other. It returns (nil, nil) when nothing became due in time and a
// *DecodeError when the popped member is not a valid job of jobType; such a
// member is dropped and not kept in flight.
func (q *Queue) Claim(ctx context.Context, jobType string, timeout time.Duration) (*Job, error) {
	inFlight := q.InFlightKey(jobType)

	// A due score doubles as the claim score: Score(now, 0) == DueScore(now).
	member, err := q.broker.PopMove(ctx, q.PendingKey(jobType), inFlight, timeout, func() float64 {
		return DueScore(q.now())
	})
	if err != nil {
		if errors.Is(err, redis.ErrEmpty) {
			return nil, nil
		}
		return nil, err
	}

	job, err := Decode(member)
	if err == nil && job.JobType != jobType {
		err = &DecodeError{Raw: member, Err: fmt.Errorf("job_type %q does not match queue %q", job.JobType, jobType)}
	}
	if err == nil {
		if validateErr := job.Validate(); validateErr != nil {
			err = &DecodeError{Raw: member, Err: validateErr}
		}
	}
	if err != nil {
		if dropErr := q.broker.Remove(context.WithoutCancel(ctx), inFlight, member); dropErr != nil {
			return nil, errors.Join(err, fmt.Errorf("failed to drop malformed member: %w", dropErr))
		}
		return nil, err
	}

	job.claimed = member
	return job, nil
}

// Touch moves the claim time of an in-flight job to now, so a running job
// is not mistaken for an orphan by ReclaimStale. It does nothing once the
// job has left the in-flight set.
func (q *Queue) Touch(ctx context.Context, job *Job) error {
	if job.claimed == "" {
		return fmt.Errorf("%w: %s", ErrNotClaimed, job.ID)
	}
	if err := q.broker.Refresh(ctx, q.InFlightKey(job.JobType), job.claimed, Score(q.now(), 0)); err != nil {
		return fmt.Errorf("failed to refresh claim of job %s: %w", job.ID, err)
	}
	return nil
}

// Ack removes a successfully processed job from the in-flight set.
func (q *Queue) Ack(ctx context.Context, job *Job) error {
	if err := q.release(ctx, job); err != nil {
		return err
	}
	job.claimed = ""
	return nil
}

// FailRetry takes a claimed job out of flight and puts it back in pending,
// dispatchable after delay. The caller bumps RetryCount and Priority first.
func (q *Queue) FailRetry(ctx context.Context, job *Job, delay time.Duration) error {
	// Refuse before release so an unstorable job stays in flight.
	if err := job.Validate(); err != nil {
		return err
	}
	if err := q.release(ctx, job); err != nil {
		return err
	}
	job.claimed = ""
	return q.Enqueue(ctx, job, delay)
}

// FailDead takes a claimed job out of flight and parks it in the dead-letter set.
func (q *Queue) FailDead(ctx context.Context, job *Job) error {
	if err := q.release(ctx, job); err != nil {
		return err
	}
	job.claimed = ""

	member, err := Encode(job)
	if err != nil {
		return err
	}
	if err := q.broker.Add(ctx, q.DeadLetterKey(job.JobType), member, Score(q.now(), 0)); err != nil {
		return fmt.Errorf("failed to dead-letter job %s: %w", job.ID, err)
	}
	return nil
}

func (q *Queue) release(ctx context.Context, job *Job) error {
	if job.claimed == "" {
		return fmt.Errorf("%w: %s", ErrNotClaimed, job.ID)
	}
	if err := q.broker.Remove(ctx, q.InFlightKey(job.JobType), job.claimed); err != nil {
		return fmt.Errorf("failed to remove job %s from in-flight: %w", job.ID, err)
	}
	return nil
}

// Stats returns set sizes per job type. The three counts are read one
// after another, so they form a snapshot rather than a consistent view.
func (q *Queue) Stats(ctx context.Context, jobTypes ...string) (map[string]Stats, error) {
	stats := make(map[string]Stats, len(jobTypes))

	for _, jobType := range jobTypes {
		pending, err := q.broker.Cardinality(ctx, q.PendingKey(jobType))
		if err != nil {
			return nil, fmt.Errorf("failed to get pending queue size: %w", err)
		}

		inFlight, err := q.broker.Cardinality(ctx, q.InFlightKey(jobType))
		if err != nil {
			return nil, fmt.Errorf("failed to get processing queue size: %w", err)
		}

		dead, err := q.broker.Cardinality(ctx, q.DeadLetterKey(jobType))
		if err != nil {
			return nil, fmt.Errorf("failed to get failed queue size: %w", err)
		}

		stats[jobType] = Stats{
			Pending:    pending,
			InFlight:   inFlight,
			DeadLetter: dead,
		}
	}

	return stats, nil
}
