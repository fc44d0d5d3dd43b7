package queue

import (
	"context"
	"fmt"
	"time"
)

// ListDead returns dead-lettered jobs oldest first. Members that do not
// decode are skipped.
func (q *Queue) ListDead(ctx context.Context, jobType string, offset, limit int64) ([]*Job, error) {
	if limit <= 0 {
		return nil, nil
	}

	members, err := q.broker.Range(ctx, q.DeadLetterKey(jobType), offset, offset+limit-1)
	if err != nil {
		return nil, fmt.Errorf("failed to list failed jobs: %w", err)
	}

	jobs := make([]*Job, 0, len(members))
	for _, member := range members {
		job, err := Decode(member)
		if err != nil {
			continue
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

// RetryDead moves the dead-lettered job with jobID back to pending for
// immediate dispatch, counting it as one more retry at RetryPriority.
func (q *Queue) RetryDead(ctx context.Context, jobType, jobID string) (*Job, error) {
	deadKey := q.DeadLetterKey(jobType)

	members, err := q.broker.Range(ctx, deadKey, 0, -1)
	if err != nil {
		return nil, fmt.Errorf("failed to get failed jobs: %w", err)
	}

	for _, member := range members {
		job, err := Decode(member)
		if err != nil || job.ID != jobID {
			continue
		}

		job.RetryCount++
		job.Priority = RetryPriority
		if err := job.Validate(); err != nil {
			return nil, err
		}

		if err := q.broker.Remove(ctx, deadKey, member); err != nil {
			return nil, fmt.Errorf("failed to remove job %s from failed queue: %w", jobID, err)
		}

		if err := q.Enqueue(ctx, job, 0); err != nil {
			return nil, err
		}
		return job, nil
	}

	return nil, fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
}

// ClearPending drops every job waiting in the pending set of jobType.
func (q *Queue) ClearPending(ctx context.Context, jobType string) error {
	if err := q.broker.Delete(ctx, q.PendingKey(jobType)); err != nil {
		return fmt.Errorf("failed to clear queue %s: %w", jobType, err)
	}
	return nil
}

// ReclaimResult counts what ReclaimStale did
type ReclaimResult struct {
	Requeued     int
	DeadLettered int
}

// ReclaimStale moves up to limit in-flight members claimed more than
// staleAfter ago back to pending, keeping their retry count. Members that
// do not decode go to the dead-letter set. A worker that is merely slow
// will still ack its copy, so a reclaimed job may be processed twice.
func (q *Queue) ReclaimStale(ctx context.Context, jobType string, staleAfter time.Duration, limit int64) (ReclaimResult, error) {
	var result ReclaimResult

	now := q.now()
	cutoff := DueScore(now.Add(-staleAfter))
	inFlight := q.InFlightKey(jobType)

	members, err := q.broker.RangeByScore(ctx, inFlight, cutoff, limit)
	if err != nil {
		return result, fmt.Errorf("failed to scan processing queue: %w", err)
	}

	for _, member := range members {
		target, score := q.DeadLetterKey(jobType), Score(now, 0)
		job, err := Decode(member)
		if err == nil {
			target, score = q.PendingKey(jobType), Score(now, job.Priority)
		}

		moved, err := q.broker.Move(ctx, inFlight, target, member, score)
		if err != nil {
			return result, fmt.Errorf("failed to move stale member: %w", err)
		}
		if !moved {
			// resolved by its worker since the scan
			continue
		}

		if job == nil {
			result.DeadLettered++
		} else {
			result.Requeued++
		}
	}

	return result, nil
}
