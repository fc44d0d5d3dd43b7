package queue

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/media-queue/shared/redis"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestQueue(t *testing.T) (*Queue, *fakeClock, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	broker, err := redis.NewClient(&redis.Config{
		URL:     "redis://" + mr.Addr(),
		PopStep: 5 * time.Millisecond,
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	t.Cleanup(func() { broker.Close() })

	clock := newFakeClock()
	q := New(&Config{
		Broker: broker,
		Prefix: "audiobooks",
		Clock:  clock.Now,
	})
	return q, clock, mr
}

func testJob(id string, maxRetries int) *Job {
	return &Job{
		ID:         id,
		SubjectID:  "book-1",
		JobType:    JobTypeTranscribe,
		CreatedAt:  time.Date(2025, 3, 1, 11, 0, 0, 0, time.UTC),
		Priority:   DefaultPriority,
		MaxRetries: maxRetries,
	}
}

func requireStats(t *testing.T, q *Queue, want Stats) {
	t.Helper()
	stats, err := q.Stats(context.Background(), JobTypeTranscribe)
	require.NoError(t, err)
	assert.Equal(t, want, stats[JobTypeTranscribe])
}

func TestQueue_KeyNames(t *testing.T) {
	q := New(&Config{Prefix: "audiobooks"})

	assert.Equal(t, "audiobooks:queue:transcribe", q.PendingKey("transcribe"))
	assert.Equal(t, "audiobooks:processing:transcribe", q.InFlightKey("transcribe"))
	assert.Equal(t, "audiobooks:failed:transcribe", q.DeadLetterKey("transcribe"))
}

func TestQueue_EnqueueClaimAck(t *testing.T) {
	q, _, _ := newTestQueue(t)
	ctx := context.Background()

	path := "/media/book-1/ch1.mp3"
	job := testJob("J1", 3)
	job.PayloadRef = &path
	job.Metadata = map[string]any{"redis_job_id": "abc"}

	require.NoError(t, q.Enqueue(ctx, job, 0))
	requireStats(t, q, Stats{Pending: 1})

	claimed, err := q.Claim(ctx, JobTypeTranscribe, 50*time.Millisecond)
	require.NoError(t, err)
	require.NotNil(t, claimed)
	assert.Equal(t, "J1", claimed.ID)
	assert.Equal(t, "book-1", claimed.SubjectID)
	require.NotNil(t, claimed.PayloadRef)
	assert.Equal(t, path, *claimed.PayloadRef)
	assert.Equal(t, "abc", claimed.Metadata["redis_job_id"])
	requireStats(t, q, Stats{InFlight: 1})

	require.NoError(t, q.Ack(ctx, claimed))
	requireStats(t, q, Stats{})
}

func TestQueue_ClaimEmpty(t *testing.T) {
	q, _, _ := newTestQueue(t)

	job, err := q.Claim(context.Background(), JobTypeTranscribe, 20*time.Millisecond)
	assert.NoError(t, err)
	assert.Nil(t, job)
}

func TestQueue_ClaimedJobStaysInFlightUntilResolved(t *testing.T) {
	q, clock, _ := newTestQueue(t)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, testJob("J1", 1), 0))
	claimed, err := q.Claim(ctx, JobTypeTranscribe, 50*time.Millisecond)
	require.NoError(t, err)
	require.NotNil(t, claimed)

	clock.Advance(24 * time.Hour)

	again, err := q.Claim(ctx, JobTypeTranscribe, 20*time.Millisecond)
	require.NoError(t, err)
	assert.Nil(t, again)
	requireStats(t, q, Stats{InFlight: 1})
}

func TestQueue_RetryNotClaimableBeforeDelay(t *testing.T) {
	q, clock, _ := newTestQueue(t)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, testJob("J1", 2), 0))
	claimed, err := q.Claim(ctx, JobTypeTranscribe, 50*time.Millisecond)
	require.NoError(t, err)
	require.NotNil(t, claimed)

	claimed.RetryCount++
	claimed.Priority = RetryPriority
	require.NoError(t, q.FailRetry(ctx, claimed, 30*time.Second))
	requireStats(t, q, Stats{Pending: 1})

	early, err := q.Claim(ctx, JobTypeTranscribe, 20*time.Millisecond)
	require.NoError(t, err)
	assert.Nil(t, early)

	clock.Advance(29 * time.Second)
	early, err = q.Claim(ctx, JobTypeTranscribe, 20*time.Millisecond)
	require.NoError(t, err)
	assert.Nil(t, early)

	clock.Advance(time.Second)
	due, err := q.Claim(ctx, JobTypeTranscribe, 20*time.Millisecond)
	require.NoError(t, err)
	require.NotNil(t, due)
	assert.Equal(t, 1, due.RetryCount)
	assert.Equal(t, RetryPriority, due.Priority)
}

func TestQueue_PriorityBreaksTies(t *testing.T) {
	q, _, _ := newTestQueue(t)
	ctx := context.Background()

	low := testJob("low", 0)
	high := testJob("high", 0)
	high.Priority = RetryPriority

	require.NoError(t, q.Enqueue(ctx, low, 0))
	require.NoError(t, q.Enqueue(ctx, high, 0))

	first, err := q.Claim(ctx, JobTypeTranscribe, 20*time.Millisecond)
	require.NoError(t, err)
	require.NotNil(t, first)
	assert.Equal(t, "high", first.ID)
}

func TestQueue_FailDead(t *testing.T) {
	q, _, _ := newTestQueue(t)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, testJob("J1", 0), 0))
	claimed, err := q.Claim(ctx, JobTypeTranscribe, 50*time.Millisecond)
	require.NoError(t, err)
	require.NotNil(t, claimed)

	require.NoError(t, q.FailDead(ctx, claimed))
	requireStats(t, q, Stats{DeadLetter: 1})

	dead, err := q.ListDead(ctx, JobTypeTranscribe, 0, 10)
	require.NoError(t, err)
	require.Len(t, dead, 1)
	assert.Equal(t, "J1", dead[0].ID)
}

func TestQueue_ClaimMalformedMember(t *testing.T) {
	q, clock, mr := newTestQueue(t)
	ctx := context.Background()

	_, err := mr.ZAdd(q.PendingKey(JobTypeTranscribe), Score(clock.Now(), 0), "{not json")
	require.NoError(t, err)

	job, err := q.Claim(ctx, JobTypeTranscribe, 20*time.Millisecond)
	require.Error(t, err)
	assert.Nil(t, job)
	assert.ErrorIs(t, err, ErrMalformedJob)

	var decodeErr *DecodeError
	require.ErrorAs(t, err, &decodeErr)
	assert.Equal(t, "{not json", decodeErr.Raw)
	requireStats(t, q, Stats{})
}

func TestQueue_ResolveUnclaimedJob(t *testing.T) {
	q, _, _ := newTestQueue(t)
	ctx := context.Background()
	job := testJob("J1", 1)

	assert.ErrorIs(t, q.Ack(ctx, job), ErrNotClaimed)
	assert.ErrorIs(t, q.FailRetry(ctx, job, 0), ErrNotClaimed)
	assert.ErrorIs(t, q.FailDead(ctx, job), ErrNotClaimed)
}

func TestQueue_EnqueueRejectsInvalidJob(t *testing.T) {
	q, _, _ := newTestQueue(t)
	ctx := context.Background()

	tests := []struct {
		name string
		job  *Job
	}{
		{name: "missing id", job: &Job{JobType: JobTypeTranscribe}},
		{name: "missing job type", job: &Job{ID: "J1"}},
		{name: "job type with separator", job: &Job{ID: "J1", JobType: "a:b"}},
		{name: "negative max retries", job: &Job{ID: "J1", JobType: JobTypeTranscribe, MaxRetries: -1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, q.Enqueue(ctx, tt.job, 0), ErrInvalidJob)
		})
	}
}

func TestQueue_StatsPerJobType(t *testing.T) {
	q, _, _ := newTestQueue(t)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, testJob("J1", 1), 0))
	summary := testJob("S1", 1)
	summary.JobType = JobTypeSummarize
	require.NoError(t, q.Enqueue(ctx, summary, 0))
	require.NoError(t, q.Enqueue(ctx, &Job{ID: "S2", JobType: JobTypeSummarize}, 0))

	stats, err := q.Stats(ctx, JobTypeTranscribe, JobTypeSummarize, JobTypeEmbed)
	require.NoError(t, err)
	assert.Equal(t, Stats{Pending: 1}, stats[JobTypeTranscribe])
	assert.Equal(t, Stats{Pending: 2}, stats[JobTypeSummarize])
	assert.Equal(t, Stats{}, stats[JobTypeEmbed])
}

// cancelAfterPop cancels the caller's context as soon as a member has been
// popped, the way a shutdown signal can land mid-claim.
type cancelAfterPop struct {
	Broker
	cancel context.CancelFunc
}

func (b *cancelAfterPop) PopMove(ctx context.Context, src, dst string, timeout time.Duration, due func() float64) (string, error) {
	member, err := b.Broker.PopMove(ctx, src, dst, timeout, due)
	b.cancel()
	return member, err
}

func TestQueue_ClaimCanceledAfterPop(t *testing.T) {
	t.Run("job stays in flight", func(t *testing.T) {
		base, clock, _ := newTestQueue(t)
		require.NoError(t, base.Enqueue(context.Background(), testJob("J1", 1), 0))

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		q := New(&Config{
			Broker: &cancelAfterPop{Broker: base.broker, cancel: cancel},
			Prefix: "audiobooks",
			Clock:  clock.Now,
		})

		job, err := q.Claim(ctx, JobTypeTranscribe, 20*time.Millisecond)
		require.NoError(t, err)
		require.NotNil(t, job)
		assert.Equal(t, "J1", job.ID)
		requireStats(t, q, Stats{InFlight: 1})

		require.NoError(t, q.Ack(context.Background(), job))
		requireStats(t, q, Stats{})
	})

	t.Run("malformed member is still dropped", func(t *testing.T) {
		base, clock, mr := newTestQueue(t)
		_, err := mr.ZAdd(base.PendingKey(JobTypeTranscribe), Score(clock.Now(), 0), "{not json")
		require.NoError(t, err)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		q := New(&Config{
			Broker: &cancelAfterPop{Broker: base.broker, cancel: cancel},
			Prefix: "audiobooks",
			Clock:  clock.Now,
		})

		_, err = q.Claim(ctx, JobTypeTranscribe, 20*time.Millisecond)
		assert.ErrorIs(t, err, ErrMalformedJob)
		requireStats(t, q, Stats{})
	})
}

func TestQueue_ClaimRejectsJobOfOtherType(t *testing.T) {
	q, clock, mr := newTestQueue(t)
	ctx := context.Background()

	foreign := testJob("S1", 1)
	foreign.JobType = JobTypeSummarize
	member, err := Encode(foreign)
	require.NoError(t, err)
	_, err = mr.ZAdd(q.PendingKey(JobTypeTranscribe), Score(clock.Now(), 0), member)
	require.NoError(t, err)

	job, err := q.Claim(ctx, JobTypeTranscribe, 20*time.Millisecond)
	assert.Nil(t, job)
	assert.ErrorIs(t, err, ErrMalformedJob)

	stats, err := q.Stats(ctx, JobTypeTranscribe, JobTypeSummarize)
	require.NoError(t, err)
	assert.Equal(t, Stats{}, stats[JobTypeTranscribe])
	assert.Equal(t, Stats{}, stats[JobTypeSummarize])
}

func TestQueue_ClaimRejectsInvalidJob(t *testing.T) {
	q, clock, mr := newTestQueue(t)

	_, err := mr.ZAdd(q.PendingKey(JobTypeTranscribe), Score(clock.Now(), 0),
		`{"id":"J1","job_type":"transcribe","retry_count":-5,"max_retries":1}`)
	require.NoError(t, err)

	job, err := q.Claim(context.Background(), JobTypeTranscribe, 20*time.Millisecond)
	assert.Nil(t, job)
	assert.ErrorIs(t, err, ErrMalformedJob)
	requireStats(t, q, Stats{})
}

func TestQueue_FailRetryKeepsInvalidJobInFlight(t *testing.T) {
	q, _, _ := newTestQueue(t)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, testJob("J1", 1), 0))
	job, err := q.Claim(ctx, JobTypeTranscribe, 20*time.Millisecond)
	require.NoError(t, err)
	require.NotNil(t, job)

	job.RetryCount = -5
	assert.ErrorIs(t, q.FailRetry(ctx, job, 0), ErrInvalidJob)
	requireStats(t, q, Stats{InFlight: 1})
}
