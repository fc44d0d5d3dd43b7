// Package redis is the ordered broker adapter. It exposes the handful of
// atomic sorted-set primitives the job queue is built on and nothing else.
package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

const (
	// DefaultPingTimeout bounds the liveness check performed on connect
	DefaultPingTimeout = 5 * time.Second
	// DefaultPopStep is how long PopMove sleeps between attempts while waiting
	DefaultPopStep = 100 * time.Millisecond
)

// popMoveScript removes the lowest-score member of KEYS[1] whose score is
// <= ARGV[1], adds it to KEYS[2] with that same ARGV[1] as score and
// returns it. The member is never outside both sets.
var popMoveScript = goredis.NewScript(`
local members = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, 1)
if #members == 0 then
	return false
end
redis.call('ZREM', KEYS[1], members[1])
redis.call('ZADD', KEYS[2], ARGV[1], members[1])
return members[1]
`)

// moveScript moves ARGV[1] from KEYS[1] to KEYS[2] with score ARGV[2], but
// only if it was still present in KEYS[1].
var moveScript = goredis.NewScript(`
if redis.call('ZREM', KEYS[1], ARGV[1]) == 0 then
	return 0
end
redis.call('ZADD', KEYS[2], ARGV[2], ARGV[1])
return 1
`)

// Config holds broker connection configuration
type Config struct {
	URL         string
	PingTimeout time.Duration
	PopStep     time.Duration
}

// Client wraps a go-redis client with the primitives used by the queue
type Client struct {
	rdb     goredis.UniversalClient
	logger  *slog.Logger
	popStep time.Duration
}

// NewClient parses the broker URL, opens a client and verifies it answers a
// PING within the configured timeout. It fails fast when the broker is down.
func NewClient(config *Config, logger *slog.Logger) (*Client, error) {
	opts, err := goredis.ParseURL(config.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	pingTimeout := config.PingTimeout
	if pingTimeout <= 0 || pingTimeout > DefaultPingTimeout {
		pingTimeout = DefaultPingTimeout
	}

	logger.Info("Connecting to Redis",
		slog.String("addr", opts.Addr),
		slog.Int("db", opts.DB),
	)

	rdb := goredis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		logger.Error("Failed to ping Redis",
			slog.Any("error", err),
		)
		rdb.Close()
		return nil, &ConnectionError{Op: "connect", Err: err}
	}

	logger.Info("Successfully connected to Redis")

	return New(rdb, logger, config.PopStep), nil
}

// New wraps an existing go-redis client. The returned Client owns rdb and
// closes it on Close.
func New(rdb goredis.UniversalClient, logger *slog.Logger, popStep time.Duration) *Client {
	if popStep <= 0 {
		popStep = DefaultPopStep
	}
	return &Client{
		rdb:     rdb,
		logger:  logger,
		popStep: popStep,
	}
}

// Add inserts member with score, or updates the score if it already exists.
func (c *Client) Add(ctx context.Context, key, member string, score float64) error {
	if err := c.rdb.ZAdd(ctx, key, goredis.Z{Score: score, Member: member}).Err(); err != nil {
		return c.wrap(ctx, "zadd", err)
	}
	return nil
}

// PopMove waits up to timeout for a member of src whose score is <= due()
// and atomically moves it into dst, scored with the due value it was popped
// at. due is re-evaluated on every attempt so members become claimable as
// time passes. It returns ErrEmpty when the timeout elapses and ctx.Err()
// when ctx is canceled first.
func (c *Client) PopMove(ctx context.Context, src, dst string, timeout time.Duration, due func() float64) (string, error) {
	deadline := time.Now().Add(timeout)

	for {
		member, err := popMoveScript.Run(ctx, c.rdb, []string{src, dst}, formatScore(due())).Text()
		if err == nil {
			return member, nil
		}
		if !errors.Is(err, goredis.Nil) {
			return "", c.wrap(ctx, "pop_move", err)
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return "", ErrEmpty
		}

		wait := c.popStep
		if remaining < wait {
			wait = remaining
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return "", ctx.Err()
		case <-timer.C:
		}
	}
}

// Remove deletes member from the set. Removing an absent member is not an error.
func (c *Client) Remove(ctx context.Context, key, member string) error {
	if err := c.rdb.ZRem(ctx, key, member).Err(); err != nil {
		return c.wrap(ctx, "zrem", err)
	}
	return nil
}

// Refresh updates the score of member only if it is already in the set.
func (c *Client) Refresh(ctx context.Context, key, member string, score float64) error {
	if err := c.rdb.ZAddXX(ctx, key, goredis.Z{Score: score, Member: member}).Err(); err != nil {
		return c.wrap(ctx, "zadd_xx", err)
	}
	return nil
}

// Move atomically transfers member from src to dst with score. It reports
// false, and touches nothing, when member was no longer in src.
func (c *Client) Move(ctx context.Context, src, dst, member string, score float64) (bool, error) {
	moved, err := moveScript.Run(ctx, c.rdb, []string{src, dst}, member, formatScore(score)).Int()
	if err != nil {
		return false, c.wrap(ctx, "move", err)
	}
	return moved == 1, nil
}

// Cardinality returns the number of members in the set.
func (c *Client) Cardinality(ctx context.Context, key string) (int64, error) {
	n, err := c.rdb.ZCard(ctx, key).Result()
	if err != nil {
		return 0, c.wrap(ctx, "zcard", err)
	}
	return n, nil
}

// Range returns members by rank, lowest score first. stop is inclusive and
// may be -1 for the last member.
func (c *Client) Range(ctx context.Context, key string, start, stop int64) ([]string, error) {
	members, err := c.rdb.ZRange(ctx, key, start, stop).Result()
	if err != nil {
		return nil, c.wrap(ctx, "zrange", err)
	}
	return members, nil
}

// RangeByScore returns up to limit members with score <= max, lowest first.
func (c *Client) RangeByScore(ctx context.Context, key string, max float64, limit int64) ([]string, error) {
	members, err := c.rdb.ZRangeByScore(ctx, key, &goredis.ZRangeBy{
		Min:   "-inf",
		Max:   formatScore(max),
		Count: limit,
	}).Result()
	if err != nil {
		return nil, c.wrap(ctx, "zrangebyscore", err)
	}
	return members, nil
}

// Delete drops the whole set.
func (c *Client) Delete(ctx context.Context, key string) error {
	if err := c.rdb.Del(ctx, key).Err(); err != nil {
		return c.wrap(ctx, "del", err)
	}
	return nil
}

// Ping checks the broker connection
func (c *Client) Ping(ctx context.Context) error {
	if err := c.rdb.Ping(ctx).Err(); err != nil {
		return c.wrap(ctx, "ping", err)
	}
	return nil
}

// Close closes the underlying connection pool
func (c *Client) Close() error {
	c.logger.Info("Closing Redis connection")

	if err := c.rdb.Close(); err != nil {
		c.logger.Error("Failed to close Redis connection",
			slog.Any("error", err),
		)
		return err
	}

	c.logger.Info("Redis connection closed successfully")
	return nil
}

// wrap turns command failures into *ConnectionError, except when the
// caller's context ended, which is surfaced as is.
func (c *Client) wrap(ctx context.Context, op string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return &ConnectionError{Op: op, Err: err}
}

func formatScore(score float64) string {
	return strconv.FormatFloat(score, 'f', -1, 64)
}
