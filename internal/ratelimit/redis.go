// ABOUTME: Redis-backed fixed-window limiter shared across gateway instances
// ABOUTME: One sorted set per key and window start; each request trims, counts, adds, and expires it

package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/pengfeipang/aizn/internal/clock"
)

// Redis is a Limiter storing request timestamps in sorted sets.
type Redis struct {
	client *redis.Client
	prefix string
	clock  clock.Clock
}

// NewRedis creates a Redis limiter. Keys are written under prefix.
func NewRedis(client *redis.Client, prefix string, clk clock.Clock) *Redis {
	if prefix == "" {
		prefix = "aiquan:ratelimit"
	}
	if clk == nil {
		clk = clock.Real()
	}
	return &Redis{client: client, prefix: prefix, clock: clk}
}

// NewRedisFromURL parses a redis:// URL and verifies the server answers.
// clk decides which window a request falls in; nil uses the real clock.
func NewRedisFromURL(ctx context.Context, url, prefix string, clk clock.Clock) (*Redis, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("pinging redis: %w", err)
	}
	return NewRedis(client, prefix, clk), nil
}

// Allow counts one request for key under rule. The window key is bucketed
// by window so that reset times line up with the in-memory backend.
func (l *Redis) Allow(ctx context.Context, key string, rule Rule) (Decision, error) {
	now := l.clock.Now()
	start := windowStart(now, rule.Window)
	windowKey := fmt.Sprintf("%s:%s:%s:%d", l.prefix, rule.Name, key, start.Unix())

	pipe := l.client.Pipeline()

	// Remove entries from before this window
	pipe.ZRemRangeByScore(ctx, windowKey, "-inf", fmt.Sprintf("(%d", start.UnixMilli()))

	countCmd := pipe.ZCard(ctx, windowKey)

	// Add current request with unique member
	pipe.ZAdd(ctx, windowKey, redis.Z{
		Score:  float64(now.UnixMilli()),
		Member: uuid.NewString(),
	})

	pipe.Expire(ctx, windowKey, rule.Window*2)

	if _, err := pipe.Exec(ctx); err != nil {
		return Decision{}, fmt.Errorf("rate limit pipeline: %w", err)
	}

	count := int(countCmd.Val())
	remaining := rule.Limit - count - 1
	if remaining < 0 {
		remaining = 0
	}

	return Decision{
		Allowed:   count < rule.Limit,
		Limit:     rule.Limit,
		Remaining: remaining,
		ResetAt:   start.Add(rule.Window),
	}, nil
}

// Ping checks the Redis connection.
func (l *Redis) Ping(ctx context.Context) error {
	return l.client.Ping(ctx).Err()
}

// Close releases the Redis client.
func (l *Redis) Close() error {
	return l.client.Close()
}
