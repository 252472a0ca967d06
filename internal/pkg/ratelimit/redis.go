package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "ratelimit:"

// RedisFixedWindow shares fixed-window counters between instances. The
// first INCR of a window sets its expiry, so the window starts on first use.
type RedisFixedWindow struct {
	client *redis.Client
	limit  int64
	period time.Duration
}

// NewRedisFixedWindow creates a Redis-backed limiter.
func NewRedisFixedWindow(client *redis.Client, limit int, period time.Duration) *RedisFixedWindow {
	return &RedisFixedWindow{client: client, limit: int64(limit), period: period}
}

func (r *RedisFixedWindow) Check(ctx context.Context, key string) (Result, error) {
	redisKey := redisKeyPrefix + key

	pipe := r.client.TxPipeline()
	incr := pipe.Incr(ctx, redisKey)
	ttl := pipe.PTTL(ctx, redisKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return Result{Allowed: true}, fmt.Errorf("rate limit %s: %w", key, err)
	}

	count := incr.Val()
	remaining := ttl.Val()
	if count == 1 || remaining < 0 {
		if err := r.client.PExpire(ctx, redisKey, r.period).Err(); err != nil {
			return Result{Allowed: true}, fmt.Errorf("rate limit %s: %w", key, err)
		}
		remaining = r.period
	}

	if count > r.limit {
		return Result{Allowed: false, RetryAfter: remaining}, nil
	}
	return Result{Allowed: true}, nil
}
