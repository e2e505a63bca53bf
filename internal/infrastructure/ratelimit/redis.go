// Package ratelimit provides the atomic fixed-window counters behind the
// remediation action cap and the API rate limits.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisLimiter counts events in fixed windows on Redis, so the cap holds
// across worker replicas.
type RedisLimiter struct {
	client *redis.Client
}

// NewRedisLimiter creates the limiter over an existing client.
func NewRedisLimiter(client *redis.Client) *RedisLimiter {
	return &RedisLimiter{client: client}
}

// Allow increments the window counter for key and reports whether the count
// is within limit. INCR and the expiry run in one pipeline; the expiry is
// only set when the key is fresh, so the window never slides.
func (l *RedisLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	pipe := l.client.TxPipeline()
	count := pipe.Incr(ctx, key)
	pipe.ExpireNX(ctx, key, window)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("failed to advance rate limit counter: %w", err)
	}
	return count.Val() <= int64(limit), nil
}
