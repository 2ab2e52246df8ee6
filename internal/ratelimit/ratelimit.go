// Package ratelimit provides a fixed-window request limiter backed by Redis,
// used to throttle the unauthenticated tracking endpoint.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "ratelimit:"

// Limiter counts requests per key inside a fixed time window.
type Limiter struct {
	client *redis.Client
	limit  int
	window time.Duration
}

// NewLimiter builds a limiter allowing limit requests per window.
func NewLimiter(client *redis.Client, limit int, window time.Duration) *Limiter {
	return &Limiter{client: client, limit: limit, window: window}
}

// Allow reports whether another request under key fits in the current window.
// On Redis errors it allows the request: throttling is best-effort and must
// not take the endpoint down with it.
func (l *Limiter) Allow(ctx context.Context, key string) bool {
	redisKey := fmt.Sprintf("%s%s:%d", keyPrefix, key, time.Now().Unix()/int64(l.window.Seconds()))

	count, err := l.client.Incr(ctx, redisKey).Result()
	if err != nil {
		return true
	}
	if count == 1 {
		l.client.Expire(ctx, redisKey, l.window)
	}
	return count <= int64(l.limit)
}
