package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// slidingWindowScript prunes, counts and records in one atomic step.
// Returns {1, remaining} when admitted, {0, retry_after_ms} when rejected.
var slidingWindowScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)
local count = redis.call('ZCARD', key)
if count >= limit then
  local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
  return {0, tonumber(oldest[2]) + window - now}
end
redis.call('ZADD', key, now, ARGV[4])
redis.call('PEXPIRE', key, window)
return {1, limit - count - 1}
`)

// RedisLimiter shares the sliding window across processes through a Redis sorted set per key.
type RedisLimiter struct {
	rdb    *redis.Client
	limit  int
	window time.Duration
	prefix string
	now    func() time.Time
}

// NewRedisLimiter creates a limiter backed by rdb.
func NewRedisLimiter(rdb *redis.Client, limit int, window time.Duration) *RedisLimiter {
	return &RedisLimiter{rdb: rdb, limit: limit, window: window, prefix: "ratelimit:", now: time.Now}
}

// Allow runs the sliding-window script for key.
func (l *RedisLimiter) Allow(ctx context.Context, key string) (Decision, error) {
	nowMs := l.now().UnixMilli()
	res, err := slidingWindowScript.Run(ctx, l.rdb, []string{l.prefix + key},
		nowMs, l.window.Milliseconds(), l.limit, fmt.Sprintf("%d-%s", nowMs, uuid.NewString()),
	).Result()
	if err != nil {
		return Decision{}, fmt.Errorf("rate limit script: %w", err)
	}
	vals, ok := res.([]interface{})
	if !ok || len(vals) != 2 {
		return Decision{}, fmt.Errorf("rate limit script: unexpected reply %v", res)
	}
	allowed, _ := vals[0].(int64)
	n, _ := vals[1].(int64)
	if allowed == 1 {
		return Decision{Allowed: true, Remaining: int(n)}, nil
	}
	d := time.Duration(n) * time.Millisecond
	if d <= 0 {
		d = time.Millisecond
	}
	return Decision{Allowed: false, RetryAfter: d}, nil
}
