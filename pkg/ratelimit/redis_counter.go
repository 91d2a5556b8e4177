package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// slidingWindowScript implements atomic increment-and-check over a sorted
// set of admission timestamps (milliseconds). Only admitted requests are
// recorded. Returns {allowed, remaining, oldestMillis}.
var slidingWindowScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
local member = ARGV[4]

redis.call('ZREMRANGEBYSCORE', key, 0, now - window)
local count = redis.call('ZCARD', key)
if count < limit then
  redis.call('ZADD', key, now, member)
  redis.call('PEXPIRE', key, window)
  local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
  return {1, limit - count - 1, tonumber(oldest[2])}
end
local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
return {0, 0, tonumber(oldest[2])}
`)

// redisCounter shares admission counters across backend replicas
type redisCounter struct {
	client *redis.Client
}

// NewRedisCounter wraps an existing redis client as a CounterStore
func NewRedisCounter(client *redis.Client) CounterStore {
	return &redisCounter{client: client}
}

func (c *redisCounter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, int, time.Time, error) {
	now := time.Now()
	res, err := slidingWindowScript.Run(ctx, c.client,
		[]string{key},
		now.UnixMilli(),
		window.Milliseconds(),
		limit,
		uuid.NewString(),
	).Slice()
	if err != nil {
		return false, 0, time.Time{}, fmt.Errorf("sliding window script: %w", err)
	}
	if len(res) != 3 {
		return false, 0, time.Time{}, fmt.Errorf("sliding window script: unexpected reply %v", res)
	}

	allowed := toInt64(res[0]) == 1
	remaining := int(toInt64(res[1]))
	resetAt := time.UnixMilli(toInt64(res[2])).Add(window)
	return allowed, remaining, resetAt, nil
}

func toInt64(v interface{}) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	}
	return 0
}
