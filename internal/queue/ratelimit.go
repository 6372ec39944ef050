package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var incrWithTTLScript = redis.NewScript(`
local c = redis.call("INCR", KEYS[1])
if c == 1 then
  redis.call("EXPIRE", KEYS[1], ARGV[1])
end
return c
`)

// RateLimiter is a fixed-window counter shared by every server instance
// pointed at the same redis. Windows are aligned to the hour.
type RateLimiter struct {
	redis  *redis.Client
	prefix string
	limit  int64
}

func NewRateLimiter(rdb *redis.Client, prefix string, limit int64) *RateLimiter {
	return &RateLimiter{redis: rdb, prefix: prefix, limit: limit}
}

func (r *RateLimiter) Allow(ctx context.Context, key string, now time.Time) (allowed bool, used int64, resetAt time.Time, err error) {
	windowStart := now.UTC().Truncate(time.Hour)
	windowEnd := windowStart.Add(time.Hour)
	ttl := int64(windowEnd.Sub(now.UTC()).Seconds())
	if ttl < 1 {
		ttl = 1
	}

	redisKey := fmt.Sprintf("relaychat:ratelimit:%s:%s:%s", r.prefix, key, windowStart.Format("2006010215"))
	res, err := incrWithTTLScript.Run(ctx, r.redis, []string{redisKey}, ttl).Int64()
	if err != nil {
		return false, 0, time.Time{}, fmt.Errorf("rate limit script: %w", err)
	}
	return res <= r.limit, res, windowEnd, nil
}

func (r *RateLimiter) Limit() int64 {
	return r.limit
}

func (r *RateLimiter) Prefix() string {
	return r.prefix
}
