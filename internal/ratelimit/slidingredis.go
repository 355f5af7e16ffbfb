package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// slidingScript trims entries older than the window, admits the event only
// when the window has room, and returns {admitted, count, oldestMillis}.
var slidingScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local max = tonumber(ARGV[3])
redis.call("ZREMRANGEBYSCORE", key, "-inf", now - window)
local count = redis.call("ZCARD", key)
local admitted = 0
if count < max then
  redis.call("ZADD", key, now, ARGV[4])
  count = count + 1
  admitted = 1
end
redis.call("PEXPIRE", key, window)
local oldest = redis.call("ZRANGE", key, 0, 0, "WITHSCORES")
local oldestScore = now
if oldest[2] then
  oldestScore = tonumber(oldest[2])
end
return {admitted, count, oldestScore}
`)

// SlidingWindow implements a sliding window limiter backed by Redis sorted
// sets. Every key carries a TTL of one window, so idle clients cost nothing.
type SlidingWindow struct {
	Client *redis.Client
	Prefix string
	Window time.Duration
	Max    int
}

// Allow registers an event for the given key and returns whether it is within the limit.
// Rejected events are not recorded, so a client that backs off regains capacity.
func (l SlidingWindow) Allow(ctx context.Context, key string) (Decision, error) {
	now := time.Now()
	if l.Client == nil || l.Max <= 0 || l.Window <= 0 {
		return Decision{Allowed: true, Limit: l.Max, Remaining: l.Max, ResetAt: now.Add(l.Window)}, nil
	}

	windowMillis := l.Window.Milliseconds()
	if windowMillis < 1 {
		windowMillis = 1
	}
	member := uuid.NewString()
	res, err := slidingScript.Run(ctx, l.Client, []string{l.Prefix + key},
		now.UnixMilli(), windowMillis, l.Max, member).Int64Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("ratelimit: sliding window: %w", err)
	}
	if len(res) != 3 {
		return Decision{}, fmt.Errorf("ratelimit: unexpected script reply %v", res)
	}

	remaining := l.Max - int(res[1])
	if remaining < 0 {
		remaining = 0
	}
	return Decision{
		Allowed:   res[0] == 1,
		Limit:     l.Max,
		Remaining: remaining,
		ResetAt:   time.UnixMilli(res[2]).Add(l.Window),
	}, nil
}
