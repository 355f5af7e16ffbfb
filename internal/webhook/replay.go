package webhook

import (
	"context"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// ReplayGuard claims a processor event id so duplicates are rejected.
type ReplayGuard interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
}

// RedisReplayGuard implements ReplayGuard using Redis SETNX semantics.
type RedisReplayGuard struct {
	Client *redis.Client
}

// Acquire attempts to claim the key for ttl.
func (r RedisReplayGuard) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if r.Client == nil {
		return true, nil
	}
	return r.Client.SetNX(ctx, key, "1", ttl).Result()
}

// Release removes the claim so the processor's own retry can be accepted.
func (r RedisReplayGuard) Release(ctx context.Context, key string) error {
	if r.Client == nil {
		return nil
	}
	return r.Client.Del(ctx, key).Err()
}
