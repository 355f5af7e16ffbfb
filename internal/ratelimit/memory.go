package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"
)

// Memory is a process-local limiter used when Redis is not configured or is
// unreachable. The underlying store evicts expired keys periodically, so memory
// stays bounded by the number of clients active within one window.
type Memory struct {
	instance *limiter.Limiter
}

// NewMemory builds a fixed-window in-memory limiter admitting max events per window.
func NewMemory(window time.Duration, max int) *Memory {
	store := memory.NewStoreWithOptions(limiter.StoreOptions{
		Prefix:          "payrelay",
		CleanUpInterval: window,
	})
	return &Memory{instance: limiter.New(store, limiter.Rate{Period: window, Limit: int64(max)})}
}

// Allow implements Limiter.
func (m *Memory) Allow(ctx context.Context, key string) (Decision, error) {
	lctx, err := m.instance.Get(ctx, key)
	if err != nil {
		return Decision{}, fmt.Errorf("ratelimit: memory store: %w", err)
	}
	return Decision{
		Allowed:   !lctx.Reached,
		Limit:     int(lctx.Limit),
		Remaining: int(lctx.Remaining),
		ResetAt:   time.Unix(lctx.Reset, 0),
	}, nil
}
