package ratelimit

import (
	"context"
	"time"
)

// Decision is the outcome of one rate-limit check.
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// Limiter checks and records one event for key.
type Limiter interface {
	Allow(ctx context.Context, key string) (Decision, error)
}
