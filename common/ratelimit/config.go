package ratelimit

import (
	"context"
	"time"
)

// Policy is a per-principal upload allowance
type Policy struct {
	Limit  int64         // requests allowed per window
	Window time.Duration // window length, at least one second
	Burst  int           // local limiter burst; ignored by the Redis limiter
}

// DefaultPolicy allows 60 uploads per minute with a burst of 10
var DefaultPolicy = Policy{
	Limit:  60,
	Window: time.Minute,
	Burst:  10,
}

// Result contains the result of a rate limit check
type Result struct {
	Allowed           bool  // Whether the request is allowed
	CurrentCount      int64 // Current count in the window, 0 when unknown
	Limit             int64 // The limit that was checked
	RetryAfterSeconds int64 // Seconds until the limit resets (0 if allowed)
}

// Limiter decides whether principal may make another request
type Limiter interface {
	Allow(ctx context.Context, principal string) (*Result, error)
}

func (p Policy) windowSeconds() int {
	secs := int(p.Window / time.Second)
	if secs < 1 {
		return 1
	}
	return secs
}
