package ratelimit

import (
	"context"
	"math"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/time/rate"
)

// MaxTrackedPrincipals bounds the buckets a LocalLimiter keeps. The least
// recently seen principal is dropped first and starts over with a full bucket.
const MaxTrackedPrincipals = 10_000

// LocalLimiter keeps one token bucket per principal in process memory.
// Used when Redis is disabled; limits are per replica.
type LocalLimiter struct {
	mu       sync.Mutex
	policy   Policy
	limiters *lru.Cache[string, *rate.Limiter]
	now      func() time.Time
}

// NewLocalLimiter builds a limiter refilling Limit tokens per Window
func NewLocalLimiter(policy Policy) *LocalLimiter {
	return newLocalLimiter(policy, MaxTrackedPrincipals)
}

func newLocalLimiter(policy Policy, size int) *LocalLimiter {
	if policy.Burst < 1 {
		policy.Burst = 1
	}
	// lru.New only fails for a non-positive size
	limiters, _ := lru.New[string, *rate.Limiter](max(size, 1))
	return &LocalLimiter{
		policy:   policy,
		limiters: limiters,
		now:      time.Now,
	}
}

func (l *LocalLimiter) limiterFor(principal string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	lim, ok := l.limiters.Get(principal)
	if !ok {
		every := rate.Every(time.Duration(l.policy.windowSeconds()) * time.Second / time.Duration(max(l.policy.Limit, 1)))
		lim = rate.NewLimiter(every, l.policy.Burst)
		l.limiters.Add(principal, lim)
	}
	return lim
}

// Tracked reports how many principals currently hold a bucket
func (l *LocalLimiter) Tracked() int {
	return l.limiters.Len()
}

// Allow takes one token for principal
func (l *LocalLimiter) Allow(ctx context.Context, principal string) (*Result, error) {
	lim := l.limiterFor(principal)
	now := l.now()

	res := &Result{Limit: l.policy.Limit}

	r := lim.ReserveN(now, 1)
	if !r.OK() {
		res.RetryAfterSeconds = int64(l.policy.windowSeconds())
		return res, nil
	}

	delay := r.DelayFrom(now)
	if delay == 0 {
		res.Allowed = true
		return res, nil
	}

	r.CancelAt(now)
	res.RetryAfterSeconds = int64(math.Ceil(delay.Seconds()))
	return res, nil
}
