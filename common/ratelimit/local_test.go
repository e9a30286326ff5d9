package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalLimiter_BurstThenReject(t *testing.T) {
	l := NewLocalLimiter(Policy{Limit: 60, Window: time.Minute, Burst: 2})
	fixed := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return fixed }

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		res, err := l.Allow(ctx, "alice")
		require.NoError(t, err)
		assert.True(t, res.Allowed, "request %d", i)
	}

	res, err := l.Allow(ctx, "alice")
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Equal(t, int64(1), res.RetryAfterSeconds)
	assert.Equal(t, int64(60), res.Limit)
}

func TestLocalLimiter_PrincipalsAreIndependent(t *testing.T) {
	l := NewLocalLimiter(Policy{Limit: 1, Window: time.Minute, Burst: 1})
	fixed := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return fixed }

	ctx := context.Background()
	res, _ := l.Allow(ctx, "alice")
	assert.True(t, res.Allowed)
	res, _ = l.Allow(ctx, "alice")
	assert.False(t, res.Allowed)

	res, _ = l.Allow(ctx, "bob")
	assert.True(t, res.Allowed)
}

func TestLocalLimiter_RefillsOverTime(t *testing.T) {
	l := NewLocalLimiter(Policy{Limit: 60, Window: time.Minute, Burst: 1})
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }

	ctx := context.Background()
	res, _ := l.Allow(ctx, "alice")
	assert.True(t, res.Allowed)
	res, _ = l.Allow(ctx, "alice")
	assert.False(t, res.Allowed)

	now = now.Add(1100 * time.Millisecond)
	res, _ = l.Allow(ctx, "alice")
	assert.True(t, res.Allowed)
}

func TestLocalLimiter_BoundsTrackedPrincipals(t *testing.T) {
	l := newLocalLimiter(Policy{Limit: 1, Window: time.Minute, Burst: 1}, 2)
	fixed := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return fixed }

	ctx := context.Background()
	for _, p := range []string{"alice", "bob", "carol", "dave"} {
		res, err := l.Allow(ctx, p)
		require.NoError(t, err)
		assert.True(t, res.Allowed, p)
	}
	assert.Equal(t, 2, l.Tracked())

	// dave is still tracked and stays throttled
	res, _ := l.Allow(ctx, "dave")
	assert.False(t, res.Allowed)
}

func TestNewLocalLimiter_DefaultBound(t *testing.T) {
	l := NewLocalLimiter(DefaultPolicy)
	_, err := l.Allow(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, 1, l.Tracked())
}
