package cache

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lyzr/assetingest/common/logger"
)

func TestMemoryCache_SetGetDelete(t *testing.T) {
	c, err := NewMemoryCache(16, logger.Discard())
	require.NoError(t, err)
	defer c.Close()

	ctx := context.Background()
	require.NoError(t, c.Set(ctx, "k", []byte("v"), time.Minute))

	val, ok, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("v"), val)

	require.NoError(t, c.Delete(ctx, "k"))
	_, ok, err = c.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryCache_ExpiredEntryIsMiss(t *testing.T) {
	c, err := NewMemoryCache(16, logger.Discard())
	require.NoError(t, err)
	defer c.Close()

	ctx := context.Background()
	require.NoError(t, c.Set(ctx, "k", []byte("v"), -time.Second))

	_, ok, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryCache_EvictsBeyondCapacity(t *testing.T) {
	c, err := NewMemoryCache(4, logger.Discard())
	require.NoError(t, err)
	defer c.Close()

	ctx := context.Background()
	for i := 0; i < 10; i++ {
		require.NoError(t, c.Set(ctx, fmt.Sprintf("k%d", i), []byte("v"), time.Minute))
	}

	assert.Equal(t, 4, c.Stats()["entries"])

	_, ok, _ := c.Get(ctx, "k0")
	assert.False(t, ok, "oldest entry should have been evicted")
	_, ok, _ = c.Get(ctx, "k9")
	assert.True(t, ok)
}

func TestMemoryCache_CloseIsIdempotent(t *testing.T) {
	c, err := NewMemoryCache(4, logger.Discard())
	require.NoError(t, err)

	assert.NoError(t, c.Close())
	assert.NoError(t, c.Close())
}
