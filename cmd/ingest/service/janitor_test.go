package service

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	backoff "github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lyzr/assetingest/common/blobstore"
	"github.com/lyzr/assetingest/common/logger"
	"github.com/lyzr/assetingest/common/queue"
)

// flakyStore fails the first n deletes
type flakyStore struct {
	*fakeStore
	failures atomic.Int32
	deleted  chan string
}

func (s *flakyStore) Delete(ctx context.Context, name string) error {
	if s.failures.Add(-1) >= 0 {
		return errors.New("transient")
	}
	err := s.fakeStore.Delete(ctx, name)
	s.deleted <- name
	return err
}

func fastBackoff() backoff.BackOff {
	return backoff.WithMaxRetries(backoff.NewConstantBackOff(time.Millisecond), 5)
}

func TestJanitor_ReclaimsReportedOrphan(t *testing.T) {
	store := &flakyStore{fakeStore: newFakeStore(), deleted: make(chan string, 1)}
	store.failures.Store(2)
	require.NoError(t, store.Put(context.Background(), "original-abc.jpg", []byte("x")))

	q := queue.NewMemoryQueue(8, logger.Discard())
	defer q.Close()

	j := NewJanitor(store, q, testMetrics(), logger.Discard())
	j.buildBackoff = fastBackoff

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, j.Start(ctx))

	j.ReportOrphan(ctx, "original-abc.jpg", errors.New("disk busy"))

	select {
	case name := <-store.deleted:
		assert.Equal(t, "original-abc.jpg", name)
	case <-time.After(2 * time.Second):
		t.Fatal("orphan was not reclaimed")
	}
	assert.Empty(t, store.names())
}

func TestJanitor_MissingBlobCountsAsReclaimed(t *testing.T) {
	j := NewJanitor(newFakeStore(), nil, testMetrics(), logger.Discard())
	j.buildBackoff = fastBackoff

	err := j.handle(context.Background(), "gone.jpg", []byte(`{"name":"gone.jpg"}`))
	assert.NoError(t, err)
}

func TestJanitor_InvalidNameIsNotRetried(t *testing.T) {
	calls := 0
	store := newFakeStore()
	store.failDelete = blobstore.ErrInvalidName
	j := NewJanitor(countingDeletes{store, &calls}, nil, testMetrics(), logger.Discard())
	j.buildBackoff = fastBackoff

	err := j.handle(context.Background(), "../x", []byte(`{"name":"../x"}`))
	assert.ErrorIs(t, err, blobstore.ErrInvalidName)
	assert.Equal(t, 1, calls)
}

func TestJanitor_WithoutQueueOnlyLogs(t *testing.T) {
	j := NewJanitor(newFakeStore(), nil, testMetrics(), logger.Discard())

	assert.NotPanics(t, func() {
		j.ReportOrphan(context.Background(), "a.jpg", nil)
	})
	assert.NoError(t, j.Start(context.Background()))
}

type countingDeletes struct {
	*fakeStore
	calls *int
}

func (c countingDeletes) Delete(ctx context.Context, name string) error {
	*c.calls++
	return c.fakeStore.Delete(ctx, name)
}
