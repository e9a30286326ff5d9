package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	backoff "github.com/cenkalti/backoff/v4"

	"github.com/lyzr/assetingest/common/blobstore"
	"github.com/lyzr/assetingest/common/logger"
	"github.com/lyzr/assetingest/common/metrics"
	"github.com/lyzr/assetingest/common/queue"
)

// OrphanTopic carries blobs whose cleanup failed during a run
const OrphanTopic = "blob.orphaned"

type orphanMessage struct {
	Name       string    `json:"name"`
	Cause      string    `json:"cause"`
	ReportedAt time.Time `json:"reportedAt"`
}

// Janitor retries deletion of orphaned blobs out of band
type Janitor struct {
	store        blobstore.Store
	queue        queue.Queue
	metrics      *metrics.Metrics
	log          *logger.Logger
	buildBackoff func() backoff.BackOff
}

// NewJanitor creates a janitor. A nil queue means orphans are only logged.
func NewJanitor(store blobstore.Store, q queue.Queue, m *metrics.Metrics, log *logger.Logger) *Janitor {
	return &Janitor{
		store:   store,
		queue:   q,
		metrics: m,
		log:     log,
		buildBackoff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 200 * time.Millisecond
			b.MaxElapsedTime = 30 * time.Second
			return b
		},
	}
}

// ReportOrphan queues name for a later delete
func (j *Janitor) ReportOrphan(ctx context.Context, name string, cause error) {
	j.metrics.IncOrphan("reported")

	if j.queue == nil {
		j.log.Warn("orphaned blob needs manual collection", "blob", name, "cause", cause)
		j.metrics.IncOrphan("abandoned")
		return
	}

	msg := orphanMessage{Name: name, ReportedAt: time.Now().UTC()}
	if cause != nil {
		msg.Cause = cause.Error()
	}
	payload, err := json.Marshal(msg)
	if err == nil {
		err = j.queue.Publish(ctx, OrphanTopic, name, payload)
	}
	if err != nil {
		j.log.Error("orphaned blob could not be queued", "blob", name, "error", err)
		j.metrics.IncOrphan("abandoned")
	}
}

// Start subscribes to the orphan topic until ctx is done
func (j *Janitor) Start(ctx context.Context) error {
	if j.queue == nil {
		return nil
	}
	return j.queue.Subscribe(ctx, OrphanTopic, j.handle)
}

func (j *Janitor) handle(ctx context.Context, key string, value []byte) error {
	var msg orphanMessage
	if err := json.Unmarshal(value, &msg); err != nil {
		return fmt.Errorf("decode orphan message %s: %w", key, err)
	}

	err := j.reclaim(ctx, msg.Name)
	if err != nil {
		j.metrics.IncOrphan("abandoned")
		return fmt.Errorf("reclaim %s: %w", msg.Name, err)
	}

	j.metrics.IncOrphan("reclaimed")
	j.log.Info("orphaned blob reclaimed", "blob", msg.Name, "reported_at", msg.ReportedAt)
	return nil
}

// reclaim deletes name, retrying transient failures with backoff
func (j *Janitor) reclaim(ctx context.Context, name string) error {
	op := func() error {
		err := blobstore.DeleteIfExists(ctx, j.store, name)
		if errors.Is(err, blobstore.ErrInvalidName) {
			return backoff.Permanent(err)
		}
		return err
	}
	return backoff.Retry(op, backoff.WithContext(j.buildBackoff(), ctx))
}
