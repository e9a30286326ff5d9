package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/lyzr/assetingest/common/cache"
	"github.com/lyzr/assetingest/common/logger"
	"github.com/lyzr/assetingest/common/metrics"
	"github.com/lyzr/assetingest/common/models"
)

const (
	generationKey = "assets:generation"
	generationTTL = 24 * time.Hour
)

// AssetStore is the catalog contract shared by every backend
type AssetStore interface {
	Create(ctx context.Context, asset *models.Asset) error
	Get(ctx context.Context, id string) (*models.Asset, error)
	List(ctx context.Context, q ListQuery) ([]*models.Asset, error)
	Delete(ctx context.Context, id string) error
}

// CachedAssetRepository caches List results. Every write rotates a generation
// token that is part of the list keys, so stale pages are never read again.
// Cache failures degrade to the underlying store.
type CachedAssetRepository struct {
	next    AssetStore
	cache   cache.Cache
	ttl     time.Duration
	metrics *metrics.Metrics
	log     *logger.Logger
}

// NewCachedAssetRepository wraps next with a list cache
func NewCachedAssetRepository(next AssetStore, c cache.Cache, ttl time.Duration, m *metrics.Metrics, log *logger.Logger) *CachedAssetRepository {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &CachedAssetRepository{next: next, cache: c, ttl: ttl, metrics: m, log: log}
}

// Create inserts and invalidates cached lists
func (r *CachedAssetRepository) Create(ctx context.Context, asset *models.Asset) error {
	if err := r.next.Create(ctx, asset); err != nil {
		return err
	}
	r.rotate(ctx)
	return nil
}

// Get is not cached
func (r *CachedAssetRepository) Get(ctx context.Context, id string) (*models.Asset, error) {
	return r.next.Get(ctx, id)
}

// Delete removes and invalidates cached lists
func (r *CachedAssetRepository) Delete(ctx context.Context, id string) error {
	if err := r.next.Delete(ctx, id); err != nil {
		return err
	}
	r.rotate(ctx)
	return nil
}

// List serves from cache when the current generation has the page
func (r *CachedAssetRepository) List(ctx context.Context, q ListQuery) ([]*models.Asset, error) {
	gen, err := r.generation(ctx)
	if err != nil {
		r.log.Warn("list cache unavailable", "error", err)
		return r.next.List(ctx, q)
	}
	key := fmt.Sprintf("assets:list:%s:%d:%q", gen, q.Limit, q.Name)

	if raw, ok, err := r.cache.Get(ctx, key); err == nil && ok {
		var assets []*models.Asset
		if err := json.Unmarshal(raw, &assets); err == nil {
			r.metrics.IncCacheLookup(true)
			return assets, nil
		}
	}
	r.metrics.IncCacheLookup(false)

	assets, err := r.next.List(ctx, q)
	if err != nil {
		return nil, err
	}

	if raw, err := json.Marshal(assets); err == nil {
		if err := r.cache.Set(ctx, key, raw, r.ttl); err != nil {
			r.log.Warn("list cache write failed", "error", err)
		}
	}
	return assets, nil
}

// generation returns the current token, creating one when absent
func (r *CachedAssetRepository) generation(ctx context.Context) (string, error) {
	raw, ok, err := r.cache.Get(ctx, generationKey)
	if err != nil {
		return "", err
	}
	if ok {
		return string(raw), nil
	}
	return r.rotate(ctx), nil
}

func (r *CachedAssetRepository) rotate(ctx context.Context) string {
	gen := uuid.NewString()
	if err := r.cache.Set(ctx, generationKey, []byte(gen), generationTTL); err != nil {
		// Without a new generation stale pages could be served until their TTL
		r.log.Warn("list cache invalidation failed", "error", err)
		if derr := r.cache.Delete(ctx, generationKey); derr != nil {
			r.log.Error("list cache generation could not be cleared", "error", derr)
		}
	}
	return gen
}
