package repository

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/lyzr/assetingest/common/models"
)

// MemoryAssetRepository keeps assets in process memory, for development and tests
type MemoryAssetRepository struct {
	mu     sync.RWMutex
	assets map[string]*models.Asset
}

// NewMemoryAssetRepository creates an empty in-memory catalog
func NewMemoryAssetRepository() *MemoryAssetRepository {
	return &MemoryAssetRepository{assets: make(map[string]*models.Asset)}
}

// Create inserts a copy of asset
func (r *MemoryAssetRepository) Create(ctx context.Context, asset *models.Asset) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.assets[asset.ID]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicate, asset.ID)
	}
	cp := *asset
	r.assets[asset.ID] = &cp
	return nil
}

// Get returns a copy of the asset with id
func (r *MemoryAssetRepository) Get(ctx context.Context, id string) (*models.Asset, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	asset, ok := r.assets[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *asset
	return &cp, nil
}

// List returns at most q.Limit matching assets ordered like the Postgres catalog
func (r *MemoryAssetRepository) List(ctx context.Context, q ListQuery) ([]*models.Asset, error) {
	name := strings.ToLower(q.Name)

	r.mu.RLock()
	out := make([]*models.Asset, 0, len(r.assets))
	for _, asset := range r.assets {
		if name != "" && !strings.Contains(strings.ToLower(asset.OriginalName), name) {
			continue
		}
		cp := *asset
		out = append(out, &cp)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})

	if q.Limit >= 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

// Delete removes the asset with id
func (r *MemoryAssetRepository) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.assets[id]; !ok {
		return ErrNotFound
	}
	delete(r.assets, id)
	return nil
}

// Len reports how many assets are cataloged
func (r *MemoryAssetRepository) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.assets)
}
