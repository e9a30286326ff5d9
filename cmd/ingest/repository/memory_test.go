package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryAssetRepository_Lifecycle(t *testing.T) {
	repo := NewMemoryAssetRepository()
	ctx := context.Background()
	base := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, repo.Create(ctx, sampleAsset("a", base)))
	require.NoError(t, repo.Create(ctx, sampleAsset("c", base.Add(time.Hour))))
	require.NoError(t, repo.Create(ctx, sampleAsset("b", base.Add(time.Hour))))

	assert.ErrorIs(t, repo.Create(ctx, sampleAsset("a", base)), ErrDuplicate)

	assets, err := repo.List(ctx, ListQuery{Limit: 10})
	require.NoError(t, err)
	require.Len(t, assets, 3)
	assert.Equal(t, []string{"c", "b", "a"}, []string{assets[0].ID, assets[1].ID, assets[2].ID})

	assets, err = repo.List(ctx, ListQuery{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, assets, 1)

	require.NoError(t, repo.Delete(ctx, "a"))
	assert.ErrorIs(t, repo.Delete(ctx, "a"), ErrNotFound)
	_, err = repo.Get(ctx, "a")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, 2, repo.Len())
}

func TestMemoryAssetRepository_ReturnsCopies(t *testing.T) {
	repo := NewMemoryAssetRepository()
	ctx := context.Background()
	require.NoError(t, repo.Create(ctx, sampleAsset("a", time.Now())))

	got, err := repo.Get(ctx, "a")
	require.NoError(t, err)
	got.OriginalName = "changed"

	again, err := repo.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "photo.jpg", again.OriginalName)
}

func TestMemoryAssetRepository_ListByName(t *testing.T) {
	repo := NewMemoryAssetRepository()
	ctx := context.Background()
	base := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

	for i, name := range []string{"Beach Sunset.jpg", "office.png", "sunset-2.jpg"} {
		a := sampleAsset(string(rune('a'+i)), base.Add(time.Duration(i)*time.Minute))
		a.OriginalName = name
		require.NoError(t, repo.Create(ctx, a))
	}

	assets, err := repo.List(ctx, ListQuery{Limit: 10, Name: "SUNSET"})
	require.NoError(t, err)
	require.Len(t, assets, 2)
	assert.Equal(t, "sunset-2.jpg", assets[0].OriginalName)
	assert.Equal(t, "Beach Sunset.jpg", assets[1].OriginalName)

	assets, err = repo.List(ctx, ListQuery{Limit: 10, Name: "tax"})
	require.NoError(t, err)
	assert.Empty(t, assets)
}
