package repository

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lyzr/assetingest/common/logger"
	"github.com/lyzr/assetingest/common/models"
)

func intPtr(v int) *int { return &v }

func sampleAsset(id string, createdAt time.Time) *models.Asset {
	return &models.Asset{
		ID:           id,
		OriginalName: "photo.jpg",
		MimeType:     "image/jpeg",
		SizeBytes:    2048,
		OriginalKey:  "original-" + id + ".jpg",
		RenditionKey: id + ".jpg",
		URL:          "/uploads/" + id + ".jpg",
		Width:        intPtr(1440),
		Height:       intPtr(1080),
		CreatedBy:    "alice",
		CreatedAt:    createdAt,
	}
}

func anyArgs(n int) []any {
	args := make([]any, n)
	for i := range args {
		args[i] = pgxmock.AnyArg()
	}
	return args
}

func newMockRepo(t *testing.T) (*AssetRepository, pgxmock.PgxPoolIface) {
	t.Helper()
	pool, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	return NewAssetRepository(pool, logger.Discard()), pool
}

func assetRow(pool pgxmock.PgxPoolIface, assets ...*models.Asset) *pgxmock.Rows {
	rows := pool.NewRows(assetColumns)
	for _, a := range assets {
		rows.AddRow(a.ID, a.OriginalName, a.MimeType, a.SizeBytes, a.OriginalKey,
			a.RenditionKey, a.URL, a.Width, a.Height, a.CreatedBy, a.CreatedAt)
	}
	return rows
}

func TestAssetRepository_Create(t *testing.T) {
	repo, pool := newMockRepo(t)
	asset := sampleAsset("abc", time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC))

	pool.ExpectExec(regexp.QuoteMeta("INSERT INTO assets (id,original_name,mime_type")).
		WithArgs(asset.ID, asset.OriginalName, asset.MimeType, asset.SizeBytes, asset.OriginalKey,
			asset.RenditionKey, asset.URL, asset.Width, asset.Height, asset.CreatedBy, asset.CreatedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, repo.Create(context.Background(), asset))
	assert.NoError(t, pool.ExpectationsWereMet())
}

func TestAssetRepository_CreateDuplicate(t *testing.T) {
	repo, pool := newMockRepo(t)

	pool.ExpectExec("INSERT INTO assets").
		WithArgs(anyArgs(len(assetColumns))...).
		WillReturnError(&pgconn.PgError{Code: "23505", Message: "duplicate key"})

	err := repo.Create(context.Background(), sampleAsset("abc", time.Now()))
	assert.ErrorIs(t, err, ErrDuplicate)
	assert.NoError(t, pool.ExpectationsWereMet())
}

func TestAssetRepository_GetFoundAndMissing(t *testing.T) {
	repo, pool := newMockRepo(t)
	asset := sampleAsset("abc", time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC))

	pool.ExpectQuery(`SELECT .* FROM assets WHERE id = \$1`).
		WithArgs("abc").
		WillReturnRows(assetRow(pool, asset))
	pool.ExpectQuery(`SELECT .* FROM assets WHERE id = \$1`).
		WithArgs("missing").
		WillReturnRows(pool.NewRows(assetColumns))

	got, err := repo.Get(context.Background(), "abc")
	require.NoError(t, err)
	assert.Equal(t, asset, got)

	_, err = repo.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	assert.NoError(t, pool.ExpectationsWereMet())
}

func TestAssetRepository_ListNewestFirst(t *testing.T) {
	repo, pool := newMockRepo(t)
	newer := sampleAsset("b", time.Date(2024, 5, 2, 0, 0, 0, 0, time.UTC))
	older := sampleAsset("a", time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC))
	older.Width, older.Height = nil, nil

	pool.ExpectQuery(regexp.QuoteMeta("FROM assets ORDER BY created_at DESC, id DESC LIMIT 2")).
		WillReturnRows(assetRow(pool, newer, older))

	assets, err := repo.List(context.Background(), ListQuery{Limit: 2})
	require.NoError(t, err)
	require.Len(t, assets, 2)
	assert.Equal(t, "b", assets[0].ID)
	assert.Equal(t, "a", assets[1].ID)
	assert.False(t, assets[1].HasDimensions())
	assert.NoError(t, pool.ExpectationsWereMet())
}

func TestAssetRepository_ListByName(t *testing.T) {
	repo, pool := newMockRepo(t)
	match := sampleAsset("b", time.Date(2024, 5, 2, 0, 0, 0, 0, time.UTC))

	pool.ExpectQuery(regexp.QuoteMeta("FROM assets WHERE original_name ILIKE $1 ORDER BY created_at DESC, id DESC LIMIT 5")).
		WithArgs(`%50\%\_off%`).
		WillReturnRows(assetRow(pool, match))

	assets, err := repo.List(context.Background(), ListQuery{Limit: 5, Name: "50%_off"})
	require.NoError(t, err)
	require.Len(t, assets, 1)
	assert.Equal(t, "b", assets[0].ID)
	assert.NoError(t, pool.ExpectationsWereMet())
}

func TestAssetRepository_CreateError(t *testing.T) {
	repo, pool := newMockRepo(t)

	pool.ExpectExec("INSERT INTO assets").
		WithArgs(anyArgs(len(assetColumns))...).
		WillReturnError(errors.New("connection reset"))

	err := repo.Create(context.Background(), sampleAsset("abc", time.Now()))
	assert.ErrorContains(t, err, "connection reset")
	assert.NotErrorIs(t, err, ErrDuplicate)
	assert.NoError(t, pool.ExpectationsWereMet())
}

func TestAssetRepository_ListError(t *testing.T) {
	repo, pool := newMockRepo(t)

	pool.ExpectQuery("FROM assets").WillReturnError(errors.New("connection refused"))

	_, err := repo.List(context.Background(), ListQuery{Limit: 10})
	assert.ErrorContains(t, err, "connection refused")
}

func TestAssetRepository_Delete(t *testing.T) {
	repo, pool := newMockRepo(t)

	pool.ExpectExec(regexp.QuoteMeta("DELETE FROM assets WHERE id = $1")).
		WithArgs("abc").
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	pool.ExpectExec(regexp.QuoteMeta("DELETE FROM assets WHERE id = $1")).
		WithArgs("abc").
		WillReturnResult(pgxmock.NewResult("DELETE", 0))

	require.NoError(t, repo.Delete(context.Background(), "abc"))
	assert.ErrorIs(t, repo.Delete(context.Background(), "abc"), ErrNotFound)
	assert.NoError(t, pool.ExpectationsWereMet())
}
