package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/lyzr/assetingest/common/logger"
	"github.com/lyzr/assetingest/common/models"
)

var (
	// ErrNotFound is returned when no asset has the requested id
	ErrNotFound = errors.New("asset not found")

	// ErrDuplicate is returned when an asset id is already cataloged
	ErrDuplicate = errors.New("asset already exists")
)

const uniqueViolation = "23505"

var assetColumns = []string{
	"id", "original_name", "mime_type", "size_bytes", "original_key",
	"rendition_key", "url", "width", "height", "created_by", "created_at",
}

// ListQuery selects a page of assets, newest first
type ListQuery struct {
	Limit int
	// Name keeps assets whose original name contains it, ignoring case
	Name string
}

// likeEscaper escapes LIKE metacharacters so a name filter matches literally
var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// Pool is the subset of pgxpool.Pool the repository uses
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// AssetRepository handles database operations for assets
type AssetRepository struct {
	pool Pool
	log  *logger.Logger
}

// NewAssetRepository creates a new asset repository
func NewAssetRepository(pool Pool, log *logger.Logger) *AssetRepository {
	return &AssetRepository{pool: pool, log: log}
}

func (r *AssetRepository) qb() sq.StatementBuilderType {
	return sq.StatementBuilder.PlaceholderFormat(sq.Dollar)
}

// Create inserts a new asset
func (r *AssetRepository) Create(ctx context.Context, asset *models.Asset) error {
	query, args, err := r.qb().Insert("assets").
		Columns(assetColumns...).
		Values(
			asset.ID,
			asset.OriginalName,
			asset.MimeType,
			asset.SizeBytes,
			asset.OriginalKey,
			asset.RenditionKey,
			asset.URL,
			asset.Width,
			asset.Height,
			asset.CreatedBy,
			asset.CreatedAt,
		).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert: %w", err)
	}

	start := time.Now()
	if _, err := r.pool.Exec(ctx, query, args...); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return fmt.Errorf("%w: %s", ErrDuplicate, asset.ID)
		}
		return fmt.Errorf("failed to create asset: %w", err)
	}

	r.log.Debug("asset inserted", "asset_id", asset.ID, "duration_ms", time.Since(start).Milliseconds())
	return nil
}

// Get retrieves an asset by id
func (r *AssetRepository) Get(ctx context.Context, id string) (*models.Asset, error) {
	query, args, err := r.qb().Select(assetColumns...).
		From("assets").
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select: %w", err)
	}

	asset, err := scanAsset(r.pool.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get asset: %w", err)
	}
	return asset, nil
}

// List returns at most q.Limit assets matching q, newest first
func (r *AssetRepository) List(ctx context.Context, q ListQuery) ([]*models.Asset, error) {
	sel := r.qb().Select(assetColumns...).From("assets")
	if q.Name != "" {
		sel = sel.Where(sq.ILike{"original_name": "%" + likeEscaper.Replace(q.Name) + "%"})
	}
	query, args, err := sel.
		OrderBy("created_at DESC", "id DESC").
		Limit(uint64(q.Limit)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list: %w", err)
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list assets: %w", err)
	}
	defer rows.Close()

	assets := make([]*models.Asset, 0, q.Limit)
	for rows.Next() {
		asset, err := scanAsset(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan asset: %w", err)
		}
		assets = append(assets, asset)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list assets: %w", err)
	}

	return assets, nil
}

// Delete removes an asset
func (r *AssetRepository) Delete(ctx context.Context, id string) error {
	query, args, err := r.qb().Delete("assets").
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build delete: %w", err)
	}

	result, err := r.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to delete asset: %w", err)
	}

	if result.RowsAffected() == 0 {
		return ErrNotFound
	}

	return nil
}

func scanAsset(row pgx.Row) (*models.Asset, error) {
	asset := &models.Asset{}
	err := row.Scan(
		&asset.ID,
		&asset.OriginalName,
		&asset.MimeType,
		&asset.SizeBytes,
		&asset.OriginalKey,
		&asset.RenditionKey,
		&asset.URL,
		&asset.Width,
		&asset.Height,
		&asset.CreatedBy,
		&asset.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return asset, nil
}
