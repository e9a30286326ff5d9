package container

import (
	"context"
	"fmt"
	"time"

	"github.com/lyzr/assetingest/cmd/ingest/middleware"
	"github.com/lyzr/assetingest/cmd/ingest/repository"
	"github.com/lyzr/assetingest/cmd/ingest/service"
	"github.com/lyzr/assetingest/common/blobstore"
	"github.com/lyzr/assetingest/common/bootstrap"
	"github.com/lyzr/assetingest/common/config"
	"github.com/lyzr/assetingest/common/ratelimit"
)

// Container holds all initialized services and repositories (singleton pattern)
type Container struct {
	// Components
	Components *bootstrap.Components

	// Storage
	Store   blobstore.Store
	Catalog service.Catalog

	// Admission
	Authorizer middleware.Authorizer
	Limiter    ratelimit.Limiter

	// Services
	Janitor  *service.Janitor
	Pipeline *service.Pipeline
}

// Option replaces a dependency the container would otherwise build from config
type Option func(*options)

type options struct {
	store   blobstore.Store
	catalog service.Catalog
}

// WithStore uses store instead of the configured blob store backend
func WithStore(store blobstore.Store) Option {
	return func(o *options) {
		o.store = store
	}
}

// WithCatalog uses catalog instead of the configured catalog backend
func WithCatalog(catalog service.Catalog) Option {
	return func(o *options) {
		o.catalog = catalog
	}
}

// NewContainer initializes all services and repositories once
func NewContainer(ctx context.Context, components *bootstrap.Components, opts ...Option) (*Container, error) {
	cfg := components.Config
	log := components.Logger

	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	store := o.store
	if store == nil {
		var err error
		if store, err = newBlobStore(ctx, components); err != nil {
			return nil, fmt.Errorf("failed to create blob store: %w", err)
		}
	}

	catalog := o.catalog
	if catalog == nil {
		var err error
		if catalog, err = newCatalog(components); err != nil {
			return nil, fmt.Errorf("failed to create catalog: %w", err)
		}
	}

	authz, err := middleware.NewAuthorizer(cfg.Auth)
	if err != nil {
		return nil, fmt.Errorf("failed to create authorizer: %w", err)
	}

	// Initialize services (bottom-up: dependencies first)
	janitor := service.NewJanitor(store, components.Queue, components.Metrics, log)
	engine := service.NewRenditionEngine(service.RenditionPolicy{
		MaxWidth:    cfg.Ingest.MaxWidth,
		MaxHeight:   cfg.Ingest.MaxHeight,
		Format:      cfg.Ingest.OutputFormat,
		Quality:     cfg.Ingest.Quality,
		Progressive: cfg.Ingest.Progressive,
	}, cfg.Ingest.RenditionWorkers, components.Metrics)

	pipeline := service.NewPipeline(service.PipelineDeps{
		Validator: service.NewValidator(service.ValidationPolicy{
			AllowedTypes: cfg.Ingest.AllowedTypes,
			MaxBytes:     cfg.Ingest.MaxBytes,
		}),
		Allocator: service.NewAllocator(),
		Store:     store,
		Engine:    engine,
		Catalog:   catalog,
		Orphans:   janitor,
		Metrics:   components.Metrics,
		Logger:    log,
	}, service.PipelineConfig{
		PublicBase:       cfg.Storage.PublicBase,
		StoreTimeout:     cfg.Ingest.StoreTimeout,
		CatalogTimeout:   cfg.Ingest.CatalogTimeout,
		BatchConcurrency: cfg.Ingest.BatchConcurrency,
		DefaultListLimit: cfg.Ingest.DefaultListLimit,
		MaxListLimit:     cfg.Ingest.MaxListLimit,
	})

	log.Info("service container ready",
		"storage", cfg.Storage.Backend,
		"catalog", cfg.Ingest.CatalogBackend,
		"auth", cfg.Auth.Mode,
		"rendition_workers", cfg.Ingest.RenditionWorkers,
	)

	return &Container{
		Components: components,
		Store:      store,
		Catalog:    catalog,
		Authorizer: authz,
		Limiter:    newLimiter(components),
		Janitor:    janitor,
		Pipeline:   pipeline,
	}, nil
}

func newBlobStore(ctx context.Context, components *bootstrap.Components) (blobstore.Store, error) {
	cfg := components.Config.Storage
	switch cfg.Backend {
	case "s3":
		return blobstore.NewS3Store(ctx, blobstore.S3Config{
			Endpoint:  cfg.S3Endpoint,
			Region:    cfg.S3Region,
			Bucket:    cfg.S3Bucket,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			UseSSL:    cfg.S3UseSSL,
			PathStyle: cfg.S3PathStyle,
		}, components.Logger)
	case "", "local":
		return blobstore.NewLocalStore(cfg.LocalDir, components.Logger)
	default:
		return nil, fmt.Errorf("unknown storage backend: %s", cfg.Backend)
	}
}

func newCatalog(components *bootstrap.Components) (service.Catalog, error) {
	cfg := components.Config

	var catalog repository.AssetStore
	switch cfg.Ingest.CatalogBackend {
	case "postgres":
		if components.DB == nil {
			return nil, fmt.Errorf("postgres catalog requires a database connection")
		}
		catalog = repository.NewAssetRepository(components.DB, components.Logger)
	case "", "memory":
		components.Logger.Warn("using in-memory catalog, assets are lost on restart")
		catalog = repository.NewMemoryAssetRepository()
	default:
		return nil, fmt.Errorf("unknown catalog backend: %s", cfg.Ingest.CatalogBackend)
	}

	if components.Cache != nil {
		catalog = repository.NewCachedAssetRepository(catalog, components.Cache, cfg.Cache.DefaultTTL, components.Metrics, components.Logger)
	}
	return catalog, nil
}

func newLimiter(components *bootstrap.Components) ratelimit.Limiter {
	policy := uploadPolicy(components.Config.Auth)
	if components.Redis != nil {
		return ratelimit.NewRedisLimiter(components.Redis.GetUnderlying(), policy, components.Logger)
	}
	return ratelimit.NewLocalLimiter(policy)
}

func uploadPolicy(cfg config.AuthConfig) ratelimit.Policy {
	policy := ratelimit.DefaultPolicy
	if cfg.UploadsPerMin > 0 {
		policy.Limit = cfg.UploadsPerMin
		policy.Window = time.Minute
	}
	if cfg.UploadBurst > 0 {
		policy.Burst = cfg.UploadBurst
	}
	return policy
}
