package bootstrap

import (
	"context"
	"fmt"

	"github.com/lyzr/assetingest/common/cache"
	"github.com/lyzr/assetingest/common/config"
	"github.com/lyzr/assetingest/common/db"
	"github.com/lyzr/assetingest/common/logger"
	"github.com/lyzr/assetingest/common/metrics"
	"github.com/lyzr/assetingest/common/queue"
	rediscommon "github.com/lyzr/assetingest/common/redis"
	"github.com/lyzr/assetingest/common/telemetry"
)

// Setup initializes all service components
// This is the main entry point for all services
func Setup(ctx context.Context, serviceName string, opts ...Option) (components *Components, err error) {
	options := defaultOptions()
	for _, opt := range opts {
		opt(options)
	}

	components = &Components{
		cleanupFuncs: make([]func() error, 0),
	}

	// 1. Load configuration
	if options.customConfig != nil {
		components.Config = options.customConfig
	} else {
		components.Config, err = config.Load(serviceName)
		if err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
	}
	cfg := components.Config

	// 2. Initialize logger
	if options.customLogger != nil {
		components.Logger = options.customLogger
	} else {
		components.Logger = logger.New(cfg.Service.LogLevel, cfg.Service.LogFormat)
	}
	log := components.Logger

	log.Info("initializing service",
		"service", serviceName,
		"environment", cfg.Service.Environment,
	)

	// Release whatever was opened if a later step fails
	defer func() {
		if err != nil {
			components.Shutdown(ctx)
			components = nil
		}
	}()

	// 3. Metrics are always on; the listener is telemetry's concern
	components.Metrics = metrics.MustNew(options.registerer)
	host := metrics.CaptureHostInfo()
	components.Metrics.SetHostInfo(host)
	log.Info("host", host.LogArgs()...)

	// 4. Database, only when the catalog lives in Postgres
	if !options.skipDB && cfg.Ingest.CatalogBackend == "postgres" {
		log.Info("connecting to database")
		components.DB, err = db.New(ctx, cfg, log)
		if err != nil {
			return components, fmt.Errorf("failed to connect to database: %w", err)
		}
		components.addCleanup(func() error {
			log.Info("closing database connection")
			components.DB.Close()
			return nil
		})
	}

	// 5. Redis
	if !options.skipRedis && cfg.Redis.Enabled {
		log.Info("connecting to redis")
		components.Redis, err = rediscommon.Dial(ctx, rediscommon.Options{
			Addr:     cfg.RedisAddr(),
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		}, log)
		if err != nil {
			return components, fmt.Errorf("failed to connect to redis: %w", err)
		}
		components.addCleanup(func() error {
			log.Info("closing redis connection")
			return components.Redis.Close()
		})
	}

	// 6. Queue
	if !options.skipQueue {
		log.Info("initializing queue", "type", cfg.Queue.Type)

		switch cfg.Queue.Type {
		case "memory":
			components.Queue = queue.NewMemoryQueue(cfg.Queue.BufferSize, log)
		default:
			return components, fmt.Errorf("unknown queue type: %s", cfg.Queue.Type)
		}

		components.addCleanup(func() error {
			log.Info("closing queue")
			return components.Queue.Close()
		})
	}

	// 7. Cache
	if !options.skipCache && cfg.Cache.Enabled {
		log.Info("initializing cache", "backend", cfg.Cache.Backend, "max_entries", cfg.Cache.MaxEntries)

		switch cfg.Cache.Backend {
		case "redis":
			if components.Redis == nil {
				return components, fmt.Errorf("cache backend redis requires REDIS_ENABLED")
			}
			components.Cache = cache.NewRedisCache(components.Redis, serviceName+":")
		default:
			mem, cerr := cache.NewMemoryCache(cfg.Cache.MaxEntries, log)
			if cerr != nil {
				return components, fmt.Errorf("failed to create cache: %w", cerr)
			}
			components.Cache = mem
		}

		components.addCleanup(func() error {
			log.Info("closing cache")
			return components.Cache.Close()
		})
	}

	// 8. Telemetry
	if !options.skipTelemetry && (cfg.Telemetry.EnablePprof || cfg.Telemetry.EnableMetrics) {
		log.Info("initializing telemetry")
		components.Telemetry = telemetry.New(telemetry.Options{
			EnablePprof:   cfg.Telemetry.EnablePprof,
			PprofPort:     cfg.Telemetry.PprofPort,
			EnableMetrics: cfg.Telemetry.EnableMetrics,
			MetricsPort:   cfg.Telemetry.MetricsPort,
		}, log)

		if err := components.Telemetry.Start(ctx); err != nil {
			// Don't fail startup if telemetry fails
			log.Warn("failed to start telemetry", "error", err)
		}
		components.addCleanup(func() error {
			return components.Telemetry.Shutdown(context.Background())
		})
	}

	log.Info("service initialization complete",
		"service", serviceName,
		"db", components.DB != nil,
		"redis", components.Redis != nil,
		"queue", components.Queue != nil,
		"cache", components.Cache != nil,
		"telemetry", components.Telemetry != nil,
	)

	return components, nil
}

// MustSetup is like Setup but panics on error
// Useful for services that can't recover from initialization failure
func MustSetup(ctx context.Context, serviceName string, opts ...Option) *Components {
	components, err := Setup(ctx, serviceName, opts...)
	if err != nil {
		panic(fmt.Sprintf("failed to setup service %s: %v", serviceName, err))
	}
	return components
}
