package config

import (
	"fmt"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all service configuration
type Config struct {
	Service   ServiceConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Cache     CacheConfig
	Queue     QueueConfig
	Storage   StorageConfig
	Ingest    IngestConfig
	Auth      AuthConfig
	Telemetry TelemetryConfig
}

// ServiceConfig holds service-specific settings
type ServiceConfig struct {
	Name        string
	Port        int
	Environment string
	LogLevel    string
	LogFormat   string
}

// DatabaseConfig holds Postgres connection settings
type DatabaseConfig struct {
	Host          string
	Port          int
	Database      string
	User          string
	Password      string
	MaxConns      int
	MinConns      int
	MaxIdleTime   time.Duration
	MaxLifetime   time.Duration
	RunMigrations bool
}

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
}

// CacheConfig holds catalog list cache settings
type CacheConfig struct {
	Enabled    bool
	Backend    string // "memory" or "redis"
	MaxEntries int
	DefaultTTL time.Duration
}

// QueueConfig holds message queue settings
type QueueConfig struct {
	Type       string // "memory" only for now
	BufferSize int
}

// StorageConfig selects and configures the blob store backend
type StorageConfig struct {
	Backend    string // "local" or "s3"
	LocalDir   string
	PublicBase string // URL path prefix renditions are served under, e.g. "uploads"

	S3Endpoint  string
	S3Region    string
	S3Bucket    string
	S3AccessKey string
	S3SecretKey string
	S3UseSSL    bool
	S3PathStyle bool
}

// IngestConfig is the validation and rendition policy
type IngestConfig struct {
	AllowedTypes     []string
	MaxBytes         int64
	MaxWidth         int
	MaxHeight        int
	OutputFormat     string // "jpeg", "png" or "auto"
	Quality          int
	Progressive      bool
	RenditionWorkers int
	BatchConcurrency int
	StoreTimeout     time.Duration
	CatalogTimeout   time.Duration
	CatalogBackend   string // "postgres" or "memory"
	DefaultListLimit int
	MaxListLimit     int
}

// AuthConfig configures the authorization collaborator
type AuthConfig struct {
	Mode          string // "header" or "jwt"
	JWTSecret     string
	JWTIssuer     string
	UploadsPerMin int64
	UploadBurst   int
}

// TelemetryConfig holds observability settings
type TelemetryConfig struct {
	EnablePprof   bool
	PprofPort     int
	EnableMetrics bool
	MetricsPort   int
}

// Load loads configuration from environment variables (and .env when present)
func Load(serviceName string) (*Config, error) {
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(".env"); err != nil {
			return nil, fmt.Errorf("load .env: %w", err)
		}
	}

	v := viper.New()
	v.AutomaticEnv()
	setDefaults(v)

	cfg := fromViper(v, serviceName)
	return cfg, cfg.Validate()
}

// Default returns the configuration Load produces with an empty environment.
// Tests and the CLI start from it and override what they need.
func Default(serviceName string) *Config {
	v := viper.New()
	setDefaults(v)
	return fromViper(v, serviceName)
}

func fromViper(v *viper.Viper, serviceName string) *Config {
	return &Config{
		Service: ServiceConfig{
			Name:        serviceName,
			Port:        v.GetInt("PORT"),
			Environment: v.GetString("ENVIRONMENT"),
			LogLevel:    v.GetString("LOG_LEVEL"),
			LogFormat:   v.GetString("LOG_FORMAT"),
		},
		Database: DatabaseConfig{
			Host:          v.GetString("POSTGRES_HOST"),
			Port:          v.GetInt("POSTGRES_PORT"),
			Database:      v.GetString("POSTGRES_DB"),
			User:          v.GetString("POSTGRES_USER"),
			Password:      v.GetString("POSTGRES_PASSWORD"),
			MaxConns:      v.GetInt("POSTGRES_MAX_CONNS"),
			MinConns:      v.GetInt("POSTGRES_MIN_CONNS"),
			MaxIdleTime:   v.GetDuration("POSTGRES_MAX_IDLE_TIME"),
			MaxLifetime:   v.GetDuration("POSTGRES_MAX_LIFETIME"),
			RunMigrations: v.GetBool("POSTGRES_RUN_MIGRATIONS"),
		},
		Redis: RedisConfig{
			Enabled:  v.GetBool("REDIS_ENABLED"),
			Host:     v.GetString("REDIS_HOST"),
			Port:     v.GetInt("REDIS_PORT"),
			Password: v.GetString("REDIS_PASSWORD"),
			DB:       v.GetInt("REDIS_DB"),
		},
		Cache: CacheConfig{
			Enabled:    v.GetBool("CACHE_ENABLED"),
			Backend:    v.GetString("CACHE_BACKEND"),
			MaxEntries: v.GetInt("CACHE_MAX_ENTRIES"),
			DefaultTTL: v.GetDuration("CACHE_DEFAULT_TTL"),
		},
		Queue: QueueConfig{
			Type:       v.GetString("QUEUE_TYPE"),
			BufferSize: v.GetInt("QUEUE_BUFFER_SIZE"),
		},
		Storage: StorageConfig{
			Backend:     v.GetString("STORAGE_BACKEND"),
			LocalDir:    v.GetString("STORAGE_LOCAL_DIR"),
			PublicBase:  strings.Trim(v.GetString("STORAGE_PUBLIC_BASE"), "/"),
			S3Endpoint:  v.GetString("S3_ENDPOINT"),
			S3Region:    v.GetString("S3_REGION"),
			S3Bucket:    v.GetString("S3_BUCKET"),
			S3AccessKey: v.GetString("S3_ACCESS_KEY"),
			S3SecretKey: v.GetString("S3_SECRET_KEY"),
			S3UseSSL:    v.GetBool("S3_USE_SSL"),
			S3PathStyle: v.GetBool("S3_PATH_STYLE"),
		},
		Ingest: IngestConfig{
			AllowedTypes:     splitList(v.GetString("INGEST_ALLOWED_TYPES")),
			MaxBytes:         v.GetInt64("INGEST_MAX_BYTES"),
			MaxWidth:         v.GetInt("RENDITION_MAX_WIDTH"),
			MaxHeight:        v.GetInt("RENDITION_MAX_HEIGHT"),
			OutputFormat:     v.GetString("RENDITION_FORMAT"),
			Quality:          v.GetInt("RENDITION_QUALITY"),
			Progressive:      v.GetBool("RENDITION_PROGRESSIVE"),
			RenditionWorkers: v.GetInt("RENDITION_WORKERS"),
			BatchConcurrency: v.GetInt("INGEST_BATCH_CONCURRENCY"),
			StoreTimeout:     v.GetDuration("STORE_TIMEOUT"),
			CatalogTimeout:   v.GetDuration("CATALOG_TIMEOUT"),
			CatalogBackend:   v.GetString("CATALOG_BACKEND"),
			DefaultListLimit: v.GetInt("LIST_DEFAULT_LIMIT"),
			MaxListLimit:     v.GetInt("LIST_MAX_LIMIT"),
		},
		Auth: AuthConfig{
			Mode:          v.GetString("AUTH_MODE"),
			JWTSecret:     v.GetString("AUTH_JWT_SECRET"),
			JWTIssuer:     v.GetString("AUTH_JWT_ISSUER"),
			UploadsPerMin: v.GetInt64("AUTH_UPLOADS_PER_MIN"),
			UploadBurst:   v.GetInt("AUTH_UPLOAD_BURST"),
		},
		Telemetry: TelemetryConfig{
			EnablePprof:   v.GetBool("ENABLE_PPROF"),
			PprofPort:     v.GetInt("PPROF_PORT"),
			EnableMetrics: v.GetBool("ENABLE_METRICS"),
			MetricsPort:   v.GetInt("METRICS_PORT"),
		},
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("PORT", 8080)
	v.SetDefault("ENVIRONMENT", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "text") // Default to text for development

	v.SetDefault("POSTGRES_HOST", "localhost")
	v.SetDefault("POSTGRES_PORT", 5432)
	v.SetDefault("POSTGRES_DB", "assets")
	v.SetDefault("POSTGRES_USER", "assets")
	v.SetDefault("POSTGRES_PASSWORD", "assets")
	v.SetDefault("POSTGRES_MAX_CONNS", 20)
	v.SetDefault("POSTGRES_MIN_CONNS", 2)
	v.SetDefault("POSTGRES_MAX_IDLE_TIME", 30*time.Minute)
	v.SetDefault("POSTGRES_MAX_LIFETIME", time.Hour)
	v.SetDefault("POSTGRES_RUN_MIGRATIONS", true)

	v.SetDefault("REDIS_ENABLED", false)
	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("CACHE_ENABLED", true)
	v.SetDefault("CACHE_BACKEND", "memory")
	v.SetDefault("CACHE_MAX_ENTRIES", 1024)
	v.SetDefault("CACHE_DEFAULT_TTL", 5*time.Minute)

	v.SetDefault("QUEUE_TYPE", "memory")
	v.SetDefault("QUEUE_BUFFER_SIZE", 1000)

	v.SetDefault("STORAGE_BACKEND", "local")
	v.SetDefault("STORAGE_LOCAL_DIR", "./data/uploads")
	v.SetDefault("STORAGE_PUBLIC_BASE", "uploads")
	v.SetDefault("S3_REGION", "us-east-1")
	v.SetDefault("S3_BUCKET", "assets")

	v.SetDefault("INGEST_ALLOWED_TYPES", "image/jpeg,image/png,image/webp,image/gif")
	v.SetDefault("INGEST_MAX_BYTES", 10<<20)
	v.SetDefault("RENDITION_MAX_WIDTH", 1920)
	v.SetDefault("RENDITION_MAX_HEIGHT", 1080)
	v.SetDefault("RENDITION_FORMAT", "jpeg")
	v.SetDefault("RENDITION_QUALITY", 85)
	v.SetDefault("RENDITION_PROGRESSIVE", true)
	v.SetDefault("RENDITION_WORKERS", runtime.NumCPU())
	v.SetDefault("INGEST_BATCH_CONCURRENCY", 8)
	v.SetDefault("STORE_TIMEOUT", 10*time.Second)
	v.SetDefault("CATALOG_TIMEOUT", 5*time.Second)
	v.SetDefault("CATALOG_BACKEND", "postgres")
	v.SetDefault("LIST_DEFAULT_LIMIT", 50)
	v.SetDefault("LIST_MAX_LIMIT", 200)

	v.SetDefault("AUTH_MODE", "header")
	v.SetDefault("AUTH_UPLOADS_PER_MIN", 60)
	v.SetDefault("AUTH_UPLOAD_BURST", 10)

	v.SetDefault("ENABLE_PPROF", false)
	v.SetDefault("PPROF_PORT", 6060)
	v.SetDefault("ENABLE_METRICS", true)
	v.SetDefault("METRICS_PORT", 9090)
}

// Validate checks if configuration is valid
func (c *Config) Validate() error {
	if c.Service.Port < 1 || c.Service.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Service.Port)
	}

	if c.Ingest.CatalogBackend == "postgres" {
		if c.Database.Host == "" {
			return fmt.Errorf("database host is required")
		}
		if c.Database.MaxConns < c.Database.MinConns {
			return fmt.Errorf("max_conns must be >= min_conns")
		}
	}

	switch c.Storage.Backend {
	case "local":
		if c.Storage.LocalDir == "" {
			return fmt.Errorf("storage local dir is required")
		}
	case "s3":
		if c.Storage.S3Endpoint == "" || c.Storage.S3Bucket == "" {
			return fmt.Errorf("s3 endpoint and bucket are required")
		}
	default:
		return fmt.Errorf("unknown storage backend: %s", c.Storage.Backend)
	}

	if len(c.Ingest.AllowedTypes) == 0 {
		return fmt.Errorf("at least one allowed content type is required")
	}
	if c.Ingest.MaxBytes <= 0 {
		return fmt.Errorf("invalid max bytes: %d", c.Ingest.MaxBytes)
	}
	if c.Ingest.MaxWidth <= 0 || c.Ingest.MaxHeight <= 0 {
		return fmt.Errorf("invalid rendition bounds: %dx%d", c.Ingest.MaxWidth, c.Ingest.MaxHeight)
	}
	if c.Ingest.Quality < 1 || c.Ingest.Quality > 100 {
		return fmt.Errorf("rendition quality must be within 1..100, got %d", c.Ingest.Quality)
	}
	switch c.Ingest.OutputFormat {
	case "jpeg", "png", "auto":
	default:
		return fmt.Errorf("unknown rendition format: %s", c.Ingest.OutputFormat)
	}

	switch c.Auth.Mode {
	case "header":
	case "jwt":
		if c.Auth.JWTSecret == "" {
			return fmt.Errorf("jwt auth mode requires AUTH_JWT_SECRET")
		}
	default:
		return fmt.Errorf("unknown auth mode: %s", c.Auth.Mode)
	}

	if c.Cache.Backend == "redis" && c.Cache.Enabled && !c.Redis.Enabled {
		return fmt.Errorf("redis cache backend requires REDIS_ENABLED")
	}

	return nil
}

// DatabaseURL returns the PostgreSQL connection string
func (c *Config) DatabaseURL() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=disable",
		c.Database.User,
		c.Database.Password,
		c.Database.Host,
		c.Database.Port,
		c.Database.Database,
	)
}

// RedisAddr returns host:port for the Redis client
func (c *Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, strings.ToLower(part))
		}
	}
	return out
}
