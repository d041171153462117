// Package config assembles a swiftsim server from options and environment
// variables.
package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/tendant/simple-cloudfiles/pkg/swiftsim"
	"github.com/tendant/simple-cloudfiles/pkg/swiftsim/blobkey"
	"github.com/tendant/simple-cloudfiles/pkg/swiftsim/catalog"
	memorycatalog "github.com/tendant/simple-cloudfiles/pkg/swiftsim/catalog/memory"
	pgcatalog "github.com/tendant/simple-cloudfiles/pkg/swiftsim/catalog/postgres"
	"github.com/tendant/simple-cloudfiles/pkg/swiftsim/storage"
	fsstorage "github.com/tendant/simple-cloudfiles/pkg/swiftsim/storage/fs"
	memorystorage "github.com/tendant/simple-cloudfiles/pkg/swiftsim/storage/memory"
	s3storage "github.com/tendant/simple-cloudfiles/pkg/swiftsim/storage/s3"
)

// Option applies configuration to a ServerConfig instance.
type Option func(*ServerConfig) error

// Load constructs a ServerConfig by applying the supplied options on top of library defaults.
func Load(opts ...Option) (*ServerConfig, error) {
	cfg := defaults()

	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(&cfg); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func defaults() ServerConfig {
	return ServerConfig{
		Port:         "8080",
		Environment:  "development",
		DatabaseType: "memory",
		DBSchema:     "swiftsim",
		Storage: StorageBackendConfig{
			Type:   "memory",
			Config: map[string]interface{}{},
		},
		BlobShardLength: 2,
		Region:          "DFW",
		TokenTTL:        24 * time.Hour,
		EnableMetrics:   true,
	}
}

// ServerConfig represents the configuration of a swiftsim server
type ServerConfig struct {
	Port        string
	Environment string // development, production, testing

	// Catalog configuration
	DatabaseURL  string
	DatabaseType string // "memory", "postgres"
	DBSchema     string // Postgres schema to use (default: swiftsim)
	AutoMigrate  bool   // apply the embedded schema on startup

	// Payload storage
	Storage         StorageBackendConfig
	BlobShardLength int // characters of the random key used as a directory shard

	// Identity
	Region      string
	TokenSecret string
	TokenTTL    time.Duration
	Users       []swiftsim.User

	EnableMetrics bool
}

// StorageBackendConfig represents configuration for the blob store
type StorageBackendConfig struct {
	Type   string // "memory", "fs", "s3"
	Config map[string]interface{}
}

// Validate validates the server configuration
func (c *ServerConfig) Validate() error {
	if c.Port == "" {
		return errors.New("port is required")
	}

	if c.DatabaseType != "memory" && c.DatabaseType != "postgres" {
		return errors.New("database_type must be 'memory' or 'postgres'")
	}

	if c.DatabaseType == "postgres" && c.DatabaseURL == "" {
		return errors.New("database_url is required when using postgres")
	}

	switch c.Storage.Type {
	case "memory", "fs", "s3":
	default:
		return fmt.Errorf("unsupported storage backend type: %s", c.Storage.Type)
	}

	if c.BlobShardLength < 1 || c.BlobShardLength > 8 {
		return errors.New("blob_shard_length must be between 1 and 8")
	}

	if c.TokenTTL <= 0 {
		return errors.New("token_ttl must be positive")
	}

	if c.Environment == "production" {
		if c.TokenSecret == "" {
			return errors.New("token_secret is required in production")
		}
		if len(c.Users) == 0 {
			return errors.New("at least one user is required in production")
		}
	}

	for _, u := range c.Users {
		if u.Name == "" {
			return errors.New("user name cannot be empty")
		}
		if u.APIKey == "" && u.Password == "" {
			return fmt.Errorf("user %s needs an api key or a password", u.Name)
		}
	}

	return nil
}

// BuildServer creates the server described by the configuration. The returned
// function releases the database pool, if any.
func (c *ServerConfig) BuildServer(ctx context.Context, logger *slog.Logger) (*swiftsim.Server, func(), error) {
	if logger == nil {
		logger = slog.Default()
	}
	cleanup := func() {}

	cat, pool, err := c.buildCatalog(ctx)
	if err != nil {
		return nil, cleanup, fmt.Errorf("failed to build catalog: %w", err)
	}
	if pool != nil {
		cleanup = pool.Close
	}

	blobs, err := c.buildBlobStore()
	if err != nil {
		cleanup()
		return nil, func() {}, fmt.Errorf("failed to build storage backend %s: %w", c.Storage.Type, err)
	}

	options := []swiftsim.Option{
		swiftsim.WithCatalog(cat),
		swiftsim.WithBlobStore(blobs),
		swiftsim.WithKeyGenerator(&blobkey.Sharded{ShardLength: c.BlobShardLength}),
		swiftsim.WithRegion(c.Region),
		swiftsim.WithTokenTTL(c.TokenTTL),
		swiftsim.WithLogger(logger),
	}
	if c.TokenSecret != "" {
		options = append(options, swiftsim.WithTokenSecret(c.TokenSecret))
	}
	if c.EnableMetrics {
		options = append(options, swiftsim.WithMetrics(swiftsim.NewMetrics()))
	}
	for _, u := range c.Users {
		options = append(options, swiftsim.WithUser(u))
	}

	srv, err := swiftsim.New(options...)
	if err != nil {
		cleanup()
		return nil, func() {}, err
	}
	return srv, cleanup, nil
}

// buildCatalog creates a Catalog based on the configuration
func (c *ServerConfig) buildCatalog(ctx context.Context) (catalog.Catalog, *pgxpool.Pool, error) {
	switch c.DatabaseType {
	case "memory":
		return memorycatalog.New(), nil, nil
	case "postgres":
		if c.DatabaseURL == "" {
			return nil, nil, errors.New("database_url is required for postgres")
		}
		cfg, err := pgxpool.ParseConfig(c.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to parse DATABASE_URL: %w", err)
		}
		schema := c.DBSchema
		cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
			if schema == "" {
				return nil
			}
			_, err := conn.Exec(ctx, fmt.Sprintf("SET search_path TO %s", pgx.Identifier{schema}.Sanitize()))
			return err
		}
		pool, err := pgxpool.NewWithConfig(ctx, cfg)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create pgx pool: %w", err)
		}

		cat := pgcatalog.NewWithPool(pool)
		if c.AutoMigrate {
			if err := cat.Migrate(ctx); err != nil {
				pool.Close()
				return nil, nil, fmt.Errorf("failed to migrate catalog: %w", err)
			}
		}
		return cat, pool, nil
	default:
		return nil, nil, fmt.Errorf("unsupported database type: %s", c.DatabaseType)
	}
}

// PingPostgres verifies connectivity to Postgres.
func PingPostgres(ctx context.Context, databaseURL string) error {
	if databaseURL == "" {
		return errors.New("database_url is required")
	}
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return fmt.Errorf("failed to create pgx pool: %w", err)
	}
	defer pool.Close()
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	return nil
}

// buildBlobStore creates a BlobStore based on the backend configuration
func (c *ServerConfig) buildBlobStore() (storage.BlobStore, error) {
	config := c.Storage
	switch config.Type {
	case "memory":
		return memorystorage.New(), nil

	case "fs":
		return fsstorage.New(fsstorage.Config{
			BaseDir: getString(config.Config, "base_dir", "./data/swiftsim"),
		})

	case "s3":
		return s3storage.New(s3storage.Config{
			Region:                 getString(config.Config, "region", "us-east-1"),
			Bucket:                 getString(config.Config, "bucket", ""),
			Prefix:                 getString(config.Config, "prefix", ""),
			AccessKeyID:            getString(config.Config, "access_key_id", ""),
			SecretAccessKey:        getString(config.Config, "secret_access_key", ""),
			Endpoint:               getString(config.Config, "endpoint", ""),
			UsePathStyle:           getBool(config.Config, "use_path_style", false),
			EnableSSE:              getBool(config.Config, "enable_sse", false),
			SSEAlgorithm:           getString(config.Config, "sse_algorithm", "AES256"),
			SSEKMSKeyID:            getString(config.Config, "sse_kms_key_id", ""),
			CreateBucketIfNotExist: getBool(config.Config, "create_bucket_if_not_exist", false),
		})

	default:
		return nil, fmt.Errorf("unsupported storage backend type: %s", config.Type)
	}
}

func getString(config map[string]interface{}, key string, defaultValue string) string {
	if value, exists := config[key]; exists {
		if str, ok := value.(string); ok && str != "" {
			return str
		}
	}
	return defaultValue
}

func getBool(config map[string]interface{}, key string, defaultValue bool) bool {
	if value, exists := config[key]; exists {
		if b, ok := value.(bool); ok {
			return b
		}
		if str, ok := value.(string); ok {
			if b, err := strconv.ParseBool(str); err == nil {
				return b
			}
		}
	}
	return defaultValue
}
