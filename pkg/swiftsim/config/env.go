package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/tendant/simple-cloudfiles/pkg/swiftsim"
)

// WithEnv applies environment variable overrides using the provided prefix.
//
// Server:
//
//	PORT - Listen port (default: "8080")
//	ENVIRONMENT - Runtime environment (default: "development")
//	ENABLE_METRICS - Expose /metrics (default: true)
//
// Catalog:
//
//	DATABASE_URL - "memory" (default) or "postgres://..." / "postgresql://..."
//	DB_SCHEMA - Postgres search_path (default: "swiftsim")
//	AUTO_MIGRATE - Apply the catalog schema on startup
//
// Storage:
//
//	STORAGE_URL - one of:
//	  - "memory://" - In-memory payloads (default)
//	  - "file:///path/to/data" - Filesystem payloads
//	  - "s3://bucket?region=us-east-1&endpoint=http://localhost:9000&prefix=blobs"
//	BLOB_SHARD_LENGTH - Directory shard width of payload keys (default: 2)
//
// Identity:
//
//	REGION - Region advertised in the service catalog (default: "DFW")
//	TOKEN_SECRET - HMAC secret for issued tokens
//	TOKEN_TTL - Token lifetime as a Go duration (default: "24h")
//	USERNAME, API_KEY, PASSWORD, ACCOUNT - A single user to register
func WithEnv(prefix string) Option {
	return func(c *ServerConfig) error {
		if v, ok := lookupEnv(prefix, "PORT"); ok && v != "" {
			c.Port = v
		}
		if v, ok := lookupEnv(prefix, "ENVIRONMENT"); ok && v != "" {
			c.Environment = v
		}
		if v, ok, err := parseBoolEnv(prefix, "ENABLE_METRICS"); err != nil {
			return err
		} else if ok {
			c.EnableMetrics = v
		}

		if err := applyDatabaseEnv(prefix, c); err != nil {
			return err
		}
		if err := applyStorageEnv(prefix, c); err != nil {
			return err
		}
		return applyIdentityEnv(prefix, c)
	}
}

// applyDatabaseEnv applies catalog configuration from environment
func applyDatabaseEnv(prefix string, c *ServerConfig) error {
	if v, ok := lookupEnv(prefix, "DB_SCHEMA"); ok && v != "" {
		c.DBSchema = v
	}
	if v, ok, err := parseBoolEnv(prefix, "AUTO_MIGRATE"); err != nil {
		return err
	} else if ok {
		c.AutoMigrate = v
	}

	dbURL, hasURL := lookupEnv(prefix, "DATABASE_URL")
	if !hasURL || dbURL == "" || dbURL == "memory" {
		c.DatabaseType = "memory"
		c.DatabaseURL = ""
		return nil
	}

	if strings.HasPrefix(dbURL, "postgresql://") || strings.HasPrefix(dbURL, "postgres://") {
		c.DatabaseType = "postgres"
		c.DatabaseURL = dbURL
		return nil
	}
	return fmt.Errorf("unsupported DATABASE_URL format: %s (use 'memory' or 'postgresql://...')", dbURL)
}

// applyStorageEnv applies blob store configuration from environment
func applyStorageEnv(prefix string, c *ServerConfig) error {
	if v, ok, err := parseIntEnv(prefix, "BLOB_SHARD_LENGTH"); err != nil {
		return err
	} else if ok {
		c.BlobShardLength = v
	}

	storageURL, hasURL := lookupEnv(prefix, "STORAGE_URL")
	if !hasURL || storageURL == "" || storageURL == "memory" || storageURL == "memory://" {
		c.Storage = StorageBackendConfig{Type: "memory", Config: map[string]interface{}{}}
		return nil
	}

	switch {
	case strings.HasPrefix(storageURL, "file://"):
		path := strings.TrimPrefix(storageURL, "file://")
		if path == "" {
			return fmt.Errorf("filesystem path cannot be empty in STORAGE_URL")
		}
		c.Storage = StorageBackendConfig{
			Type:   "fs",
			Config: map[string]interface{}{"base_dir": path},
		}
		return nil
	case strings.HasPrefix(storageURL, "s3://"):
		return applyS3Storage(storageURL, c)
	}

	return fmt.Errorf("unsupported STORAGE_URL format: %s (use 'memory://', 'file://...', or 's3://...')", storageURL)
}

// applyS3Storage configures S3 payload storage from
// s3://bucket?region=us-east-1&endpoint=http://localhost:9000&prefix=blobs
func applyS3Storage(raw string, c *ServerConfig) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid STORAGE_URL: %w", err)
	}
	if u.Host == "" {
		return fmt.Errorf("S3 bucket name cannot be empty in STORAGE_URL")
	}

	cfg := map[string]interface{}{
		"bucket": u.Host,
		"region": "us-east-1",
	}
	q := u.Query()
	for param, key := range map[string]string{
		"region":   "region",
		"endpoint": "endpoint",
		"prefix":   "prefix",
		"sse":      "sse_algorithm",
		"kms_key":  "sse_kms_key_id",
	} {
		if v := q.Get(param); v != "" {
			cfg[key] = v
		}
	}
	if _, ok := cfg["endpoint"]; ok {
		// S3-compatible services such as MinIO need path style addressing.
		cfg["use_path_style"] = true
		cfg["create_bucket_if_not_exist"] = true
	}
	if _, ok := cfg["sse_algorithm"]; ok {
		cfg["enable_sse"] = true
	}

	if accessKey, ok := os.LookupEnv("AWS_ACCESS_KEY_ID"); ok && accessKey != "" {
		cfg["access_key_id"] = accessKey
	}
	if secretKey, ok := os.LookupEnv("AWS_SECRET_ACCESS_KEY"); ok && secretKey != "" {
		cfg["secret_access_key"] = secretKey
	}
	if region, ok := os.LookupEnv("AWS_REGION"); ok && region != "" {
		cfg["region"] = region
	}

	c.Storage = StorageBackendConfig{Type: "s3", Config: cfg}
	return nil
}

// applyIdentityEnv applies token and user configuration from environment
func applyIdentityEnv(prefix string, c *ServerConfig) error {
	if v, ok := lookupEnv(prefix, "REGION"); ok && v != "" {
		c.Region = v
	}
	if v, ok := lookupEnv(prefix, "TOKEN_SECRET"); ok && v != "" {
		c.TokenSecret = v
	}
	if v, ok := lookupEnv(prefix, "TOKEN_TTL"); ok && v != "" {
		ttl, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid duration for %sTOKEN_TTL: %w", prefix, err)
		}
		c.TokenTTL = ttl
	}

	name, ok := lookupEnv(prefix, "USERNAME")
	if !ok || name == "" {
		return nil
	}
	user := swiftsim.User{Name: name}
	user.APIKey, _ = lookupEnv(prefix, "API_KEY")
	user.Password, _ = lookupEnv(prefix, "PASSWORD")
	user.Account, _ = lookupEnv(prefix, "ACCOUNT")
	c.Users = upsertUser(c.Users, user)
	return nil
}

func upsertUser(users []swiftsim.User, user swiftsim.User) []swiftsim.User {
	for i, u := range users {
		if u.Name == user.Name {
			users[i] = user
			return users
		}
	}
	return append(users, user)
}

func lookupEnv(prefix, key string) (string, bool) {
	return os.LookupEnv(prefix + key)
}

func parseBoolEnv(prefix, key string) (bool, bool, error) {
	raw, ok := lookupEnv(prefix, key)
	if !ok || raw == "" {
		return false, false, nil
	}
	parsed, err := strconv.ParseBool(raw)
	if err != nil {
		return false, false, fmt.Errorf("invalid boolean for %s%s: %w", prefix, key, err)
	}
	return parsed, true, nil
}

func parseIntEnv(prefix, key string) (int, bool, error) {
	raw, ok := lookupEnv(prefix, key)
	if !ok || raw == "" {
		return 0, false, nil
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false, fmt.Errorf("invalid integer for %s%s: %w", prefix, key, err)
	}
	return parsed, true, nil
}
