// Package config layers configuration as defaults struct, then overlay
// file, then overlay env, then Validate: platform defaults < config file
// (TOML) < environment variables. github.com/joho/godotenv loads a .env
// file ahead of the real environment for local dev.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// EnvPrefix is the namespace every environment-variable override uses.
const EnvPrefix = "OTLP2PARQUET_"

// CatalogMode selects whether flushed Parquet files are registered with an
// Iceberg REST catalog.
type CatalogMode string

const (
	CatalogModeNone    CatalogMode = "none"
	CatalogModeIceberg CatalogMode = "iceberg"
)

// Batch holds the size/row/time thresholds shared by the edge batcher
// and the in-memory batch manager.
type Batch struct {
	MaxRows             int           `toml:"max_rows"`
	MaxBytes            int64         `toml:"max_bytes"`
	MaxAge              time.Duration `toml:"max_age"`
	ChunkThresholdBytes int64         `toml:"chunk_threshold_bytes"`
	PerIngestCeiling    int64         `toml:"per_ingest_ceiling_bytes"`
	BackpressureCeiling int64         `toml:"backpressure_ceiling_bytes"`
	FlushMemoryCeiling  int64         `toml:"flush_memory_ceiling_bytes"`
	MaxWriteRetries     int           `toml:"max_write_retries"`
}

// Storage selects the object-storage backend (S3-compatible, which covers
// both AWS S3 and Cloudflare R2 unmodified).
type Storage struct {
	Bucket          string `toml:"bucket"`
	Endpoint        string `toml:"endpoint"`
	Region          string `toml:"region"`
	AccessKeyID     string `toml:"access_key_id"`
	SecretAccessKey string `toml:"secret_access_key"`
	Insecure        bool   `toml:"insecure"`
	PathStyle       bool   `toml:"path_style"`
	Prefix          string `toml:"prefix"`
}

// Catalog configures the Iceberg REST catalog commit pipeline.
type Catalog struct {
	Mode              CatalogMode       `toml:"mode"`
	Endpoint          string            `toml:"endpoint"`
	Namespace         string            `toml:"namespace"`
	Prefix            string            `toml:"prefix"`
	BearerToken       string            `toml:"bearer_token"`
	AWSSigV4          bool              `toml:"aws_sigv4"`
	AWSRegion         string            `toml:"aws_region"`
	TableNames        map[string]string `toml:"table_names"`
	MaxCatalogRetries int               `toml:"max_catalog_retries"`
	SyncInterval      time.Duration     `toml:"sync_interval"`
}

// Auth configures the optional HTTP Basic auth gate (scheme is HTTP Basic
// when enabled).
type Auth struct {
	Enabled  bool   `toml:"enabled"`
	Username string `toml:"username"`
	Password string `toml:"password"`
}

// Request bounds the HTTP ingest surface.
type Request struct {
	MaxBodyBytes         int64 `toml:"max_body_bytes"`
	MaxDecompressedBytes int64 `toml:"max_decompressed_bytes"`
}

// Edge configures the edge runtime profile's durable actor registry.
type Edge struct {
	StateDir      string        `toml:"state_dir"`
	ReceiptBusURL string        `toml:"receipt_bus_url"`
	AlarmInterval time.Duration `toml:"alarm_interval"`
}

// Config is the fully-resolved configuration for any of the three runtime
// profiles. Not every field applies to every profile; unused fields are
// simply ignored (e.g. Batch drives the in-memory manager in the server
// profile and the durable batcher in the edge profile).
type Config struct {
	ListenAddr string  `toml:"listen_addr"`
	LogLevel   string  `toml:"log_level"`
	Batch      Batch   `toml:"batch"`
	Request    Request `toml:"request"`
	Storage    Storage `toml:"storage"`
	Catalog    Catalog `toml:"catalog"`
	Auth       Auth    `toml:"auth"`
	Edge       Edge    `toml:"edge"`
}

// Default returns the platform-default configuration, the bottom layer of
// "platform defaults < config file < environment variables".
func Default() Config {
	return Config{
		ListenAddr: ":4318",
		LogLevel:   "info",
		Batch: Batch{
			MaxRows:             100_000,
			MaxBytes:            16 * 1024 * 1024,
			MaxAge:              60 * time.Second,
			ChunkThresholdBytes: 1 << 20,
			PerIngestCeiling:    800 * 1024,
			BackpressureCeiling: 20 * 1024 * 1024,
			FlushMemoryCeiling:  48 * 1024 * 1024,
			MaxWriteRetries:     3,
		},
		Request: Request{
			MaxBodyBytes:         32 * 1024 * 1024,
			MaxDecompressedBytes: 64 * 1024 * 1024,
		},
		Catalog: Catalog{
			Mode:              CatalogModeNone,
			Namespace:         "default",
			MaxCatalogRetries: 5,
			SyncInterval:      5 * time.Minute,
		},
		Edge: Edge{
			StateDir:      "./edge-state",
			AlarmInterval: 5 * time.Second,
		},
	}
}

// Load builds the effective configuration: defaults, then an optional TOML
// file, then OTLP2PARQUET_-prefixed environment variables, validating the
// result. envPath (optional) is loaded via godotenv as a local-dev
// convenience; variables already set in the environment are not overridden.
func Load(tomlPath, envPath string) (Config, error) {
	if envPath != "" {
		_ = godotenv.Load(envPath)
	}
	cfg := Default()
	if tomlPath != "" {
		if _, err := toml.DecodeFile(tomlPath, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: decode %s: %w", tomlPath, err)
		}
	}
	applyEnv(&cfg)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Error is a configuration error carrying the name of the offending field,
// so operators can fix a misconfigured deployment without guessing which
// variable is missing.
type Error struct {
	Hint string
	Err  error
}

func (e *Error) Error() string { return fmt.Sprintf("config: %s: %v", e.Hint, e.Err) }
func (e *Error) Unwrap() error { return e.Err }

func (c Config) Validate() error {
	if c.ListenAddr == "" {
		return &Error{Hint: "listen_addr", Err: fmt.Errorf("must not be empty")}
	}
	if c.Catalog.Mode != CatalogModeNone && c.Catalog.Mode != CatalogModeIceberg {
		return &Error{Hint: "catalog.mode", Err: fmt.Errorf("must be %q or %q, got %q", CatalogModeNone, CatalogModeIceberg, c.Catalog.Mode)}
	}
	if c.Catalog.Mode == CatalogModeIceberg {
		if c.Catalog.Endpoint == "" {
			return &Error{Hint: "catalog.endpoint", Err: fmt.Errorf("required when catalog.mode=iceberg")}
		}
		if c.Catalog.Namespace == "" {
			return &Error{Hint: "catalog.namespace", Err: fmt.Errorf("must not be empty")}
		}
		if c.Storage.Bucket == "" {
			return &Error{Hint: "storage.bucket", Err: fmt.Errorf("required when catalog.mode=iceberg")}
		}
	}
	if c.Batch.MaxRows <= 0 {
		return &Error{Hint: "batch.max_rows", Err: fmt.Errorf("must be positive")}
	}
	if c.Batch.MaxBytes <= 0 {
		return &Error{Hint: "batch.max_bytes", Err: fmt.Errorf("must be positive")}
	}
	return nil
}

// applyEnv overlays OTLP2PARQUET_-prefixed environment variables, the top
// layer of the config stack.
func applyEnv(cfg *Config) {
	str := func(key string, dst *string) {
		if v, ok := lookupEnv(key); ok {
			*dst = v
		}
	}
	b64 := func(key string, dst *bool) {
		if v, ok := lookupEnv(key); ok {
			*dst = v == "1" || strings.EqualFold(v, "true")
		}
	}
	i64 := func(key string, dst *int64) {
		if v, ok := lookupEnv(key); ok {
			if n, err := strconv.ParseInt(v, 10, 64); err == nil {
				*dst = n
			}
		}
	}
	i := func(key string, dst *int) {
		if v, ok := lookupEnv(key); ok {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}
	dur := func(key string, dst *time.Duration) {
		if v, ok := lookupEnv(key); ok {
			if d, err := time.ParseDuration(v); err == nil {
				*dst = d
			}
		}
	}

	str("LISTEN_ADDR", &cfg.ListenAddr)
	str("LOG_LEVEL", &cfg.LogLevel)

	i(("BATCH_MAX_ROWS"), &cfg.Batch.MaxRows)
	i64("BATCH_MAX_BYTES", &cfg.Batch.MaxBytes)
	dur("BATCH_MAX_AGE", &cfg.Batch.MaxAge)
	i64("BATCH_CHUNK_THRESHOLD_BYTES", &cfg.Batch.ChunkThresholdBytes)
	i64("BATCH_PER_INGEST_CEILING_BYTES", &cfg.Batch.PerIngestCeiling)
	i64("BATCH_BACKPRESSURE_CEILING_BYTES", &cfg.Batch.BackpressureCeiling)
	i64("BATCH_FLUSH_MEMORY_CEILING_BYTES", &cfg.Batch.FlushMemoryCeiling)
	i("BATCH_MAX_WRITE_RETRIES", &cfg.Batch.MaxWriteRetries)

	i64("REQUEST_MAX_BODY_BYTES", &cfg.Request.MaxBodyBytes)
	i64("REQUEST_MAX_DECOMPRESSED_BYTES", &cfg.Request.MaxDecompressedBytes)

	str("STORAGE_BUCKET", &cfg.Storage.Bucket)
	str("STORAGE_ENDPOINT", &cfg.Storage.Endpoint)
	str("STORAGE_REGION", &cfg.Storage.Region)
	str("STORAGE_ACCESS_KEY_ID", &cfg.Storage.AccessKeyID)
	str("STORAGE_SECRET_ACCESS_KEY", &cfg.Storage.SecretAccessKey)
	b64("STORAGE_INSECURE", &cfg.Storage.Insecure)
	b64("STORAGE_PATH_STYLE", &cfg.Storage.PathStyle)
	str("STORAGE_PREFIX", &cfg.Storage.Prefix)

	if v, ok := lookupEnv("CATALOG_MODE"); ok {
		cfg.Catalog.Mode = CatalogMode(v)
	}
	str("CATALOG_ENDPOINT", &cfg.Catalog.Endpoint)
	str("CATALOG_NAMESPACE", &cfg.Catalog.Namespace)
	str("CATALOG_PREFIX", &cfg.Catalog.Prefix)
	str("CATALOG_BEARER_TOKEN", &cfg.Catalog.BearerToken)
	b64("CATALOG_AWS_SIGV4", &cfg.Catalog.AWSSigV4)
	str("CATALOG_AWS_REGION", &cfg.Catalog.AWSRegion)
	i("CATALOG_MAX_CATALOG_RETRIES", &cfg.Catalog.MaxCatalogRetries)
	dur("CATALOG_SYNC_INTERVAL", &cfg.Catalog.SyncInterval)

	b64("AUTH_ENABLED", &cfg.Auth.Enabled)
	str("AUTH_USERNAME", &cfg.Auth.Username)
	str("AUTH_PASSWORD", &cfg.Auth.Password)

	str("EDGE_STATE_DIR", &cfg.Edge.StateDir)
	str("EDGE_RECEIPT_BUS_URL", &cfg.Edge.ReceiptBusURL)
	dur("EDGE_ALARM_INTERVAL", &cfg.Edge.AlarmInterval)
}

func lookupEnv(key string) (string, bool) {
	return os.LookupEnv(EnvPrefix + key)
}
