// Package config loads datastage settings from environment variables with
// defaults, and validates them on startup so misconfiguration fails fast.
package config

import (
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Dataset   DatasetConfig
	Warehouse WarehouseConfig
	History   HistoryConfig
	Run       RunConfig
	Server    ServerConfig
	Logging   LoggingConfig
}

// DatasetConfig locates the input archive and the dataset layout.
type DatasetConfig struct {
	// Root is the base of raw/zip, raw/staging, raw/csv and data_warehouse (default: dataset)
	Root string `env:"DATASET_ROOT" default:"dataset"`

	// ArchivePath is the downloaded competition archive
	// (default: <Root>/raw/zip/springleaf-marketing-response.zip)
	ArchivePath string `env:"ARCHIVE_PATH" envAlt:"DATASET_ARCHIVE"`
}

// WarehouseConfig controls parquet conversion after staging.
type WarehouseConfig struct {
	// Enabled converts staged tables to parquet after each run (default: false)
	Enabled bool `env:"WAREHOUSE_ENABLED" default:"false"`

	// Compression is the parquet codec: zstd, snappy, gzip, uncompressed (default: zstd)
	Compression string `env:"WAREHOUSE_COMPRESSION" default:"zstd"`

	// MemoryLimit caps DuckDB memory, e.g. 2GB (default: unset)
	MemoryLimit string `env:"WAREHOUSE_MEMORY_LIMIT"`

	// Threads caps DuckDB worker threads, 0 for DuckDB's default (default: 0)
	Threads int `env:"WAREHOUSE_THREADS" default:"0"`

	// SampleSize is the number of distinct values shown per profiled column (default: 10)
	SampleSize int `env:"PROFILE_SAMPLE_SIZE" default:"10"`
}

// HistoryConfig selects where run history is kept.
type HistoryConfig struct {
	// Driver is sqlite, postgres or none (default: sqlite)
	Driver string `env:"HISTORY_DRIVER" default:"sqlite"`

	// Path is the SQLite file; empty means <DATASET_ROOT>/stage_history.db
	Path string `env:"HISTORY_PATH"`

	// DatabaseURL is the PostgreSQL connection string for the postgres driver
	DatabaseURL string `env:"DATABASE_URL" envAlt:"DB_URL"`
}

// RunConfig bounds individual staging runs.
type RunConfig struct {
	// MaxWait is how long a triggered run waits for a running one (default: 5s)
	MaxWait time.Duration `env:"RUN_MAX_WAIT" default:"5s"`

	// Timeout is the upper bound for a single run (default: 30m)
	Timeout time.Duration `env:"RUN_TIMEOUT" default:"30m"`
}

// ServerConfig holds HTTP settings for serve mode.
type ServerConfig struct {
	// Host is the interface to bind to (default: 127.0.0.1)
	Host string `env:"SERVER_HOST" default:"127.0.0.1"`

	// Port is the port to listen on (default: 8080)
	Port int `env:"SERVER_PORT" default:"8080"`

	// ReadTimeout is the maximum duration for reading a request (default: 15s)
	ReadTimeout time.Duration `env:"SERVER_READ_TIMEOUT" default:"15s"`

	// ShutdownTimeout is how long graceful shutdown may take (default: 30s)
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`

	// TrustedProxies is a comma-separated list of proxy CIDRs whose
	// X-Real-IP / X-Forwarded-For headers are honored (default: none)
	TrustedProxies string `env:"SERVER_TRUSTED_PROXIES"`
}

// TrustedProxyList splits TrustedProxies into its entries.
func (c *ServerConfig) TrustedProxyList() []string {
	var out []string
	for _, p := range strings.Split(c.TrustedProxies, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error (default: info)
	Level string `env:"LOG_LEVEL" default:"info"`

	// Format is the log format: text or json (default: text)
	Format string `env:"LOG_FORMAT" default:"text"`
}

// Addr returns the server listen address in host:port format.
func (c *ServerConfig) Addr() string {
	return c.Host + ":" + strconv.Itoa(c.Port)
}

// DefaultArchiveName is the archive file looked up under <root>/raw/zip when
// ARCHIVE_PATH is unset.
const DefaultArchiveName = "springleaf-marketing-response.zip"

// HistoryPath returns the SQLite history file, defaulting under the dataset root.
func (c *Config) HistoryPath() string {
	if c.History.Path != "" {
		return c.History.Path
	}
	return filepath.Join(c.Dataset.Root, "stage_history.db")
}
