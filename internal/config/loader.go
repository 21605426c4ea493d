package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"
)

// Load reads configuration from environment variables, applies defaults for
// unset values and validates the result.
func Load() (*Config, error) {
	cfg := &Config{}

	if err := loadStruct(reflect.ValueOf(cfg).Elem()); err != nil {
		return nil, fmt.Errorf("config load: %w", err)
	}
	cfg.applyDerivedDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// applyDerivedDefaults fills values whose defaults depend on other settings.
func (c *Config) applyDerivedDefaults() {
	if c.Dataset.ArchivePath == "" && c.Dataset.Root != "" {
		c.Dataset.ArchivePath = filepath.Join(c.Dataset.Root, "raw", "zip", DefaultArchiveName)
	}
}

// loadStruct recursively populates struct fields from environment variables.
func loadStruct(v reflect.Value) error {
	t := v.Type()

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		fieldVal := v.Field(i)

		if !fieldVal.CanSet() {
			continue
		}

		if field.Type.Kind() == reflect.Struct {
			if err := loadStruct(fieldVal); err != nil {
				return err
			}
			continue
		}

		envName := field.Tag.Get("env")
		if envName == "" {
			continue
		}
		envAlt := field.Tag.Get("envAlt")
		required := field.Tag.Get("required") == "true"

		value := os.Getenv(envName)
		if value == "" && envAlt != "" {
			value = os.Getenv(envAlt)
		}
		if value == "" {
			if required {
				return fmt.Errorf("required environment variable %s is not set", envName)
			}
			value = field.Tag.Get("default")
		}
		if value == "" {
			continue
		}

		if err := setField(fieldVal, value); err != nil {
			return fmt.Errorf("invalid value for %s=%q: %w", envName, value, err)
		}
	}

	return nil
}

// setField sets a reflect.Value from a string based on its type.
func setField(field reflect.Value, value string) error {
	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int64:
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return fmt.Errorf("invalid duration: %w", err)
			}
			field.SetInt(int64(d))
			return nil
		}
		i, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid integer: %w", err)
		}
		field.SetInt(i)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid boolean: %w", err)
		}
		field.SetBool(b)

	default:
		return fmt.Errorf("unsupported field type: %s", field.Kind())
	}

	return nil
}

// Validate checks that the configuration is usable and reports every
// problem at once.
func (c *Config) Validate() error {
	var errs []string

	if strings.TrimSpace(c.Dataset.Root) == "" {
		errs = append(errs, "DATASET_ROOT is required")
	}
	if strings.TrimSpace(c.Dataset.ArchivePath) == "" {
		errs = append(errs, "ARCHIVE_PATH is required")
	} else if !strings.HasSuffix(strings.ToLower(c.Dataset.ArchivePath), ".zip") {
		errs = append(errs, fmt.Sprintf("ARCHIVE_PATH (%q) must point to a .zip archive", c.Dataset.ArchivePath))
	}

	validCompressions := map[string]bool{"zstd": true, "snappy": true, "gzip": true, "uncompressed": true}
	if !validCompressions[strings.ToLower(c.Warehouse.Compression)] {
		errs = append(errs, fmt.Sprintf("WAREHOUSE_COMPRESSION (%q) must be one of: zstd, snappy, gzip, uncompressed", c.Warehouse.Compression))
	}
	if c.Warehouse.Threads < 0 {
		errs = append(errs, "WAREHOUSE_THREADS must be non-negative")
	}
	if c.Warehouse.SampleSize <= 0 {
		errs = append(errs, "PROFILE_SAMPLE_SIZE must be positive")
	}

	switch strings.ToLower(c.History.Driver) {
	case "sqlite", "none":
	case "postgres":
		if c.History.DatabaseURL == "" {
			errs = append(errs, "DATABASE_URL is required when HISTORY_DRIVER is postgres")
		}
	default:
		errs = append(errs, fmt.Sprintf("HISTORY_DRIVER (%q) must be one of: sqlite, postgres, none", c.History.Driver))
	}

	if c.Run.MaxWait <= 0 {
		errs = append(errs, "RUN_MAX_WAIT must be positive")
	}
	if c.Run.Timeout <= 0 {
		errs = append(errs, "RUN_TIMEOUT must be positive")
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("SERVER_PORT (%d) must be 1-65535", c.Server.Port))
	}
	if c.Server.ReadTimeout < 0 {
		errs = append(errs, "SERVER_READ_TIMEOUT must be non-negative")
	}
	if c.Server.ShutdownTimeout <= 0 {
		errs = append(errs, "SERVER_SHUTDOWN_TIMEOUT must be positive")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		errs = append(errs, fmt.Sprintf("LOG_LEVEL (%q) must be one of: debug, info, warn, error", c.Logging.Level))
	}
	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[strings.ToLower(c.Logging.Format)] {
		errs = append(errs, fmt.Sprintf("LOG_FORMAT (%q) must be one of: text, json", c.Logging.Format))
	}

	if len(errs) > 0 {
		return fmt.Errorf("validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// String returns a loggable summary with the database URL masked.
func (c *Config) String() string {
	var b strings.Builder
	b.WriteString("Config{")
	fmt.Fprintf(&b, "Dataset: {Root: %q, Archive: %q}, ", c.Dataset.Root, c.Dataset.ArchivePath)
	fmt.Fprintf(&b, "Warehouse: {Enabled: %v, Compression: %q}, ", c.Warehouse.Enabled, c.Warehouse.Compression)
	dbURL := ""
	if c.History.DatabaseURL != "" {
		dbURL = "[MASKED]"
	}
	fmt.Fprintf(&b, "History: {Driver: %q, Path: %q, DatabaseURL: %q}, ", c.History.Driver, c.History.Path, dbURL)
	fmt.Fprintf(&b, "Server: {Addr: %q}, ", c.Server.Addr())
	fmt.Fprintf(&b, "Logging: {Level: %q, Format: %q}", c.Logging.Level, c.Logging.Format)
	b.WriteString("}")
	return b.String()
}
