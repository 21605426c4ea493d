// Package history records staging runs so operators can see what each run
// produced and why a run failed.
package history

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Run status values.
const (
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

// Supported drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverNone     = "none"
)

// DefaultListLimit bounds List when the caller passes a non-positive limit.
const DefaultListLimit = 50

// Run is one recorded staging run.
type Run struct {
	ID         uuid.UUID `json:"id"`
	Archive    string    `json:"archive"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Status     string    `json:"status"`
	Tables     int       `json:"tables"`
	Error      string    `json:"error,omitempty"`
	Code       string    `json:"code,omitempty"`
}

// Duration returns how long the run took.
func (r Run) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// Store persists runs.
type Store interface {
	Record(ctx context.Context, run Run) error
	List(ctx context.Context, limit int) ([]Run, error)
	Close() error
}

// Config selects and configures a Store.
type Config struct {
	Driver string
	// Path is the SQLite database file.
	Path string
	// URL is the PostgreSQL connection string.
	URL string
}

// Open returns the Store selected by cfg.Driver.
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch strings.ToLower(cfg.Driver) {
	case DriverSQLite, "":
		s, err := OpenSQLite(cfg.Path)
		if err != nil {
			return nil, err
		}
		return s, nil
	case DriverPostgres:
		s, err := OpenPostgres(ctx, cfg.URL)
		if err != nil {
			return nil, err
		}
		return s, nil
	case DriverNone:
		return NopStore{}, nil
	default:
		return nil, fmt.Errorf("unknown history driver %q", cfg.Driver)
	}
}

// NopStore discards runs.
type NopStore struct{}

// Record implements Store.
func (NopStore) Record(context.Context, Run) error { return nil }

// List implements Store.
func (NopStore) List(context.Context, int) ([]Run, error) { return nil, nil }

// Close implements Store.
func (NopStore) Close() error { return nil }

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return DefaultListLimit
	}
	return limit
}
