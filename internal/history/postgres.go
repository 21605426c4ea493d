package history

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS stage_runs (
	id          UUID PRIMARY KEY,
	archive     TEXT NOT NULL,
	started_at  TIMESTAMPTZ NOT NULL,
	finished_at TIMESTAMPTZ NOT NULL,
	status      TEXT NOT NULL,
	tables      INTEGER NOT NULL DEFAULT 0,
	error       TEXT NOT NULL DEFAULT '',
	code        TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS stage_runs_started_at ON stage_runs (started_at DESC);
`

// PostgresStore keeps run history in PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// OpenPostgres connects to url and makes sure the history table exists.
func OpenPostgres(ctx context.Context, url string) (*PostgresStore, error) {
	if strings.TrimSpace(url) == "" {
		return nil, fmt.Errorf("DATABASE_URL is required for the postgres history driver")
	}

	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	cfg.MaxConns = 4

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("create history schema: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

// Record implements Store.
func (s *PostgresStore) Record(ctx context.Context, run Run) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO stage_runs (id, archive, started_at, finished_at, status, tables, error, code)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		run.ID, run.Archive, run.StartedAt, run.FinishedAt, run.Status, run.Tables, run.Error, run.Code,
	)
	if err != nil {
		return fmt.Errorf("record run %s: %w", run.ID, err)
	}
	return nil
}

// List implements Store, newest first.
func (s *PostgresStore) List(ctx context.Context, limit int) ([]Run, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, archive, started_at, finished_at, status, tables, error, code
		FROM stage_runs
		ORDER BY started_at DESC
		LIMIT $1`, normalizeLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}

	runs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Run, error) {
		var run Run
		err := row.Scan(&run.ID, &run.Archive, &run.StartedAt, &run.FinishedAt,
			&run.Status, &run.Tables, &run.Error, &run.Code)
		return run, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan runs: %w", err)
	}
	return runs, nil
}

// Close implements Store.
func (s *PostgresStore) Close() error {
	if s != nil && s.pool != nil {
		s.pool.Close()
	}
	return nil
}
