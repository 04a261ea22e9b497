package history

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const ddlPlays = `
CREATE TABLE IF NOT EXISTS plays (
    id          TEXT         PRIMARY KEY,
    path        TEXT         NOT NULL,
    title       TEXT         NOT NULL DEFAULT '',
    format      TEXT         NOT NULL DEFAULT '',
    started_at  TIMESTAMPTZ  NOT NULL,
    ended_at    TIMESTAMPTZ  NOT NULL,
    frames      BIGINT       NOT NULL DEFAULT 0,
    outcome     TEXT         NOT NULL,
    error       TEXT         NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_plays_started_at ON plays (started_at DESC);
CREATE INDEX IF NOT EXISTS idx_plays_path ON plays (path);
`

var _ Store = (*PostgresStore)(nil)

// PostgresStore persists entries in PostgreSQL through a [pgxpool.Pool].
type PostgresStore struct {
	pool *pgxpool.Pool
}

// OpenPostgres connects to dsn, verifies the connection and ensures the
// plays table exists.
func OpenPostgres(ctx context.Context, dsn string) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("history: postgres: parse dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("history: postgres: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("history: postgres: ping: %w", err)
	}
	if err := MigratePostgres(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &PostgresStore{pool: pool}, nil
}

// MigratePostgres creates the history schema. It is idempotent.
func MigratePostgres(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, ddlPlays); err != nil {
		return fmt.Errorf("history: postgres: migrate: %w", err)
	}
	return nil
}

// Record implements [Store].
func (s *PostgresStore) Record(ctx context.Context, e Entry) error {
	const q = `
		INSERT INTO plays
		    (id, path, title, format, started_at, ended_at, frames, outcome, error)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO NOTHING`

	_, err := s.pool.Exec(ctx, q,
		e.ID, e.Path, e.Title, e.Format,
		e.StartedAt, e.EndedAt,
		e.Frames, e.Outcome, e.Error,
	)
	if err != nil {
		return fmt.Errorf("history: postgres: record: %w", err)
	}
	return nil
}

// Recent implements [Store].
func (s *PostgresStore) Recent(ctx context.Context, limit int) ([]Entry, error) {
	q := `
		SELECT id, path, title, format, started_at, ended_at, frames, outcome, error
		FROM   plays
		ORDER  BY started_at DESC`
	var args []any
	if limit > 0 {
		q += "\nLIMIT $1"
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("history: postgres: recent: %w", err)
	}
	entries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Entry, error) {
		var e Entry
		err := row.Scan(&e.ID, &e.Path, &e.Title, &e.Format, &e.StartedAt, &e.EndedAt, &e.Frames, &e.Outcome, &e.Error)
		e.StartedAt = e.StartedAt.UTC()
		e.EndedAt = e.EndedAt.UTC()
		return e, err
	})
	if err != nil {
		return nil, fmt.Errorf("history: postgres: scan: %w", err)
	}
	return entries, nil
}

// Ping implements [Store].
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close implements [Store].
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
