package history

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

var _ Store = (*SQLiteStore)(nil)

// SQLiteStore persists entries in a SQLite database through the pure-Go
// modernc.org/sqlite driver.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the database at path, applies the
// connection pragmas and runs pending migrations.
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("history: sqlite: create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("history: sqlite: open: %w", err)
	}
	// One writer at a time; WAL lets readers proceed alongside.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA synchronous=NORMAL;",
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			db.Close()
			return nil, fmt.Errorf("history: sqlite: pragma %q: %w", p, err)
		}
	}
	if err := migrateSQLite(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

// migrateSQLite applies the embedded migrations in lexical order, each in its
// own transaction, and records them in schema_migrations.
func migrateSQLite(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			name       TEXT PRIMARY KEY,
			applied_at TEXT NOT NULL
		)`); err != nil {
		return fmt.Errorf("history: sqlite: create schema_migrations: %w", err)
	}

	names, err := fs.Glob(migrationsFS, "migrations/*.sql")
	if err != nil {
		return fmt.Errorf("history: sqlite: list migrations: %w", err)
	}
	sort.Strings(names)

	for _, name := range names {
		var n int
		if err := db.QueryRowContext(ctx, "SELECT COUNT(1) FROM schema_migrations WHERE name = ?", name).Scan(&n); err != nil {
			return fmt.Errorf("history: sqlite: check migration %s: %w", name, err)
		}
		if n > 0 {
			continue
		}
		body, err := migrationsFS.ReadFile(name)
		if err != nil {
			return fmt.Errorf("history: sqlite: read migration %s: %w", name, err)
		}
		if err := applyMigration(ctx, db, name, string(body)); err != nil {
			return err
		}
	}
	return nil
}

func applyMigration(ctx context.Context, db *sql.DB, name, body string) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("history: sqlite: begin migration %s: %w", name, err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, body); err != nil {
		return fmt.Errorf("history: sqlite: migration %s: %w", name, err)
	}
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO schema_migrations(name, applied_at) VALUES (?, ?)",
		name, time.Now().UTC().Format(time.RFC3339),
	); err != nil {
		return fmt.Errorf("history: sqlite: record migration %s: %w", name, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("history: sqlite: commit migration %s: %w", name, err)
	}
	return nil
}

// Record implements [Store].
func (s *SQLiteStore) Record(ctx context.Context, e Entry) error {
	const q = `
		INSERT OR IGNORE INTO plays
		    (id, path, title, format, started_at, ended_at, frames, outcome, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := s.db.ExecContext(ctx, q,
		e.ID, e.Path, e.Title, e.Format,
		e.StartedAt.UnixNano(), e.EndedAt.UnixNano(),
		e.Frames, e.Outcome, e.Error,
	)
	if err != nil {
		return fmt.Errorf("history: sqlite: record: %w", err)
	}
	return nil
}

// Recent implements [Store].
func (s *SQLiteStore) Recent(ctx context.Context, limit int) ([]Entry, error) {
	q := `
		SELECT id, path, title, format, started_at, ended_at, frames, outcome, error
		FROM   plays
		ORDER  BY started_at DESC, rowid DESC`
	var args []any
	if limit > 0 {
		q += "\nLIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("history: sqlite: recent: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e              Entry
			started, ended int64
		)
		if err := rows.Scan(&e.ID, &e.Path, &e.Title, &e.Format, &started, &ended, &e.Frames, &e.Outcome, &e.Error); err != nil {
			return nil, fmt.Errorf("history: sqlite: scan: %w", err)
		}
		e.StartedAt = time.Unix(0, started).UTC()
		e.EndedAt = time.Unix(0, ended).UTC()
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("history: sqlite: recent: %w", err)
	}
	return out, nil
}

// Ping implements [Store].
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close implements [Store].
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
