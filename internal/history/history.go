// Package history records finished playback sessions.
//
// A [Store] persists [Entry] values; three drivers are provided: an in-memory
// ring ([NewMemoryStore]), SQLite ([OpenSQLite]) and PostgreSQL
// ([OpenPostgres]). A [Recorder] turns [playback.SessionResult]s into entries
// on a background goroutine so that a slow or unavailable database never
// stalls the playback pump.
package history

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrWong99/modplay/internal/config"
	"github.com/MrWong99/modplay/internal/playback"
)

// ErrClosed is returned by stores after Close.
var ErrClosed = errors.New("history: store closed")

// Entry is one played session.
type Entry struct {
	ID        string    `json:"id"`
	Path      string    `json:"path"`
	Title     string    `json:"title"`
	Format    string    `json:"format"`
	StartedAt time.Time `json:"started_at"`
	EndedAt   time.Time `json:"ended_at"`
	Frames    int64     `json:"frames"`
	Outcome   string    `json:"outcome"`
	Error     string    `json:"error,omitempty"`
}

// Duration is the wall-clock length of the session.
func (e Entry) Duration() time.Duration { return e.EndedAt.Sub(e.StartedAt) }

// FromResult converts a session result into an entry.
func FromResult(r playback.SessionResult) Entry {
	e := Entry{
		ID:        r.ID,
		Path:      r.Path,
		Title:     r.Module.Name,
		Format:    r.Module.Type,
		StartedAt: r.StartedAt.UTC(),
		EndedAt:   r.EndedAt.UTC(),
		Frames:    r.Frames,
		Outcome:   string(r.Outcome),
	}
	if r.Err != nil {
		e.Error = r.Err.Error()
	}
	return e
}

// Store persists history entries. Implementations are safe for concurrent
// use.
type Store interface {
	// Record appends e. Recording an ID twice keeps the first entry.
	Record(ctx context.Context, e Entry) error

	// Recent returns at most limit entries, newest first. limit <= 0
	// returns everything.
	Recent(ctx context.Context, limit int) ([]Entry, error)

	// Ping verifies the backing connection.
	Ping(ctx context.Context) error

	// Close releases the store.
	Close() error
}

// Open creates the store selected by cfg.Driver.
func Open(ctx context.Context, cfg config.HistoryConfig) (Store, error) {
	switch cfg.Driver {
	case config.HistoryMemory, "":
		return NewMemoryStore(cfg.Limit), nil
	case config.HistorySQLite:
		return OpenSQLite(ctx, cfg.SQLitePath)
	case config.HistoryPostgres:
		return OpenPostgres(ctx, cfg.PostgresDSN)
	default:
		return nil, fmt.Errorf("history: unknown driver %q", cfg.Driver)
	}
}
