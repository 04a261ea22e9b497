// Package remote exposes a [playback.Controller] over HTTP.
//
// JSON endpoints under /api drive the player; /api/ws streams status
// snapshots over a WebSocket. The handler also mounts the health probes and
// the Prometheus scrape endpoint when configured.
package remote

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/MrWong99/modplay/internal/health"
	"github.com/MrWong99/modplay/internal/history"
	"github.com/MrWong99/modplay/internal/library"
	"github.com/MrWong99/modplay/internal/observe"
	"github.com/MrWong99/modplay/internal/playback"
	"github.com/MrWong99/modplay/pkg/engine"
)

// DefaultStatusInterval is the WebSocket push rate.
const DefaultStatusInterval = 250 * time.Millisecond

// Player is the part of [playback.Controller] the API drives.
type Player interface {
	Play(ctx context.Context, path string) error
	Stop()
	Pause() (bool, error)
	Reset() error
	Seek(t time.Duration) (int, error)
	SetPosition(n int) (int, error)
	NextPosition() (int, error)
	PrevPosition() (int, error)
	Restart() error
	ChannelMute(ch int, state engine.MuteState) (bool, error)
	SetVolume(v int) error
	SetLoop(loop bool)
	Status() playback.Status
	Formats() []string
}

var _ Player = (*playback.Controller)(nil)

// History lists past sessions.
type History interface {
	Recent(ctx context.Context, limit int) ([]history.Entry, error)
}

// Catalog finds modules by name.
type Catalog interface {
	Find(q string, limit int) []library.Match
	Best(q string) (library.Match, bool)
	All() []library.Entry
}

// Sessions owns the play queue. When set, POST /api/stop goes through it so
// the queue is dropped together with the running session.
type Sessions interface {
	Stop(ctx context.Context) error
}

// Server serves the remote-control API.
type Server struct {
	player   Player
	sessions Sessions
	history  History
	catalog  func() Catalog
	health   *health.Handler
	scrape   http.Handler
	metrics  *observe.Metrics
	log      *slog.Logger
	interval time.Duration
}

// Option configures a [Server].
type Option func(*Server)

// WithSessions routes POST /api/stop through sm.
func WithSessions(sm Sessions) Option {
	return func(s *Server) { s.sessions = sm }
}

// WithHistory enables GET /api/history.
func WithHistory(h History) Option {
	return func(s *Server) { s.history = h }
}

// WithCatalog enables library search and play-by-query. fn is called per
// request so the catalog can be swapped at runtime.
func WithCatalog(fn func() Catalog) Option {
	return func(s *Server) { s.catalog = fn }
}

// WithHealth mounts /healthz and /readyz.
func WithHealth(h *health.Handler) Option {
	return func(s *Server) { s.health = h }
}

// WithScrapeHandler mounts h at GET /metrics.
func WithScrapeHandler(h http.Handler) Option {
	return func(s *Server) { s.scrape = h }
}

// WithMetrics sets the metrics used by the request middleware.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithLogger sets the logger. Defaults to [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.log = l }
}

// WithStatusInterval sets the WebSocket push rate.
func WithStatusInterval(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.interval = d
		}
	}
}

// New creates a server for player.
func New(player Player, opts ...Option) *Server {
	s := &Server{
		player:   player,
		log:      slog.Default(),
		interval: DefaultStatusInterval,
	}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	return s
}

// Handler returns the routed, instrumented HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("POST /api/play", s.handlePlay)
	mux.HandleFunc("POST /api/stop", s.handleStop)
	mux.HandleFunc("POST /api/pause", s.handlePause)
	mux.HandleFunc("POST /api/reset", s.handleReset)
	mux.HandleFunc("POST /api/seek", s.handleSeek)
	mux.HandleFunc("POST /api/position", s.handlePosition)
	mux.HandleFunc("POST /api/restart", s.handleRestart)
	mux.HandleFunc("POST /api/volume", s.handleVolume)
	mux.HandleFunc("POST /api/loop", s.handleLoop)
	mux.HandleFunc("POST /api/channels/{ch}/mute", s.handleMute)
	mux.HandleFunc("GET /api/formats", s.handleFormats)
	mux.HandleFunc("GET /api/history", s.handleHistory)
	mux.HandleFunc("GET /api/library", s.handleLibrary)
	mux.HandleFunc("GET /api/ws", s.handleWS)

	if s.health != nil {
		s.health.Register(mux)
	}
	if s.scrape != nil {
		mux.Handle("GET /metrics", s.scrape)
	}
	// Status is polled by clients without websocket support.
	return observe.Middleware(s.metrics,
		observe.WithRequestLogger(s.log),
		observe.WithQuietPaths("/api/status"),
	)(mux)
}

// ListenAndServe serves on addr until ctx is done, then shuts down
// gracefully within five seconds.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("remote: listen %q: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is like [Server.ListenAndServe] on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()
	s.log.Info("remote API listening", "addr", ln.Addr().String())

	select {
	case err := <-errCh:
		return fmt.Errorf("remote: serve: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("remote: shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("remote: serve: %w", err)
	}
	return nil
}
