// Package app wires all modplay subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves the remote API and keeps the module library current,
// and Shutdown tears everything down in order.
//
// For testing, inject mock implementations via functional options
// (WithEngineLibrary, WithDevice, WithHistoryStore, etc.). When an option is
// not provided, New creates real implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/modplay/internal/config"
	"github.com/MrWong99/modplay/internal/health"
	"github.com/MrWong99/modplay/internal/history"
	"github.com/MrWong99/modplay/internal/library"
	"github.com/MrWong99/modplay/internal/observe"
	"github.com/MrWong99/modplay/internal/playback"
	"github.com/MrWong99/modplay/internal/remote"
	"github.com/MrWong99/modplay/internal/resilience"
	"github.com/MrWong99/modplay/pkg/audio"
	"github.com/MrWong99/modplay/pkg/engine"
)

// App owns all subsystem lifetimes.
type App struct {
	cfg *config.Config
	reg *config.Registry
	log *slog.Logger

	// Injected or created in New.
	engineLib engine.Library
	device    audio.Device
	store     history.Store
	metrics   *observe.Metrics
	levelVar  *slog.LevelVar
	scrape    http.Handler
	onEnd     playback.SessionEndFunc

	// Subsystems, initialised in New and torn down in Shutdown.
	ctrl     *playback.Controller
	recorder *history.Recorder
	library  *library.Library
	sessions *SessionManager
	health   *health.Handler
	server   *remote.Server

	// closers are called in order during Shutdown.
	closers []func(context.Context) error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithEngineLibrary injects the decoder library instead of creating the
// configured backend through the registry.
func WithEngineLibrary(lib engine.Library) Option {
	return func(a *App) { a.engineLib = lib }
}

// WithDevice injects an audio device instead of creating the configured
// output through the registry.
func WithDevice(d audio.Device) Option {
	return func(a *App) { a.device = d }
}

// WithHistoryStore injects a history store instead of opening the configured
// driver. The App closes it on Shutdown.
func WithHistoryStore(s history.Store) Option {
	return func(a *App) { a.store = s }
}

// WithRegistry sets the registry used to create outputs and backends.
// Defaults to [DefaultRegistry].
func WithRegistry(r *config.Registry) Option {
	return func(a *App) { a.reg = r }
}

// WithMetrics sets the metrics instruments. Defaults to
// [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithLogger sets the logger. Defaults to [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(a *App) { a.log = l }
}

// WithLogLevel hands the App the level variable of the process logger so
// that config reloads can change verbosity.
func WithLogLevel(lv *slog.LevelVar) Option {
	return func(a *App) { a.levelVar = lv }
}

// WithScrapeHandler mounts h on GET /metrics of the remote API.
func WithScrapeHandler(h http.Handler) Option {
	return func(a *App) { a.scrape = h }
}

// WithSessionEndHandler registers fn to be called after every session, in
// addition to the history recorder.
func WithSessionEndHandler(fn playback.SessionEndFunc) Option {
	return func(a *App) { a.onEnd = fn }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. Use Option functions
// to inject test doubles for any subsystem.
//
// New performs all initialisation synchronously: backend and output creation,
// history store connection and migration, controller construction and remote
// API assembly. On error everything created so far is released.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (_ *App, err error) {
	a := &App{cfg: cfg}
	for _, o := range opts {
		o(a)
	}
	if a.reg == nil {
		a.reg = DefaultRegistry()
	}
	if a.log == nil {
		a.log = slog.Default()
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	defer func() {
		if err != nil {
			a.closeAll(context.WithoutCancel(ctx))
		}
	}()

	// ── 1. History ───────────────────────────────────────────────────────
	if err := a.initHistory(ctx); err != nil {
		return nil, fmt.Errorf("app: init history: %w", err)
	}

	// ── 2. Engine + output + controller ──────────────────────────────────
	if err := a.initPlayback(); err != nil {
		return nil, fmt.Errorf("app: init playback: %w", err)
	}

	// ── 3. Module library ────────────────────────────────────────────────
	a.library = library.New(a.engineLib, cfg.Library,
		library.WithLogger(a.log),
		library.WithMetrics(a.metrics),
	)

	// ── 4. Sessions ──────────────────────────────────────────────────────
	a.sessions = NewSessionManager(a.ctrl, a.library.Catalog, a.log)

	// ── 5. Health + remote API ───────────────────────────────────────────
	a.health = health.New(
		health.ErrChecker("playback", a.ctrl.Err),
		health.PingChecker("history", a.store),
	)
	if cfg.Server.ListenAddr != "" {
		a.server = remote.New(a.ctrl,
			remote.WithSessions(a.sessions),
			remote.WithHistory(a.store),
			remote.WithCatalog(func() remote.Catalog { return a.library.Catalog() }),
			remote.WithHealth(a.health),
			remote.WithScrapeHandler(a.scrape),
			remote.WithMetrics(a.metrics),
			remote.WithLogger(a.log),
			remote.WithStatusInterval(cfg.Server.StatusInterval),
		)
	}

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initHistory opens the configured store unless one was injected, and starts
// the recorder that persists session results.
func (a *App) initHistory(ctx context.Context) error {
	if a.store == nil {
		s, err := history.Open(ctx, a.cfg.History)
		if err != nil {
			return err
		}
		a.store = s
	}
	store := a.store
	a.closers = append(a.closers, func(context.Context) error { return store.Close() })

	driver := string(a.cfg.History.Driver)
	a.recorder = history.NewRecorder(a.store,
		history.WithRecorderLogger(a.log),
		history.WithRecorderMetrics(a.metrics),
		history.WithDriverName(driver),
		history.WithBreaker(resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
			Name:   "history/" + driver,
			Logger: a.log,
		})),
	)
	// The recorder drains before the store closes; closers run in reverse.
	a.closers = append(a.closers, a.recorder.Close)
	return nil
}

// initPlayback creates the decode engine, opens the output and builds the
// controller.
func (a *App) initPlayback() error {
	mode, format, err := OutputFormat(a.cfg.Audio, a.cfg.Engine)
	if err != nil {
		return err
	}

	if a.engineLib == nil {
		lib, err := a.reg.CreateBackend(a.cfg.Engine)
		if err != nil {
			return fmt.Errorf("create backend %q: %w", a.cfg.Engine.Backend, err)
		}
		a.engineLib = lib
	}
	if a.device == nil {
		dev, err := a.reg.CreateOutput(a.cfg.Audio)
		if err != nil {
			return fmt.Errorf("create output %q: %w", a.cfg.Audio.Output, err)
		}
		a.device = dev
	}

	player, err := engine.New(a.engineLib, engine.WithLogger(a.log))
	if err != nil {
		return err
	}
	out, bufSize, err := audio.Open(a.device, format)
	if err != nil {
		_ = player.Close()
		return err
	}
	a.log.Info("audio output opened", "output", a.cfg.Audio.Output, "format", format.String(), "buffer_bytes", bufSize)

	ctrl, err := playback.New(player, out,
		playback.WithLogger(a.log),
		playback.WithMetrics(a.metrics),
		playback.WithSampleRate(format.SampleRate),
		playback.WithMode(mode),
		playback.WithInterpolation(Interpolation(a.cfg.Engine.Interpolation)),
		playback.WithLoop(a.cfg.Engine.Loop),
		playback.WithVolume(a.cfg.Engine.VolumeOrDefault()),
		playback.WithSessionEndHandler(a.sessionEnded),
	)
	if err != nil {
		_ = player.Close()
		_ = out.Close()
		return err
	}
	a.ctrl = ctrl
	a.closers = append(a.closers, ctrl.Close)
	return nil
}

// sessionEnded fans a finished session out to the recorder and the
// registered handler.
func (a *App) sessionEnded(res playback.SessionResult) {
	a.recorder.HandleSessionEnd(res)
	if a.sessions != nil {
		a.sessions.finished(res)
	}
	if a.onEnd != nil {
		a.onEnd(res)
	}
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// Controller returns the playback controller.
func (a *App) Controller() *playback.Controller { return a.ctrl }

// Library returns the module library.
func (a *App) Library() *library.Library { return a.library }

// Sessions returns the session manager used to start playback by path or
// query.
func (a *App) Sessions() *SessionManager { return a.sessions }

// History returns the history store.
func (a *App) History() history.Store { return a.store }

// Recorder returns the history recorder.
func (a *App) Recorder() *history.Recorder { return a.recorder }

// Handler returns the remote API handler, or nil when server.listen_addr is
// not configured.
func (a *App) Handler() http.Handler {
	if a.server == nil {
		return nil
	}
	return a.server.Handler()
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves the remote API (when configured) and keeps the module library
// current until ctx is cancelled. It returns the first error of any
// subsystem; a cancelled ctx is not an error.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	if a.server != nil {
		addr := a.cfg.Server.ListenAddr
		g.Go(func() error {
			a.log.Info("remote API listening", "addr", addr)
			return a.server.ListenAndServe(gctx, addr)
		})
	}
	g.Go(func() error {
		return a.library.Watch(gctx, library.DefaultDebounce)
	})

	err := g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("app: run: %w", err)
	}
	return nil
}

// ApplyConfig applies the hot-reloadable part of a changed configuration to
// the running App. It is shaped to be passed to [config.NewWatcher].
func (a *App) ApplyConfig(_, next *config.Config, d config.ConfigDiff) {
	if d.LogLevelChanged && a.levelVar != nil {
		a.levelVar.Set(d.NewLogLevel.SlogLevel())
		a.log.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.VolumeChanged {
		if err := a.ctrl.SetVolume(d.NewVolume); err != nil {
			a.log.Warn("failed to apply volume", "volume", d.NewVolume, "err", err)
		}
	}
	if d.LoopChanged {
		a.ctrl.SetLoop(d.NewLoop)
	}
	if d.LibraryChanged {
		a.library.Reconfigure(next.Library)
		a.log.Info("library reconfigured", "roots", next.Library.Roots, "watch", next.Library.Watch)
	}
	if d.RestartRequired {
		a.log.Warn("configuration changed in fields that need a restart to take effect")
	}
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown tears down all subsystems in reverse-init order: the controller
// stops and releases the engine, then the recorder drains, then the history
// store closes. It respects the context deadline: if ctx expires before all
// closers finish, remaining closers are skipped and the context error is
// returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		a.log.Info("shutting down", "closers", len(a.closers))
		shutdownErr = a.closeAll(ctx)
	})
	return shutdownErr
}

func (a *App) closeAll(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		select {
		case <-ctx.Done():
			a.log.Warn("shutdown deadline exceeded", "remaining", i+1)
			return errors.Join(append(errs, ctx.Err())...)
		default:
		}
		if err := a.closers[i](ctx); err != nil {
			a.log.Warn("closer error", "index", i, "err", err)
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
