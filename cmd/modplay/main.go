// Command modplay plays tracker modules in real time. It runs an interactive
// console, an optional remote-control API and can render a module to a WAV
// file.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/chzyer/readline"

	"github.com/MrWong99/modplay/internal/app"
	"github.com/MrWong99/modplay/internal/config"
	"github.com/MrWong99/modplay/internal/observe"
	"github.com/MrWong99/modplay/pkg/engine/libxmp"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	renderPath := flag.String("render", "", "render the module to this WAV file and exit")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: modplay [-config file] [-render out.wav] [file|query ...]\n")
		flag.PrintDefaults()
	}
	flag.Parse()
	targets := flag.Args()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := loadConfig(*configPath, flagSet("config"))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "modplay: config file %q not found\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "modplay: %v\n", err)
		}
		return 1
	}

	render := *renderPath != ""
	if render {
		if len(targets) == 0 {
			fmt.Fprintln(os.Stderr, "modplay: -render needs a module to render")
			return 2
		}
		renderConfig(cfg, *renderPath)
	}

	// ── Console + logger ──────────────────────────────────────────────────────
	interactive := !render && readline.DefaultIsTerminal()
	var rl *readline.Instance
	logOut := io.Writer(os.Stderr)
	if interactive {
		rl, err = readline.NewEx(&readline.Config{
			Prompt:          "modplay> ",
			InterruptPrompt: "^C",
			EOFPrompt:       "quit",
			HistoryLimit:    500,
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "modplay: console: %v\n", err)
			return 1
		}
		defer rl.Close()
		logOut = rl.Stderr()
	}

	levelVar := new(slog.LevelVar)
	levelVar.Set(cfg.Server.LogLevel.SlogLevel())
	logger := newLogger(logOut, levelVar)
	slog.SetDefault(logger)

	slog.Info("modplay starting",
		"version", version,
		"libxmp", libxmp.Version(),
		"config", *configPath,
		"output", cfg.Audio.Output,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	telemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "modplay",
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := telemetry.Shutdown(sctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Application ───────────────────────────────────────────────────────────
	application, err := app.New(ctx, cfg,
		app.WithLogger(logger),
		app.WithLogLevel(levelVar),
		app.WithScrapeHandler(telemetry.ScrapeHandler()),
	)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := application.Shutdown(sctx); err != nil {
			slog.Error("shutdown error", "err", err)
		}
	}()

	if render {
		return renderTargets(ctx, application, targets, *renderPath)
	}

	// ── Config hot reload ─────────────────────────────────────────────────────
	if flagSet("config") || fileExists(*configPath) {
		watcher, err := config.NewWatcher(*configPath, application.ApplyConfig,
			config.WithWatcherLogger(logger))
		if err != nil {
			slog.Warn("config hot reload disabled", "err", err)
		} else {
			defer watcher.Stop()
		}
	}

	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()
	runErr := make(chan error, 1)
	go func() { runErr <- application.Run(runCtx) }()

	if len(targets) > 0 {
		if err := startTargets(ctx, application, targets); err != nil {
			slog.Error("failed to start playback", "targets", targets, "err", err)
		}
	}

	if interactive {
		c := newConsole(application, rl.Stdout())
		go func() {
			<-runCtx.Done()
			_ = rl.Close()
		}()
		c.loop(runCtx, rl)
		cancelRun()
	} else {
		slog.Info("running headless, press Ctrl+C to shut down")
	}

	if err := <-runErr; err != nil {
		slog.Error("run error", "err", err)
		return 1
	}
	slog.Info("stopping")
	return 0
}

// loadConfig loads the file at path. A missing default config file yields
// the built-in defaults; a missing file that was named explicitly is an
// error.
func loadConfig(path string, explicit bool) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err == nil || explicit || !errors.Is(err, os.ErrNotExist) {
		return cfg, err
	}
	return config.LoadFromReader(strings.NewReader(""))
}

// renderConfig switches cfg to an offline render into path.
func renderConfig(cfg *config.Config, path string) {
	cfg.Audio.Output = "wav"
	cfg.Audio.WAVPath = path
	cfg.Engine.Loop = false
	cfg.Server.ListenAddr = ""
	cfg.Library.Watch = false
}

// renderTargets plays the first target into the WAV output and waits for it
// to finish.
func renderTargets(ctx context.Context, a *app.App, targets []string, path string) int {
	if err := startTargets(ctx, a, targets[:1]); err != nil {
		slog.Error("failed to render", "target", targets[0], "err", err)
		return 1
	}
	if err := a.Controller().Wait(ctx); err != nil {
		slog.Warn("render interrupted", "err", err)
		return 1
	}
	res, _ := a.Controller().LastResult()
	if res.Err != nil {
		slog.Error("render failed", "err", res.Err)
		return 1
	}
	slog.Info("render complete", "path", path, "frames", res.Frames, "duration", res.Duration())
	return 0
}

// startTargets plays the first target and queues the rest. Library queries
// need a catalog, so the library is scanned first when a target is not a
// file.
func startTargets(ctx context.Context, a *app.App, targets []string) error {
	for _, t := range targets {
		if !fileExists(t) && len(a.Library().Roots()) > 0 {
			if err := a.Library().Refresh(ctx); err != nil {
				return err
			}
			break
		}
	}
	info, err := a.Sessions().Start(ctx, targets[0])
	if err != nil {
		return err
	}
	a.Sessions().Enqueue(targets[1:]...)
	slog.Info("playing", "path", info.Path, "queued", len(targets)-1)
	return nil
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(w io.Writer, level *slog.LevelVar) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// ── Helpers ───────────────────────────────────────────────────────────────────

// flagSet reports whether the named flag was given on the command line.
func flagSet(name string) bool {
	found := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == name {
			found = true
		}
	})
	return found
}

func fileExists(path string) bool {
	fi, err := os.Stat(path)
	return err == nil && !fi.IsDir()
}
