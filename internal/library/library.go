// Package library discovers playable tracker modules on disk and finds them
// by approximate title.
//
// [Library.Refresh] walks the configured roots and probes candidate files
// with the decode engine concurrently. Results land in a [Catalog] searched
// with Double Metaphone candidate filtering and Jaro-Winkler ranking.
// [Library.Watch] keeps the catalog current with fsnotify.
package library

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/modplay/internal/config"
	"github.com/MrWong99/modplay/internal/observe"
	"github.com/MrWong99/modplay/pkg/engine"
)

// Library owns the scan configuration and the catalog it fills.
type Library struct {
	engine  engine.Library
	catalog *Catalog
	metrics *observe.Metrics
	log     *slog.Logger

	mu      sync.Mutex
	roots   []string
	exts    map[string]struct{}
	workers int
	watch   bool

	// scanMu serialises Refresh.
	scanMu sync.Mutex

	reconf chan struct{}
}

// Option configures a [Library].
type Option func(*Library)

// WithLogger sets the logger. Defaults to [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(lib *Library) { lib.log = l }
}

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(lib *Library) { lib.metrics = m }
}

// New creates a library probing files through lib. Nothing is scanned until
// [Library.Refresh] or [Library.Watch].
func New(lib engine.Library, cfg config.LibraryConfig, opts ...Option) *Library {
	l := &Library{
		engine:  lib,
		catalog: NewCatalog(),
		log:     slog.Default(),
		reconf:  make(chan struct{}, 1),
	}
	for _, o := range opts {
		o(l)
	}
	if l.metrics == nil {
		l.metrics = observe.DefaultMetrics()
	}
	l.apply(cfg)
	return l
}

func (l *Library) apply(cfg config.LibraryConfig) {
	exts := make(map[string]struct{}, len(cfg.Extensions))
	for _, e := range cfg.Extensions {
		exts[strings.ToLower(strings.TrimPrefix(e, "."))] = struct{}{}
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = config.DefaultWorkers
	}

	l.mu.Lock()
	l.roots = slices.Clone(cfg.Roots)
	l.exts = exts
	l.workers = workers
	l.watch = cfg.Watch
	l.mu.Unlock()
}

// Catalog returns the catalog filled by scans.
func (l *Library) Catalog() *Catalog { return l.catalog }

// Roots returns the configured roots.
func (l *Library) Roots() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return slices.Clone(l.roots)
}

// Reconfigure replaces the scan settings. A running [Library.Watch] picks
// up the new roots and rescans; otherwise the caller should Refresh.
func (l *Library) Reconfigure(cfg config.LibraryConfig) {
	l.apply(cfg)
	select {
	case l.reconf <- struct{}{}:
	default:
	}
}

// Refresh scans all roots and replaces the catalog. A missing root is
// logged and skipped; the scan fails only when ctx is done.
func (l *Library) Refresh(ctx context.Context) error {
	l.scanMu.Lock()
	defer l.scanMu.Unlock()

	l.mu.Lock()
	roots, exts, workers := slices.Clone(l.roots), l.exts, l.workers
	l.mu.Unlock()

	start := time.Now()
	entries, err := scan(ctx, l.engine, roots, exts, workers, l.log)
	if err != nil {
		return err
	}
	elapsed := time.Since(start)

	prev := l.catalog.Replace(entries)
	l.metrics.LibraryScanDuration.Record(ctx, elapsed.Seconds())
	l.metrics.LibraryEntries.Add(ctx, int64(len(entries)-prev))
	l.log.Info("library scanned", "roots", len(roots), "modules", len(entries), "elapsed", elapsed)
	return nil
}

// scan walks roots and probes every candidate with at most workers
// concurrent engine probes.
func scan(ctx context.Context, lib engine.Library, roots []string, exts map[string]struct{}, workers int, log *slog.Logger) ([]Entry, error) {
	var paths []string
	seen := make(map[string]struct{})
	for _, root := range roots {
		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				if path == root {
					return err
				}
				log.Warn("library: skipping unreadable path", "path", path, "err", err)
				if d != nil && d.IsDir() {
					return fs.SkipDir
				}
				return nil
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if d.IsDir() || !d.Type().IsRegular() || !matchesExt(path, exts) {
				return nil
			}
			abs, err := filepath.Abs(path)
			if err != nil {
				return nil
			}
			if _, dup := seen[abs]; !dup {
				seen[abs] = struct{}{}
				paths = append(paths, abs)
			}
			return nil
		})
		if ctx.Err() != nil {
			return nil, fmt.Errorf("library: scan: %w", ctx.Err())
		}
		if err != nil {
			log.Warn("library: skipping root", "root", root, "err", err)
		}
	}

	results := make([]*Entry, len(paths))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, path := range paths {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			info, err := engine.Test(lib, path)
			if err != nil {
				logProbeError(log, path, err)
				return nil
			}
			results[i] = &Entry{Path: path, Title: strings.TrimSpace(info.Name), Format: info.Type}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("library: scan: %w", err)
	}

	entries := make([]Entry, 0, len(results))
	for _, e := range results {
		if e != nil {
			entries = append(entries, *e)
		}
	}
	return entries, nil
}

func matchesExt(path string, exts map[string]struct{}) bool {
	if len(exts) == 0 {
		return true
	}
	base := strings.ToLower(filepath.Base(path))
	if _, ok := exts[strings.TrimPrefix(filepath.Ext(base), ".")]; ok {
		return true
	}
	// Amiga-style prefixes: "mod.song", "xm.song".
	if prefix, _, ok := strings.Cut(base, "."); ok {
		_, ok = exts[prefix]
		return ok
	}
	return false
}

func logProbeError(log *slog.Logger, path string, err error) {
	if kind, ok := engine.LoadErrorKindOf(err); ok && kind == engine.UnsupportedFormat {
		log.Debug("library: not a module", "path", path)
		return
	}
	var le *engine.LoadError
	if errors.As(err, &le) {
		log.Warn("library: probe failed", "path", path, "err", err)
		return
	}
	log.Error("library: probe failed", "path", path, "err", err)
}
