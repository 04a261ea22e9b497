package library

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is how long Watch waits for filesystem events to settle
// before rescanning.
const DefaultDebounce = 500 * time.Millisecond

// Watch scans the roots, then rescans whenever files below them change or
// [Library.Reconfigure] is called, until ctx is done. With watching
// disabled in the config it only performs the initial scan and waits for
// reconfiguration. Watch returns nil when ctx is cancelled.
func (l *Library) Watch(ctx context.Context, debounce time.Duration) error {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("library: create watcher: %w", err)
	}
	defer w.Close()

	resync := func() error {
		for _, p := range w.WatchList() {
			_ = w.Remove(p)
		}
		l.mu.Lock()
		roots, watch := slices.Clone(l.roots), l.watch
		l.mu.Unlock()
		if watch {
			for _, root := range roots {
				l.addTree(w, root)
			}
		}
		if err := l.Refresh(ctx); err != nil && ctx.Err() == nil {
			return err
		}
		return nil
	}
	if err := resync(); err != nil {
		return err
	}

	timer := time.NewTimer(debounce)
	timer.Stop()
	pending := false

	for {
		select {
		case <-ctx.Done():
			return nil

		case <-l.reconf:
			timer.Stop()
			pending = false
			if err := resync(); err != nil {
				return err
			}

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if ev.Has(fsnotify.Create) {
				if fi, err := os.Stat(ev.Name); err == nil && fi.IsDir() {
					l.addTree(w, ev.Name)
				}
			}
			if ev.Has(fsnotify.Chmod) && !ev.Has(fsnotify.Write) {
				continue
			}
			l.log.Debug("library: change detected", "path", ev.Name, "op", ev.Op.String())
			if !pending {
				pending = true
				timer.Reset(debounce)
			}

		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			if errors.Is(err, fsnotify.ErrEventOverflow) {
				l.log.Warn("library: watcher overflow, rescanning")
				pending = true
				timer.Reset(debounce)
				continue
			}
			l.log.Warn("library: watcher error", "err", err)

		case <-timer.C:
			pending = false
			if err := l.Refresh(ctx); err != nil && ctx.Err() == nil {
				l.log.Warn("library: rescan failed", "err", err)
			}
		}
	}
}

// addTree watches root and every directory below it.
func (l *Library) addTree(w *fsnotify.Watcher, root string) {
	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				l.log.Warn("library: cannot watch root", "root", root, "err", err)
			}
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if err := w.Add(path); err != nil {
			l.log.Warn("library: cannot watch directory", "path", path, "err", err)
		}
		return nil
	})
}
