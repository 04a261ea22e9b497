package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/MrWong99/modplay/internal/config"
)

const (
	baseYAML = `
server:
  log_level: info
engine:
  volume: 100
library:
  roots: [/mods]
`
	quieterYAML = `
server:
  log_level: debug
engine:
  volume: 80
library:
  roots: [/mods]
`
	brokenYAML = `
server:
  log_level: bananas
`
)

type reload struct {
	old, new *config.Config
	diff     config.ConfigDiff
}

// watch writes content to a fresh config.yaml and starts a watcher on it
// that reports every change on the returned channel.
func watch(t *testing.T, content string, opts ...config.WatcherOption) (string, *config.Watcher, <-chan reload) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, path, content)

	changes := make(chan reload, 8)
	opts = append([]config.WatcherOption{config.WithDebounce(20 * time.Millisecond)}, opts...)
	w, err := config.NewWatcher(path, func(old, new *config.Config, d config.ConfigDiff) {
		changes <- reload{old, new, d}
	}, opts...)
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	t.Cleanup(w.Stop)
	return path, w, changes
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %q: %v", path, err)
	}
}

func expectReload(t *testing.T, changes <-chan reload) reload {
	t.Helper()
	select {
	case r := <-changes:
		return r
	case <-time.After(3 * time.Second):
		t.Fatal("no reload within 3s")
		return reload{}
	}
}

func expectQuiet(t *testing.T, changes <-chan reload) {
	t.Helper()
	select {
	case r := <-changes:
		t.Errorf("unexpected reload: %+v", r.diff)
	case <-time.After(300 * time.Millisecond):
	}
}

func TestWatcher_InitialLoad(t *testing.T) {
	t.Parallel()

	_, w, _ := watch(t, baseYAML)
	if got := w.Current().Server.LogLevel; got != config.LogInfo {
		t.Errorf("log_level = %q, want info", got)
	}

	if _, err := config.NewWatcher(filepath.Join(t.TempDir(), "absent.yaml"), nil); err == nil {
		t.Error("NewWatcher on a missing file should fail")
	}
}

func TestWatcher_Write(t *testing.T) {
	t.Parallel()

	path, w, changes := watch(t, baseYAML)
	writeFile(t, path, quieterYAML)

	r := expectReload(t, changes)
	if r.old.Server.LogLevel != config.LogInfo || r.new.Server.LogLevel != config.LogDebug {
		t.Errorf("reload old=%q new=%q", r.old.Server.LogLevel, r.new.Server.LogLevel)
	}
	if !r.diff.LogLevelChanged || !r.diff.VolumeChanged || r.diff.NewVolume != 80 {
		t.Errorf("diff = %+v", r.diff)
	}
	if w.Current() != r.new {
		t.Error("Current should return the reloaded config")
	}
}

func TestWatcher_RenameOverFile(t *testing.T) {
	t.Parallel()

	path, w, changes := watch(t, baseYAML)
	tmp := filepath.Join(filepath.Dir(path), ".config.yaml.swp")
	writeFile(t, tmp, quieterYAML)
	if err := os.Rename(tmp, path); err != nil {
		t.Fatal(err)
	}

	expectReload(t, changes)
	if got := w.Current().Engine.VolumeOrDefault(); got != 80 {
		t.Errorf("volume after rename = %d, want 80", got)
	}
}

func TestWatcher_IgnoresNoise(t *testing.T) {
	t.Parallel()

	path, w, changes := watch(t, baseYAML)

	// Same content, a chmod and a sibling file are not changes.
	writeFile(t, path, baseYAML)
	if err := os.Chmod(path, 0o600); err != nil {
		t.Fatal(err)
	}
	writeFile(t, filepath.Join(filepath.Dir(path), "other.yaml"), quieterYAML)
	expectQuiet(t, changes)

	// A broken file keeps the last valid config.
	writeFile(t, path, brokenYAML)
	expectQuiet(t, changes)
	if got := w.Current().Server.LogLevel; got != config.LogInfo {
		t.Errorf("log_level after broken write = %q, want info", got)
	}

	// Fixing it reloads again.
	writeFile(t, path, quieterYAML)
	expectReload(t, changes)
}

func TestWatcher_Reload(t *testing.T) {
	t.Parallel()

	// An hour of debounce keeps the event loop out of the way.
	path, w, _ := watch(t, baseYAML, config.WithDebounce(time.Hour))

	if changed, err := w.Reload(); err != nil || changed {
		t.Fatalf("Reload of unchanged file = %v, %v", changed, err)
	}

	writeFile(t, path, quieterYAML)
	if changed, err := w.Reload(); err != nil || !changed {
		t.Fatalf("Reload after edit = %v, %v", changed, err)
	}

	writeFile(t, path, brokenYAML)
	if _, err := w.Reload(); err == nil {
		t.Error("Reload of a broken file should fail")
	}
	if got := w.Current().Server.LogLevel; got != config.LogDebug {
		t.Errorf("broken reload replaced config: log_level = %q", got)
	}
}

func TestWatcher_StopIsIdempotent(t *testing.T) {
	t.Parallel()

	_, w, _ := watch(t, baseYAML)
	w.Stop()
	w.Stop()
}
