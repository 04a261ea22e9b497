package config_test

import (
	"testing"
	"time"

	"github.com/MrWong99/modplay/internal/config"
)

func intPtr(v int) *int { return &v }

func baseConfig() *config.Config {
	cfg := &config.Config{
		Server:  config.ServerConfig{LogLevel: config.LogInfo, ListenAddr: ":8080"},
		Audio:   config.AudioConfig{Output: "oto", SampleRate: 44100},
		Engine:  config.EngineConfig{Backend: "libxmp", Volume: intPtr(100)},
		History: config.HistoryConfig{Driver: config.HistoryMemory},
		Library: config.LibraryConfig{Roots: []string{"/mods"}},
	}
	config.ApplyDefaults(cfg)
	return cfg
}

func TestDiff_NoChanges(t *testing.T) {
	t.Parallel()
	cfg := baseConfig()
	d := config.Diff(cfg, baseConfig())
	if d.Changed() || d.RestartRequired {
		t.Errorf("expected no changes, got %+v", d)
	}
}

func TestDiff_HotReloadable(t *testing.T) {
	t.Parallel()

	old := baseConfig()
	new := baseConfig()
	new.Server.LogLevel = config.LogDebug
	new.Engine.Volume = intPtr(60)
	new.Engine.Loop = true
	new.Library.Roots = append(new.Library.Roots, "/more")

	d := config.Diff(old, new)
	if !d.LogLevelChanged || d.NewLogLevel != config.LogDebug {
		t.Errorf("log level diff = %v %q", d.LogLevelChanged, d.NewLogLevel)
	}
	if !d.VolumeChanged || d.NewVolume != 60 {
		t.Errorf("volume diff = %v %d", d.VolumeChanged, d.NewVolume)
	}
	if !d.LoopChanged || !d.NewLoop {
		t.Errorf("loop diff = %v %v", d.LoopChanged, d.NewLoop)
	}
	if !d.LibraryChanged {
		t.Error("expected LibraryChanged")
	}
	if d.RestartRequired {
		t.Error("hot changes must not require a restart")
	}
	if !d.Changed() {
		t.Error("Changed() = false")
	}
}

func TestDiff_VolumeDefaultEqualsExplicit(t *testing.T) {
	t.Parallel()

	old := baseConfig()
	old.Engine.Volume = nil
	new := baseConfig()
	if d := config.Diff(old, new); d.VolumeChanged {
		t.Error("unset volume and explicit 100 should not differ")
	}
}

func TestDiff_RestartRequired(t *testing.T) {
	t.Parallel()

	tests := map[string]func(*config.Config){
		"listen addr":     func(c *config.Config) { c.Server.ListenAddr = ":9090" },
		"status interval": func(c *config.Config) { c.Server.StatusInterval = time.Second },
		"output":          func(c *config.Config) { c.Audio.Output = "null" },
		"sample rate":     func(c *config.Config) { c.Audio.SampleRate = 48000 },
		"history":         func(c *config.Config) { c.History.Driver = config.HistorySQLite },
		"backend":         func(c *config.Config) { c.Engine.Backend = "other" },
		"mono":            func(c *config.Config) { c.Engine.Mono = true },
		"interpolation":   func(c *config.Config) { c.Engine.Interpolation = config.InterpSpline },
	}
	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			new := baseConfig()
			mutate(new)
			d := config.Diff(baseConfig(), new)
			if !d.RestartRequired {
				t.Error("expected RestartRequired")
			}
			if d.Changed() {
				t.Errorf("unexpected hot change: %+v", d)
			}
		})
	}
}
