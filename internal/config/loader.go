package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults applied by [ApplyDefaults].
const (
	DefaultSampleRate     = 44100
	DefaultLatency        = 50 * time.Millisecond
	DefaultStatusInterval = 250 * time.Millisecond
	DefaultHistoryLimit   = 1000
	DefaultWorkers        = 8
	DefaultBackend        = "libxmp"
	DefaultOutput         = "oto"
)

// ValidOutputs lists the output device names known to modplay.
// Used by [Validate] to warn about unrecognised names.
var ValidOutputs = []string{"oto", "wav", "null"}

// ValidSampleRates mirrors the rates the decode engine accepts.
var ValidSampleRates = []int{8000, 11025, 16000, 22050, 32000, 44100, 48000}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults and
// validates the result. An empty document yields the default config.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadBytes parses an in-memory config.
func loadBytes(data []byte) (*Config, error) {
	return LoadFromReader(bytes.NewReader(data))
}

// ApplyDefaults fills zero-valued fields with their defaults.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Server.StatusInterval == 0 {
		cfg.Server.StatusInterval = DefaultStatusInterval
	}
	if cfg.Audio.Output == "" {
		cfg.Audio.Output = DefaultOutput
	}
	if cfg.Audio.SampleRate == 0 {
		cfg.Audio.SampleRate = DefaultSampleRate
	}
	if cfg.Audio.Latency == 0 {
		cfg.Audio.Latency = DefaultLatency
	}
	if cfg.Engine.Backend == "" {
		cfg.Engine.Backend = DefaultBackend
	}
	if cfg.Engine.Interpolation == "" {
		cfg.Engine.Interpolation = InterpLinear
	}
	if cfg.History.Driver == "" {
		cfg.History.Driver = HistoryMemory
	}
	if cfg.History.Limit == 0 {
		cfg.History.Limit = DefaultHistoryLimit
	}
	if cfg.Library.Workers == 0 {
		cfg.Library.Workers = DefaultWorkers
	}
	for i, ext := range cfg.Library.Extensions {
		cfg.Library.Extensions[i] = strings.ToLower(strings.TrimPrefix(ext, "."))
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.StatusInterval < 0 {
		errs = append(errs, fmt.Errorf("server.status_interval %s must not be negative", cfg.Server.StatusInterval))
	}

	// Audio
	if cfg.Audio.Output != "" && !slices.Contains(ValidOutputs, cfg.Audio.Output) {
		slog.Warn("unknown audio output; it must be registered by the application",
			"output", cfg.Audio.Output,
			"known", ValidOutputs,
		)
	}
	if cfg.Audio.SampleRate != 0 && !slices.Contains(ValidSampleRates, cfg.Audio.SampleRate) {
		errs = append(errs, fmt.Errorf("audio.sample_rate %d is invalid; valid values: %v", cfg.Audio.SampleRate, ValidSampleRates))
	}
	if cfg.Audio.Latency < 0 {
		errs = append(errs, fmt.Errorf("audio.latency %s must not be negative", cfg.Audio.Latency))
	}
	if cfg.Audio.Output == "wav" && cfg.Audio.WAVPath == "" {
		errs = append(errs, errors.New("audio.wav_path is required when audio.output is wav"))
	}
	if c := cfg.Audio.WAVChannels; c != 0 && c != 1 && c != 2 {
		errs = append(errs, fmt.Errorf("audio.wav_channels %d is invalid; valid values: 1, 2", c))
	}

	// Engine
	if cfg.Engine.Interpolation != "" && !cfg.Engine.Interpolation.IsValid() {
		errs = append(errs, fmt.Errorf("engine.interpolation %q is invalid; valid values: nearest, linear, spline", cfg.Engine.Interpolation))
	}
	if v := cfg.Engine.VolumeOrDefault(); v < 0 || v > 200 {
		errs = append(errs, fmt.Errorf("engine.volume %d is out of range [0, 200]", v))
	}
	if cfg.Engine.Unsigned && !cfg.Engine.EightBit {
		slog.Warn("engine.unsigned without engine.eight_bit renders unsigned 16-bit audio that most outputs cannot play")
	}

	// History
	if cfg.History.Driver != "" && !cfg.History.Driver.IsValid() {
		errs = append(errs, fmt.Errorf("history.driver %q is invalid; valid values: memory, sqlite, postgres", cfg.History.Driver))
	}
	if cfg.History.Driver == HistorySQLite && cfg.History.SQLitePath == "" {
		errs = append(errs, errors.New("history.sqlite_path is required when history.driver is sqlite"))
	}
	if cfg.History.Driver == HistoryPostgres && cfg.History.PostgresDSN == "" {
		errs = append(errs, errors.New("history.postgres_dsn is required when history.driver is postgres"))
	}
	if cfg.History.Limit < 0 {
		errs = append(errs, fmt.Errorf("history.limit %d must not be negative", cfg.History.Limit))
	}

	// Library
	seen := make(map[string]int, len(cfg.Library.Roots))
	for i, root := range cfg.Library.Roots {
		if root == "" {
			errs = append(errs, fmt.Errorf("library.roots[%d] is empty", i))
			continue
		}
		if prev, ok := seen[root]; ok {
			errs = append(errs, fmt.Errorf("library.roots[%d] %q is a duplicate of library.roots[%d]", i, root, prev))
		}
		seen[root] = i
	}
	if cfg.Library.Workers < 0 {
		errs = append(errs, fmt.Errorf("library.workers %d must not be negative", cfg.Library.Workers))
	}
	if cfg.Library.Watch && len(cfg.Library.Roots) == 0 {
		slog.Warn("library.watch is enabled but library.roots is empty; nothing will be watched")
	}

	return errors.Join(errs...)
}
