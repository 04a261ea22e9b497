package config_test

import (
	"strings"
	"testing"

	"github.com/MrWong99/modplay/internal/config"
)

func TestValidate_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"log level", "server:\n  log_level: loud\n", "server.log_level"},
		{"sample rate", "audio:\n  sample_rate: 44000\n", "audio.sample_rate"},
		{"wav without path", "audio:\n  output: wav\n", "audio.wav_path"},
		{"wav channels", "audio:\n  output: wav\n  wav_path: x.wav\n  wav_channels: 6\n", "audio.wav_channels"},
		{"negative latency", "audio:\n  latency: -5ms\n", "audio.latency"},
		{"interpolation", "engine:\n  interpolation: cubic\n", "engine.interpolation"},
		{"volume high", "engine:\n  volume: 201\n", "engine.volume"},
		{"volume negative", "engine:\n  volume: -1\n", "engine.volume"},
		{"history driver", "history:\n  driver: redis\n", "history.driver"},
		{"sqlite without path", "history:\n  driver: sqlite\n", "history.sqlite_path"},
		{"postgres without dsn", "history:\n  driver: postgres\n", "history.postgres_dsn"},
		{"empty root", "library:\n  roots: [\"\"]\n", "library.roots[0]"},
		{"duplicate root", "library:\n  roots: [/a, /b, /a]\n", "duplicate"},
		{"negative workers", "library:\n  workers: -2\n", "library.workers"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := config.LoadFromReader(strings.NewReader(tt.yaml))
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error should mention %q, got: %v", tt.want, err)
			}
		})
	}
}

func TestValidate_MultipleErrors(t *testing.T) {
	t.Parallel()
	yaml := `
server:
  log_level: loud
engine:
  volume: 500
history:
  driver: postgres
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected errors, got nil")
	}
	errStr := err.Error()
	for _, want := range []string{"server.log_level", "engine.volume", "history.postgres_dsn"} {
		if !strings.Contains(errStr, want) {
			t.Errorf("error should mention %q, got: %v", want, err)
		}
	}
}

func TestValidate_UnknownOutputIsAllowed(t *testing.T) {
	t.Parallel()

	// Applications may register their own outputs; unknown names only warn.
	cfg, err := config.LoadFromReader(strings.NewReader("audio:\n  output: pulse\n"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Audio.Output != "pulse" {
		t.Errorf("output = %q", cfg.Audio.Output)
	}
}

func TestValidate_SupportedSampleRates(t *testing.T) {
	t.Parallel()

	for _, rate := range config.ValidSampleRates {
		cfg := &config.Config{Audio: config.AudioConfig{SampleRate: rate}}
		if err := config.Validate(cfg); err != nil {
			t.Errorf("rate %d: %v", rate, err)
		}
	}
}
