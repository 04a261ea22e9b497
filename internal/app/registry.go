package app

import (
	"errors"

	"github.com/MrWong99/modplay/internal/config"
	"github.com/MrWong99/modplay/pkg/audio"
	"github.com/MrWong99/modplay/pkg/audio/nulldevice"
	"github.com/MrWong99/modplay/pkg/audio/otodevice"
	"github.com/MrWong99/modplay/pkg/audio/wavfile"
	"github.com/MrWong99/modplay/pkg/engine"
	"github.com/MrWong99/modplay/pkg/engine/libxmp"
)

// ErrUnsignedSixteenBit is returned by [OutputFormat] for unsigned 16-bit
// rendering, which no output device accepts.
var ErrUnsignedSixteenBit = errors.New("app: unsigned samples require eight_bit")

// DefaultRegistry returns a registry with the built-in outputs ("oto", "wav",
// "null") and the "libxmp" backend.
func DefaultRegistry() *config.Registry {
	reg := config.NewRegistry()
	reg.RegisterOutput("oto", func(c config.AudioConfig) (audio.Device, error) {
		return otodevice.New(otodevice.WithLatency(c.Latency)), nil
	})
	reg.RegisterOutput("wav", func(c config.AudioConfig) (audio.Device, error) {
		return wavfile.New(c.WAVPath, wavfile.WithChannels(c.WAVChannels))
	})
	reg.RegisterOutput("null", func(config.AudioConfig) (audio.Device, error) {
		return nulldevice.Device{}, nil
	})
	reg.RegisterBackend("libxmp", func(config.EngineConfig) (engine.Library, error) {
		return libxmp.Open()
	})
	return reg
}

// OutputFormat derives the engine mode and the matching output format from
// the configuration. Eight-bit rendering is always unsigned because that is
// the only 8-bit encoding outputs accept.
func OutputFormat(ac config.AudioConfig, ec config.EngineConfig) (engine.Mode, audio.Format, error) {
	var mode engine.Mode
	if ec.Mono {
		mode |= engine.ModeMono
	}
	enc := audio.EncodingS16LE
	switch {
	case ec.EightBit:
		mode |= engine.Mode8Bit | engine.ModeUnsigned
		enc = audio.EncodingU8
	case ec.Unsigned:
		return 0, audio.Format{}, ErrUnsignedSixteenBit
	}
	rate := ac.SampleRate
	if rate == 0 {
		rate = config.DefaultSampleRate
	}
	return mode, audio.Format{SampleRate: rate, Channels: mode.Channels(), Encoding: enc}, nil
}

// Interpolation maps a configured filter name to the engine constant.
// Unknown names select linear interpolation.
func Interpolation(i config.Interpolation) int {
	switch i {
	case config.InterpNearest:
		return engine.InterpNearest
	case config.InterpSpline:
		return engine.InterpSpline
	}
	return engine.InterpLinear
}
