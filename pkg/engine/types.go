// Package engine is the typed façade over a frame-synchronous tracker-module
// decoder such as libxmp.
//
// The native decoder is reached through two small interfaces:
//
//   - [Library] creates decode contexts and answers context-free questions
//     (format probing, the list of supported formats).
//   - [Context] is one opaque decode context. Its methods mirror the native
//     API one to one and report failures as raw integer codes.
//
// [Player] owns exactly one [Context] and turns those codes into typed Go
// errors, validates arguments before they reach native code, serialises every
// native call behind a mutex and guarantees that module release, player end
// and context free each happen at most once.
//
// Concrete libraries live in sub-packages: libxmp (cgo, built with the
// "libxmp" tag) and mock (a simulated song for tests).
package engine

import "time"

// SampleRates lists the output sample rates accepted by [Player.Start].
var SampleRates = []int{8000, 11025, 16000, 22050, 32000, 44100, 48000}

// Mode is the bitmask of output format flags passed to [Player.Start].
// The zero value selects signed 16-bit stereo.
type Mode int

const (
	// Mode8Bit renders 8-bit samples instead of 16-bit.
	Mode8Bit Mode = 1 << 0

	// ModeUnsigned renders unsigned samples.
	ModeUnsigned Mode = 1 << 1

	// ModeMono renders a single channel.
	ModeMono Mode = 1 << 2
)

// Channels reports the number of interleaved output channels for m.
func (m Mode) Channels() int {
	if m&ModeMono != 0 {
		return 1
	}
	return 2
}

// BytesPerSample reports the size of one sample of one channel for m.
func (m Mode) BytesPerSample() int {
	if m&Mode8Bit != 0 {
		return 1
	}
	return 2
}

// Param identifies a player parameter for [Player.SetParameter].
type Param int

// Player parameters. The numeric values match the native API.
const (
	ParamAmp        Param = 0
	ParamMix        Param = 1
	ParamInterp     Param = 2
	ParamDSP        Param = 3
	ParamFlags      Param = 4
	ParamCFlags     Param = 5
	ParamSmpCtl     Param = 6
	ParamVolume     Param = 7
	ParamState      Param = 8
	ParamSMixVolume Param = 9
	ParamDefPan     Param = 10
	ParamMode       Param = 11
	ParamMixerType  Param = 12
	ParamVoices     Param = 13
)

// Interpolation values for [ParamInterp].
const (
	InterpNearest = 0
	InterpLinear  = 1
	InterpSpline  = 2
)

// MaxVolume is the upper bound of [ParamVolume].
const MaxVolume = 200

// Native player states reported through [ParamState].
const (
	StateUnloaded = 0
	StateLoaded   = 1
	StatePlaying  = 2
)

// MuteState is the requested state passed to [Player.ChannelMute].
type MuteState int

const (
	// MuteQuery reads the current mute state without changing it.
	MuteQuery MuteState = -1
	Unmute    MuteState = 0
	Mute      MuteState = 1

	// MuteToggle flips the current mute state.
	MuteToggle MuteState = 2
)

// VolumeQuery passed to [Player.ChannelVolume] reads the current channel
// volume without changing it.
const VolumeQuery = -1

// MaxChannelVolume is the upper bound of a per-channel volume.
const MaxChannelVolume = 100

// Module is the metadata of a loaded song. It is a copy: it stays readable
// after the module is released but no longer describes the player's state.
type Module struct {
	Name            string
	Type            string
	Patterns        int
	Tracks          int
	Channels        int
	Instruments     int
	Samples         int
	InitialSpeed    int
	InitialBPM      int
	Length          int
	RestartPosition int
	GlobalVolume    int
	Sequences       []Sequence
}

// Duration returns the play time of the module's main sequence, or zero if
// the engine reported no sequences.
func (m *Module) Duration() time.Duration {
	if m == nil || len(m.Sequences) == 0 {
		return 0
	}
	return m.Sequences[0].Duration
}

// Sequence is an independent song inside a module.
type Sequence struct {
	EntryPoint int
	Duration   time.Duration
}

// Event is one pattern cell. It is used by [Player.InjectEvent].
type Event struct {
	Note       uint8
	Instrument uint8
	Volume     uint8
	FxType     uint8
	FxParam    uint8
	Fx2Type    uint8
	Fx2Param   uint8
}

// Instrument describes one instrument of the loaded module.
type Instrument struct {
	Name      string
	Volume    int
	SampleIDs []int
}

// SampleFlags describe the storage of a [Sample].
type SampleFlags int

const (
	Sample16Bit       SampleFlags = 1 << 0
	SampleLoop        SampleFlags = 1 << 1
	SampleLoopBidir   SampleFlags = 1 << 2
	SampleLoopReverse SampleFlags = 1 << 3
	SampleLoopFull    SampleFlags = 1 << 4
	SampleSynth       SampleFlags = 1 << 15
)

// Sample describes one sample of the loaded module. Data is a private copy.
type Sample struct {
	Name      string
	Length    int
	LoopStart int
	LoopEnd   int
	Flags     SampleFlags
	Data      []byte
}

// TestInfo is the result of probing a file without loading it.
type TestInfo struct {
	Name string
	Type string
}

// FrameInfo is the telemetry and audio produced by one replay tick.
//
// A FrameInfo returned by [Player.PlayFrame] owns its Buffer. FrameInfo values
// returned by a [Context] may alias native memory and are only valid until the
// next native call.
type FrameInfo struct {
	Position     int
	Pattern      int
	Row          int
	NumRows      int
	Frame        int
	Speed        int
	BPM          int
	Time         time.Duration
	TotalTime    time.Duration
	FrameTime    time.Duration
	Buffer       []byte
	TotalSize    int
	Volume       int
	LoopCount    int
	VirtChannels int
	VirtUsed     int
	Sequence     int
}
