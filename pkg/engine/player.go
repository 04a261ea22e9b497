package engine

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"
)

// Player is the typed façade over one native decode [Context].
//
// All methods are safe for concurrent use: native calls are serialised by an
// internal mutex, so a control goroutine may seek, change parameters or stop
// the module while another goroutine is calling [Player.PlayFrame].
//
// A Player must be closed with [Player.Close]. Any method other than Close
// called after Close panics.
type Player struct {
	mu      sync.Mutex
	lib     Library
	ctx     Context
	closed  bool
	mod     *Module
	started bool
	rate    int
	mode    Mode
	log     *slog.Logger
}

// Option is a functional option for [New].
type Option func(*Player)

// WithLogger sets the logger used for non-fatal decoder conditions.
// Defaults to [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(p *Player) { p.log = l }
}

// New creates a decode context from lib. It fails with [ErrInternal] if the
// decoder cannot allocate one.
func New(lib Library, opts ...Option) (*Player, error) {
	if lib == nil {
		return nil, errors.New("engine: library must not be nil")
	}
	p := &Player{lib: lib, log: slog.Default()}
	for _, o := range opts {
		o(p)
	}
	p.ctx = lib.CreateContext()
	if p.ctx == nil {
		return nil, fmt.Errorf("engine: create context: %w", ErrInternal)
	}
	return p, nil
}

// mustOpen panics if the context has been freed. Callers hold p.mu.
func (p *Player) mustOpen() {
	if p.closed {
		panic("engine: use of closed Player")
	}
}

// Close ends the player, releases the module and frees the decode context.
// Calling Close more than once is a no-op.
func (p *Player) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.releaseLocked()
	p.ctx.Free()
	p.ctx = nil
	p.closed = true
	return nil
}

// Formats returns the names of the module formats the decoder supports.
func (p *Player) Formats() []string {
	return p.lib.FormatList()
}

// TestModule probes path without loading it.
func (p *Player) TestModule(path string) (TestInfo, error) {
	return Test(p.lib, path)
}

// Test probes path through lib without loading it. Failures are reported as
// [*LoadError].
func Test(lib Library, path string) (TestInfo, error) {
	info, code, errno := lib.TestModule(path)
	if code < 0 {
		return TestInfo{}, loadError(path, code, errno)
	}
	return info, nil
}

// LoadModule loads the module at path and returns a copy of its metadata. A
// previously loaded module is released first. On failure no module is
// loaded and the error is a [*LoadError] (or wraps [ErrInternal]).
func (p *Player) LoadModule(path string) (*Module, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.mustOpen()

	p.releaseLocked()
	code, errno := p.ctx.LoadModule(path)
	if code < 0 {
		return nil, loadError(path, code, errno)
	}
	mod := p.ctx.ModuleInfo()
	p.mod = &mod
	out := mod
	out.Sequences = slices.Clone(mod.Sequences)
	return &out, nil
}

// Module returns a copy of the loaded module's metadata, or nil if no module
// is loaded.
func (p *Player) Module() *Module {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.mustOpen()
	if p.mod == nil {
		return nil
	}
	out := *p.mod
	out.Sequences = slices.Clone(p.mod.Sequences)
	return &out
}

// Scan recomputes the module's sequence and timing tables.
func (p *Player) Scan() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.mustOpen()
	if p.mod == nil {
		return ErrNoModule
	}
	p.ctx.ScanModule()
	mod := p.ctx.ModuleInfo()
	p.mod = &mod
	return nil
}

// Start prepares the loaded module for playback at the given output sample
// rate. rate must be one of [SampleRates]; otherwise Start fails with
// [ErrInvalidArgument] and no native call is made. A decoder system error is
// logged and tolerated.
func (p *Player) Start(rate int, mode Mode) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.mustOpen()

	if !slices.Contains(SampleRates, rate) {
		return fmt.Errorf("engine: start: %w: sample rate %d Hz", ErrInvalidArgument, rate)
	}
	if mode&^(Mode8Bit|ModeUnsigned|ModeMono) != 0 {
		return fmt.Errorf("engine: start: %w: mode %#x", ErrInvalidArgument, int(mode))
	}
	if p.mod == nil {
		return fmt.Errorf("engine: start: %w", ErrNoModule)
	}
	if p.started {
		p.ctx.EndPlayer()
		p.started = false
	}

	code := p.ctx.StartPlayer(rate, mode)
	switch {
	case code == -ErrorSystem:
		p.log.Warn("engine: start: system error ignored", "rate", rate)
	case code < 0:
		return codeError("start", code)
	}
	p.started = true
	p.rate = rate
	p.mode = mode
	return nil
}

// Started reports whether the player is between [Player.Start] and
// [Player.End].
func (p *Player) Started() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.started
}

// PlayFrame renders one replay tick. It returns [ErrEndOfStream] when the
// module has ended or was stopped, and an error wrapping [ErrInternal] on
// decoder faults. The returned FrameInfo owns its Buffer.
func (p *Player) PlayFrame() (FrameInfo, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.mustOpen()
	if !p.started {
		return FrameInfo{}, fmt.Errorf("engine: play frame: %w", ErrState)
	}

	code := p.ctx.PlayFrame()
	switch {
	case code == -ErrorInternal:
		return FrameInfo{}, codeError("play frame", code)
	case code != 0:
		return FrameInfo{}, ErrEndOfStream
	}
	fi := p.ctx.FrameInfo()
	fi.Buffer = bytes.Clone(fi.Buffer)
	return fi, nil
}

// Stop asks the decoder to end the module. The next [Player.PlayFrame]
// returns [ErrEndOfStream]. Stop is a no-op when the player is not started.
func (p *Player) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.mustOpen()
	if p.started {
		p.ctx.StopModule()
	}
}

// Restart jumps back to the start of the module.
func (p *Player) Restart() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.mustOpen()
	if !p.started {
		return fmt.Errorf("engine: restart: %w", ErrState)
	}
	p.ctx.RestartModule()
	return nil
}

// End stops the player. The module stays loaded. Calling End when the player
// is not started is a no-op.
func (p *Player) End() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.mustOpen()
	if p.started {
		p.ctx.EndPlayer()
		p.started = false
	}
}

// ReleaseModule ends the player if needed and releases the loaded module.
// Calling it without a loaded module is a no-op.
func (p *Player) ReleaseModule() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.mustOpen()
	p.releaseLocked()
}

func (p *Player) releaseLocked() {
	if p.started {
		p.ctx.EndPlayer()
		p.started = false
	}
	if p.mod != nil {
		p.ctx.ReleaseModule()
		p.mod = nil
	}
}

// ── Transport ───────────────────────────────────────────────────────────────

// SeekTime moves playback to the pattern position containing t and returns
// that position. Targets past the end of the module clamp to the last
// position.
func (p *Player) SeekTime(t time.Duration) (int, error) {
	if t < 0 {
		return 0, fmt.Errorf("engine: seek: %w: negative time %s", ErrInvalidArgument, t)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.mustOpen()
	if !p.started {
		return 0, fmt.Errorf("engine: seek: %w", ErrState)
	}
	code := p.ctx.SeekTime(int(t / time.Millisecond))
	if err := codeError("seek", code); err != nil {
		return 0, err
	}
	return code, nil
}

// SetPosition jumps to pattern position n. An out-of-range n fails with
// [ErrInvalidArgument] and leaves the position unchanged.
func (p *Player) SetPosition(n int) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.mustOpen()
	if !p.started {
		return 0, fmt.Errorf("engine: set position: %w", ErrState)
	}
	if n < 0 || n >= p.mod.Length {
		return 0, fmt.Errorf("engine: set position: %w: position %d", ErrInvalidArgument, n)
	}
	code := p.ctx.SetPosition(n)
	if err := codeError("set position", code); err != nil {
		return 0, err
	}
	return code, nil
}

// NextPosition jumps to the next pattern position.
func (p *Player) NextPosition() (int, error) {
	return p.step("next position", Context.NextPosition)
}

// PrevPosition jumps to the previous pattern position.
func (p *Player) PrevPosition() (int, error) {
	return p.step("previous position", Context.PrevPosition)
}

func (p *Player) step(op string, fn func(Context) int) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.mustOpen()
	if !p.started {
		return 0, fmt.Errorf("engine: %s: %w", op, ErrState)
	}
	code := fn(p.ctx)
	if err := codeError(op, code); err != nil {
		return 0, err
	}
	return code, nil
}

// ── Parameters ──────────────────────────────────────────────────────────────

// SetParameter sets a player parameter. Rejected values fail with
// [ErrInvalidArgument] and leave the parameter unchanged.
func (p *Player) SetParameter(param Param, value int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.mustOpen()
	if param == ParamVolume && (value < 0 || value > MaxVolume) {
		return fmt.Errorf("engine: set parameter: %w: volume %d", ErrInvalidArgument, value)
	}
	if param == ParamState {
		return fmt.Errorf("engine: set parameter: %w: state is read-only", ErrInvalidArgument)
	}
	code := p.ctx.SetPlayer(param, value)
	if code == -ErrorInvalid {
		return fmt.Errorf("engine: set parameter %d: %w: value %d", param, ErrInvalidArgument, value)
	}
	return codeError("set parameter", code)
}

// Parameter reads a player parameter.
func (p *Player) Parameter(param Param) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.mustOpen()
	v := p.ctx.GetPlayer(param)
	if v < 0 && param != ParamMix {
		return 0, codeError("get parameter", v)
	}
	return v, nil
}

// SetVolume sets the master volume (0..[MaxVolume]).
func (p *Player) SetVolume(v int) error {
	return p.SetParameter(ParamVolume, v)
}

// Volume returns the master volume.
func (p *Player) Volume() (int, error) {
	return p.Parameter(ParamVolume)
}

// ── Channels ────────────────────────────────────────────────────────────────

// ChannelMute changes or, with [MuteQuery], reads the mute state of channel
// ch. It returns whether the channel was muted before the call.
func (p *Player) ChannelMute(ch int, state MuteState) (bool, error) {
	if state < MuteQuery || state > MuteToggle {
		return false, fmt.Errorf("engine: channel mute: %w: state %d", ErrInvalidArgument, state)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.mustOpen()
	if err := p.checkChannelLocked("channel mute", ch); err != nil {
		return false, err
	}
	code := p.ctx.ChannelMute(ch, int(state))
	if err := codeError("channel mute", code); err != nil {
		return false, err
	}
	return code == 1, nil
}

// ChannelVolume changes or, with [VolumeQuery], reads the volume of channel
// ch (0..[MaxChannelVolume]). It returns the volume before the call.
func (p *Player) ChannelVolume(ch, vol int) (int, error) {
	if vol != VolumeQuery && (vol < 0 || vol > MaxChannelVolume) {
		return 0, fmt.Errorf("engine: channel volume: %w: volume %d", ErrInvalidArgument, vol)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.mustOpen()
	if err := p.checkChannelLocked("channel volume", ch); err != nil {
		return 0, err
	}
	code := p.ctx.ChannelVol(ch, vol)
	if err := codeError("channel volume", code); err != nil {
		return 0, err
	}
	return code, nil
}

// InjectEvent plays ev on channel ch at the current tick.
func (p *Player) InjectEvent(ch int, ev Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.mustOpen()
	if err := p.checkChannelLocked("inject event", ch); err != nil {
		return err
	}
	p.ctx.InjectEvent(ch, ev)
	return nil
}

func (p *Player) checkChannelLocked(op string, ch int) error {
	if p.mod == nil {
		return fmt.Errorf("engine: %s: %w", op, ErrNoModule)
	}
	if !p.started {
		return fmt.Errorf("engine: %s: %w", op, ErrState)
	}
	if ch < 0 || ch >= p.mod.Channels {
		return fmt.Errorf("engine: %s: %w: channel %d", op, ErrInvalidArgument, ch)
	}
	return nil
}

// ── Metadata ────────────────────────────────────────────────────────────────

// Instrument returns instrument n of the loaded module.
func (p *Player) Instrument(n int) (Instrument, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.mustOpen()
	if p.mod == nil {
		return Instrument{}, fmt.Errorf("engine: instrument: %w", ErrNoModule)
	}
	ins, ok := p.ctx.Instrument(n)
	if !ok {
		return Instrument{}, fmt.Errorf("engine: instrument: %w: index %d", ErrInvalidArgument, n)
	}
	return ins, nil
}

// Sample returns sample n of the loaded module.
func (p *Player) Sample(n int) (Sample, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.mustOpen()
	if p.mod == nil {
		return Sample{}, fmt.Errorf("engine: sample: %w", ErrNoModule)
	}
	smp, ok := p.ctx.Sample(n)
	if !ok {
		return Sample{}, fmt.Errorf("engine: sample: %w: index %d", ErrInvalidArgument, n)
	}
	return smp, nil
}
