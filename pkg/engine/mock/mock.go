// Package mock provides an in-memory [engine.Library] that simulates a
// tracker decoder for unit tests.
//
// Songs are registered by path. Playing a song advances a position/row/frame
// cursor exactly like a tracker replay would: one frame per call, Speed frames
// per row, Rows rows per pattern, one pattern per position. At the end of the
// order list the loop counter increments and playback wraps to the restart
// position. Each frame lasts 2.5s/BPM (20ms at 125 BPM) and carries a PCM
// buffer of matching length whose bytes are all equal to the low byte of the
// frame counter.
//
// Paths that are not registered fall back to the filesystem: a missing file
// fails with an OS not-exist error, an existing one with an unsupported-format
// code.
//
// Typical usage:
//
//	lib := &mock.Library{Songs: map[string]mock.Song{
//	    "a.mod": mock.NewSong("A", 4, 4),
//	}}
//	p, _ := engine.New(lib)
package mock

import (
	"os"
	"sync"
	"time"

	"github.com/MrWong99/modplay/pkg/engine"
)

// Compile-time interface assertions.
var (
	_ engine.Library = (*Library)(nil)
	_ engine.Context = (*Context)(nil)
)

// Song describes a simulated module.
type Song struct {
	// Module is returned verbatim by ModuleInfo, except that Sequences is
	// computed when empty.
	Module engine.Module

	// Rows is the number of rows in every pattern. Defaults to 64.
	Rows int

	// Orders maps each position to a pattern index. When nil, position i
	// plays pattern i modulo Module.Patterns.
	Orders []int

	// InstrumentList and SampleList back Instrument and Sample.
	InstrumentList []engine.Instrument
	SampleList     []engine.Sample
}

// NewSong returns a song with the given name, length in positions and rows
// per pattern at speed 6 and 125 BPM with four channels.
func NewSong(name string, length, rows int) Song {
	return Song{
		Module: engine.Module{
			Name:         name,
			Type:         "Mock module",
			Patterns:     length,
			Channels:     4,
			Instruments:  1,
			Samples:      1,
			InitialSpeed: 6,
			InitialBPM:   125,
			Length:       length,
		},
		Rows:           rows,
		InstrumentList: []engine.Instrument{{Name: "lead", Volume: 64, SampleIDs: []int{0}}},
		SampleList:     []engine.Sample{{Name: "square", Length: 4, Data: []byte{0x7f, 0x7f, 0x80, 0x80}}},
	}
}

func (s Song) rows() int {
	if s.Rows <= 0 {
		return 64
	}
	return s.Rows
}

func (s Song) frameTime() time.Duration {
	bpm := s.Module.InitialBPM
	if bpm <= 0 {
		bpm = 125
	}
	return 2500 * time.Millisecond / time.Duration(bpm)
}

func (s Song) speed() int {
	if s.Module.InitialSpeed <= 0 {
		return 6
	}
	return s.Module.InitialSpeed
}

// positionTime is the play time of one position.
func (s Song) positionTime() time.Duration {
	return time.Duration(s.rows()*s.speed()) * s.frameTime()
}

func (s Song) pattern(pos int) int {
	if pos < len(s.Orders) {
		return s.Orders[pos]
	}
	if s.Module.Patterns <= 0 {
		return pos
	}
	return pos % s.Module.Patterns
}

// Duration is the play time of the whole order list.
func (s Song) Duration() time.Duration {
	return time.Duration(s.Module.Length) * s.positionTime()
}

// FrameBytes is the size of one frame's PCM buffer at rate and mode.
func (s Song) FrameBytes(rate int, mode engine.Mode) int {
	samples := int(int64(rate) * int64(s.frameTime()) / int64(time.Second))
	return samples * mode.Channels() * mode.BytesPerSample()
}

// ─── Library ──────────────────────────────────────────────────────────────────

// Library is a mock implementation of [engine.Library].
// Set the exported fields before use; inspect Contexts after.
type Library struct {
	mu sync.Mutex

	// Songs maps load paths to simulated modules.
	Songs map[string]Song

	// Formats is returned by FormatList. Defaults to a small fixed list.
	Formats []string

	// FailCreate makes CreateContext return nil.
	FailCreate bool

	// FaultAfter, when > 0, makes every new context return an internal error
	// from PlayFrame after that many frames.
	FaultAfter int

	// LoadCodes forces the result code of LoadModule for a path.
	LoadCodes map[string]int

	// StartCode, when non-zero, is returned by StartPlayer. With
	// -engine.ErrorSystem the player still starts.
	StartCode int

	// Contexts records every context created, in order.
	Contexts []*Context

	// CallCountTestModule records how many times TestModule was called.
	CallCountTestModule int
}

func (l *Library) song(path string) (Song, int, error) {
	l.mu.Lock()
	code, forced := l.LoadCodes[path]
	s, ok := l.Songs[path]
	l.mu.Unlock()
	if forced {
		return Song{}, code, nil
	}
	if ok {
		return s, 0, nil
	}
	if _, err := os.Stat(path); err != nil {
		return Song{}, -engine.ErrorSystem, err
	}
	return Song{}, -engine.ErrorFormat, nil
}

// CreateContext implements [engine.Library].
func (l *Library) CreateContext() engine.Context {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.FailCreate {
		return nil
	}
	c := &Context{lib: l, faultAfter: l.FaultAfter, startCode: l.StartCode}
	l.Contexts = append(l.Contexts, c)
	return c
}

// TestModule implements [engine.Library].
func (l *Library) TestModule(path string) (engine.TestInfo, int, error) {
	l.mu.Lock()
	l.CallCountTestModule++
	l.mu.Unlock()
	s, code, err := l.song(path)
	if code < 0 {
		return engine.TestInfo{}, code, err
	}
	return engine.TestInfo{Name: s.Module.Name, Type: s.Module.Type}, 0, nil
}

// FormatList implements [engine.Library].
func (l *Library) FormatList() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.Formats == nil {
		return []string{"Protracker", "Scream Tracker 3", "Fast Tracker II", "Impulse Tracker"}
	}
	return l.Formats
}

// Context returns the most recently created context, or nil.
func (l *Library) Context() *Context {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.Contexts) == 0 {
		return nil
	}
	return l.Contexts[len(l.Contexts)-1]
}

// ─── Context ──────────────────────────────────────────────────────────────────

// Context is a mock implementation of [engine.Context].
// Call counters are safe to read concurrently through [Context.Counts].
type Context struct {
	mu  sync.Mutex
	lib *Library

	faultAfter int
	startCode  int

	song    Song
	loaded  bool
	playing bool
	stopped bool
	freed   bool

	rate int
	mode engine.Mode

	pos, row, frame int
	speed, bpm      int
	elapsed         time.Duration
	loops           int
	frames          int
	cur             engine.FrameInfo

	params   map[engine.Param]int
	mute     []int
	chanVol  []int
	injected []InjectedEvent

	counts Counts
}

// InjectedEvent records one InjectEvent call.
type InjectedEvent struct {
	Channel int
	Event   engine.Event
}

// Counts records how many times each lifecycle call reached the context.
type Counts struct {
	Free          int
	Load          int
	Release       int
	Start         int
	End           int
	Stop          int
	Restart       int
	Scan          int
	PlayFrame     int
	Seek          int
	SetPosition   int
	SetParameters int
}

// Counts returns a copy of the call counters.
func (c *Context) Counts() Counts {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counts
}

// Injected returns the events passed to InjectEvent.
func (c *Context) Injected() []InjectedEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]InjectedEvent(nil), c.injected...)
}

// Param returns the stored value of a parameter.
func (c *Context) Param(p engine.Param) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.params[p]
}

// Freed reports whether Free has been called.
func (c *Context) Freed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.freed
}

// Free implements [engine.Context].
func (c *Context) Free() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counts.Free++
	c.freed = true
}

// LoadModule implements [engine.Context].
func (c *Context) LoadModule(path string) (int, error) {
	c.mu.Lock()
	c.counts.Load++
	c.mu.Unlock()

	s, code, err := c.lib.song(path)
	if code < 0 {
		return code, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.song = s
	c.loaded = true
	c.params = map[engine.Param]int{
		engine.ParamAmp:    1,
		engine.ParamMix:    70,
		engine.ParamInterp: engine.InterpLinear,
		engine.ParamVolume: 100,
		engine.ParamState:  engine.StateLoaded,
	}
	c.mute = make([]int, s.Module.Channels)
	c.chanVol = make([]int, s.Module.Channels)
	for i := range c.chanVol {
		c.chanVol[i] = engine.MaxChannelVolume
	}
	return 0, nil
}

// ReleaseModule implements [engine.Context].
func (c *Context) ReleaseModule() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counts.Release++
	c.loaded = false
	c.playing = false
	if c.params != nil {
		c.params[engine.ParamState] = engine.StateUnloaded
	}
}

// ScanModule implements [engine.Context].
func (c *Context) ScanModule() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counts.Scan++
}

// StartPlayer implements [engine.Context].
func (c *Context) StartPlayer(rate int, mode engine.Mode) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counts.Start++
	if !c.loaded {
		return -engine.ErrorState
	}
	if rate < 4000 || rate > 49170 {
		return -engine.ErrorInvalid
	}
	if c.startCode != 0 && c.startCode != -engine.ErrorSystem {
		return c.startCode
	}
	c.rate, c.mode = rate, mode
	c.playing = true
	c.stopped = false
	c.frames = 0
	c.loops = 0
	c.resetLocked(0)
	c.params[engine.ParamState] = engine.StatePlaying
	return c.startCode
}

func (c *Context) resetLocked(pos int) {
	c.pos, c.row, c.frame = pos, 0, 0
	c.speed = c.song.speed()
	c.bpm = c.song.Module.InitialBPM
	if c.bpm <= 0 {
		c.bpm = 125
	}
	c.elapsed = time.Duration(pos) * c.song.positionTime()
}

// EndPlayer implements [engine.Context].
func (c *Context) EndPlayer() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counts.End++
	c.playing = false
	if c.loaded {
		c.params[engine.ParamState] = engine.StateLoaded
	}
}

// StopModule implements [engine.Context].
func (c *Context) StopModule() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counts.Stop++
	c.stopped = true
}

// RestartModule implements [engine.Context].
func (c *Context) RestartModule() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counts.Restart++
	c.loops = 0
	c.resetLocked(0)
}

// PlayFrame implements [engine.Context].
func (c *Context) PlayFrame() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counts.PlayFrame++
	if !c.playing {
		return -engine.ErrorState
	}
	if c.stopped {
		return -engine.ErrorEnd
	}
	if c.faultAfter > 0 && c.frames >= c.faultAfter {
		return -engine.ErrorInternal
	}

	ft := c.song.frameTime()
	size := c.song.FrameBytes(c.rate, c.mode)
	buf := make([]byte, size)
	for i := range buf {
		buf[i] = byte(c.frames)
	}
	c.cur = engine.FrameInfo{
		Position:     c.pos,
		Pattern:      c.song.pattern(c.pos),
		Row:          c.row,
		NumRows:      c.song.rows(),
		Frame:        c.frame,
		Speed:        c.speed,
		BPM:          c.bpm,
		Time:         c.elapsed,
		TotalTime:    c.song.Duration(),
		FrameTime:    ft,
		Buffer:       buf,
		TotalSize:    size,
		Volume:       c.params[engine.ParamVolume],
		LoopCount:    c.loops,
		VirtChannels: c.song.Module.Channels,
		VirtUsed:     c.song.Module.Channels,
	}

	c.frames++
	c.elapsed += ft
	c.frame++
	if c.frame >= c.speed {
		c.frame = 0
		c.row++
		if c.row >= c.song.rows() {
			c.row = 0
			c.pos++
			if c.pos >= c.song.Module.Length {
				c.loops++
				c.resetLocked(c.song.Module.RestartPosition)
			}
		}
	}
	return 0
}

// FrameInfo implements [engine.Context].
func (c *Context) FrameInfo() engine.FrameInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cur
}

// SeekTime implements [engine.Context]. Targets past the end clamp to the
// last position.
func (c *Context) SeekTime(ms int) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counts.Seek++
	if !c.playing {
		return -engine.ErrorState
	}
	pos := int(time.Duration(ms) * time.Millisecond / c.song.positionTime())
	if pos >= c.song.Module.Length {
		pos = c.song.Module.Length - 1
	}
	c.resetLocked(pos)
	return pos
}

// SetPosition implements [engine.Context].
func (c *Context) SetPosition(n int) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counts.SetPosition++
	if !c.playing {
		return -engine.ErrorState
	}
	if n < 0 || n >= c.song.Module.Length {
		return -engine.ErrorInvalid
	}
	c.resetLocked(n)
	return n
}

// NextPosition implements [engine.Context].
func (c *Context) NextPosition() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counts.SetPosition++
	if !c.playing {
		return -engine.ErrorState
	}
	if c.pos+1 < c.song.Module.Length {
		c.resetLocked(c.pos + 1)
	}
	return c.pos
}

// PrevPosition implements [engine.Context].
func (c *Context) PrevPosition() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counts.SetPosition++
	if !c.playing {
		return -engine.ErrorState
	}
	if c.pos > 0 {
		c.resetLocked(c.pos - 1)
	} else {
		c.resetLocked(0)
	}
	return c.pos
}

// ChannelMute implements [engine.Context].
func (c *Context) ChannelMute(ch, state int) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.playing {
		return -engine.ErrorState
	}
	if ch < 0 || ch >= len(c.mute) {
		return -engine.ErrorInvalid
	}
	prev := c.mute[ch]
	switch {
	case state >= 2:
		c.mute[ch] = 1 - prev
	case state >= 0:
		c.mute[ch] = state
	}
	return prev
}

// ChannelVol implements [engine.Context].
func (c *Context) ChannelVol(ch, vol int) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.playing {
		return -engine.ErrorState
	}
	if ch < 0 || ch >= len(c.chanVol) {
		return -engine.ErrorInvalid
	}
	prev := c.chanVol[ch]
	if vol >= 0 {
		c.chanVol[ch] = vol
	}
	return prev
}

// SetPlayer implements [engine.Context].
func (c *Context) SetPlayer(param engine.Param, value int) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counts.SetParameters++
	if c.params == nil {
		c.params = map[engine.Param]int{}
	}
	switch param {
	case engine.ParamVolume:
		if value < 0 || value > engine.MaxVolume {
			return -engine.ErrorInvalid
		}
	case engine.ParamAmp:
		if value < 0 || value > 3 {
			return -engine.ErrorInvalid
		}
	case engine.ParamMix:
		if value < -100 || value > 100 {
			return -engine.ErrorInvalid
		}
	case engine.ParamInterp:
		if value < engine.InterpNearest || value > engine.InterpSpline {
			return -engine.ErrorInvalid
		}
	}
	c.params[param] = value
	return 0
}

// GetPlayer implements [engine.Context].
func (c *Context) GetPlayer(param engine.Param) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.params[param]
}

// InjectEvent implements [engine.Context].
func (c *Context) InjectEvent(ch int, ev engine.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.injected = append(c.injected, InjectedEvent{Channel: ch, Event: ev})
}

// ModuleInfo implements [engine.Context].
func (c *Context) ModuleInfo() engine.Module {
	c.mu.Lock()
	defer c.mu.Unlock()
	m := c.song.Module
	if len(m.Sequences) == 0 {
		m.Sequences = []engine.Sequence{{EntryPoint: 0, Duration: c.song.Duration()}}
	}
	return m
}

// Instrument implements [engine.Context].
func (c *Context) Instrument(n int) (engine.Instrument, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if n < 0 || n >= len(c.song.InstrumentList) {
		return engine.Instrument{}, false
	}
	return c.song.InstrumentList[n], true
}

// Sample implements [engine.Context].
func (c *Context) Sample(n int) (engine.Sample, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if n < 0 || n >= len(c.song.SampleList) {
		return engine.Sample{}, false
	}
	return c.song.SampleList[n], true
}
