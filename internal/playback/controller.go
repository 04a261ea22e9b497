package playback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/MrWong99/modplay/internal/observe"
	"github.com/MrWong99/modplay/pkg/audio"
	"github.com/MrWong99/modplay/pkg/engine"
)

// DefaultSampleRate is the output rate used when [WithSampleRate] is not
// given.
const DefaultSampleRate = 44100

// SessionEndFunc is called once per session after its resources are released
// and before [Controller.Done] is closed. It runs on the pump goroutine and
// must not call [Controller.Close] or [Controller.Wait].
type SessionEndFunc func(SessionResult)

// Option is a functional option for [New].
type Option func(*Controller)

// WithLogger sets the controller's logger. Defaults to [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(c *Controller) { c.log = l }
}

// WithMetrics sets the metrics instruments. Defaults to
// [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Controller) { c.metrics = m }
}

// WithSampleRate sets the rate passed to [engine.Player.Start].
func WithSampleRate(rate int) Option {
	return func(c *Controller) { c.rate = rate }
}

// WithMode sets the output mode passed to [engine.Player.Start].
func WithMode(m engine.Mode) Option {
	return func(c *Controller) { c.mode = m }
}

// WithLoop makes sessions loop forever instead of ending when the module
// wraps around.
func WithLoop(loop bool) Option {
	return func(c *Controller) { c.loop.Store(loop) }
}

// WithVolume sets the initial master volume (0 to [engine.MaxVolume]).
func WithVolume(v int) Option {
	return func(c *Controller) { c.volume.Store(int32(v)) }
}

// WithInterpolation sets the resampling interpolation applied to every
// session, one of the engine.Interp constants.
func WithInterpolation(interp int) Option {
	return func(c *Controller) { c.interp = interp }
}

// WithSessionEndHandler registers fn to receive every [SessionResult].
func WithSessionEndHandler(fn SessionEndFunc) Option {
	return func(c *Controller) { c.onEnd = fn }
}

// session is the per-Play bookkeeping of the controller.
type session struct {
	id      string
	path    string
	module  engine.Module
	started time.Time

	gate     *pauseGate
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
	live     liveness
}

func (s *session) requestStop() {
	s.stopOnce.Do(func() { close(s.stop) })
}

// liveness ties engine and output calls made from outside the pump to one
// session. Once the pump starts its teardown, late calls are dropped, so a
// Stop aimed at a finished session cannot reach the next one.
type liveness struct {
	mu   sync.Mutex
	over bool
}

// do runs fn unless the session has begun tearing down.
func (l *liveness) do(fn func()) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.over {
		return false
	}
	fn()
	return true
}

// end marks the session as over and runs fn while no do call can start.
func (l *liveness) end(fn func()) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.over = true
	fn()
}

// Controller is the public surface of the player. It owns one decode engine
// and one audio output and runs at most one session at a time.
//
// All exported methods are safe for concurrent use. Transport controls take
// effect at the next frame boundary; telemetry accessors read the last
// published [Snapshot] and may lag the pump by one frame.
type Controller struct {
	player  *engine.Player
	out     audio.Output
	log     *slog.Logger
	metrics *observe.Metrics
	onEnd   SessionEndFunc

	rate   int
	mode   engine.Mode
	interp int
	loop   atomic.Bool
	volume atomic.Int32

	snap snapshotSlot

	// opMu serialises Play, Reset and Close so that session setup and
	// teardown never interleave.
	opMu sync.Mutex

	mu     sync.Mutex
	state  State
	closed bool
	cur    *session
	last   *SessionResult
	fault  error
}

// New returns an idle Controller. The controller takes ownership of player
// and out; both are closed by [Controller.Close].
func New(player *engine.Player, out audio.Output, opts ...Option) (*Controller, error) {
	if player == nil {
		return nil, errors.New("playback: player must not be nil")
	}
	if out == nil {
		return nil, errors.New("playback: output must not be nil")
	}
	c := &Controller{
		player: player,
		out:    out,
		rate:   DefaultSampleRate,
		interp: engine.InterpLinear,
	}
	c.volume.Store(100)
	for _, o := range opts {
		o(c)
	}
	if c.log == nil {
		c.log = slog.Default()
	}
	if c.metrics == nil {
		c.metrics = observe.DefaultMetrics()
	}
	if v := c.volume.Load(); v < 0 || v > engine.MaxVolume {
		return nil, fmt.Errorf("playback: volume %d out of range [0, %d]", v, engine.MaxVolume)
	}
	return c, nil
}

// ── Session lifecycle ───────────────────────────────────────────────────────

// Play loads the module at path and starts a session. It is valid from the
// idle and ended states. If the previous session is still tearing down after
// a Stop, Play waits for it, bounded by ctx. It returns [ErrSessionActive]
// while a session is playing or paused and [ErrFaulted] until a fault has
// been acknowledged with [Controller.Reset].
//
// Load failures are returned as *engine.LoadError and leave the controller
// idle.
func (c *Controller) Play(ctx context.Context, path string) (err error) {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	ctx, span := observe.StartSpan(ctx, "playback.play")
	defer func() { observe.EndSpan(span, err) }()
	span.SetAttributes(attribute.String("module.path", path))

	if err := c.awaitEnding(ctx); err != nil {
		return err
	}

	c.mu.Lock()
	switch {
	case c.closed:
		c.mu.Unlock()
		return ErrClosed
	case c.state == StateFaulted:
		c.mu.Unlock()
		return ErrFaulted
	case c.state.Active():
		c.mu.Unlock()
		return ErrSessionActive
	}
	prev := c.state
	c.state = StateLoading
	c.mu.Unlock()

	s, err := c.startSession(ctx, path)
	if err != nil {
		c.mu.Lock()
		c.state = prev
		c.mu.Unlock()
		return err
	}

	c.mu.Lock()
	c.snap.store(nil)
	c.cur = s
	c.state = StatePlaying
	c.mu.Unlock()

	c.metrics.ActiveSessions.Add(ctx, 1)
	span.SetAttributes(
		attribute.String("session.id", s.id),
		attribute.String("module.type", s.module.Type),
	)
	ctx = observe.WithSession(ctx, s.id)
	observe.LoggerFrom(ctx, c.log).Info("session started",
		"path", path,
		"module", s.module.Name,
		"type", s.module.Type,
		"channels", s.module.Channels,
	)

	p := &pump{
		sessionID: s.id,
		player:    c.player,
		out:       c.out,
		gate:      s.gate,
		stop:      s.stop,
		live:      &s.live,
		loop:      &c.loop,
		snap:      &c.snap,
		metrics:   c.metrics,
		log:       c.log,
	}
	go c.runPump(s, p)
	return nil
}

// awaitEnding blocks while a stopped session is still tearing down.
func (c *Controller) awaitEnding(ctx context.Context) error {
	c.mu.Lock()
	var done chan struct{}
	if c.state == StateEnding && c.cur != nil {
		done = c.cur.done
	}
	c.mu.Unlock()
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("playback: wait for previous session: %w", ctx.Err())
	}
}

// startSession loads the module, starts the engine and the output. On error
// everything acquired so far is released again.
func (c *Controller) startSession(ctx context.Context, path string) (*session, error) {
	_, span := observe.StartSpan(ctx, "playback.load")
	mod, err := c.player.LoadModule(path)
	observe.EndSpan(span, err)
	if err != nil {
		kind := "other"
		if k, ok := engine.LoadErrorKindOf(err); ok {
			kind = k.String()
		}
		c.metrics.RecordLoadError(ctx, kind)
		c.log.Warn("load module failed", "path", path, "kind", kind, "err", err)
		return nil, err
	}

	if err := c.player.Start(c.rate, c.mode); err != nil {
		c.player.ReleaseModule()
		return nil, fmt.Errorf("playback: start engine: %w", err)
	}
	if err := c.player.SetVolume(int(c.volume.Load())); err != nil {
		c.log.Warn("apply volume", "err", err)
	}
	if err := c.player.SetParameter(engine.ParamInterp, c.interp); err != nil {
		c.log.Warn("apply interpolation", "interp", c.interp, "err", err)
	}
	if err := c.out.Play(); err != nil {
		c.player.ReleaseModule()
		return nil, fmt.Errorf("playback: start output: %w", err)
	}

	return &session{
		id:      uuid.NewString(),
		path:    path,
		module:  *mod,
		started: time.Now(),
		gate:    &pauseGate{},
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}, nil
}

func (c *Controller) runPump(s *session, p *pump) {
	ctx := context.Background()
	res := p.run(ctx)

	result := SessionResult{
		ID:        s.id,
		Path:      s.path,
		Module:    s.module,
		StartedAt: s.started,
		EndedAt:   time.Now(),
		Frames:    res.frames,
		Outcome:   res.outcome,
		Err:       res.err,
	}

	c.mu.Lock()
	if res.outcome == OutcomeFaulted {
		c.state = StateFaulted
		c.fault = res.err
	} else {
		c.state = StateEnded
	}
	c.last = &result
	c.mu.Unlock()

	recordEnd(ctx, c.metrics, res)
	if res.outcome == OutcomeFaulted {
		c.log.Error("session faulted", "session_id", s.id, "frames", res.frames, "err", res.err)
	} else {
		c.log.Info("session ended", "session_id", s.id, "outcome", res.outcome, "frames", res.frames)
	}

	if c.onEnd != nil {
		c.onEnd(result)
	}
	close(s.done)
}

// Stop asks the running session to end. It does not wait for the pump; use
// [Controller.Wait] for that. Calling Stop outside a session is a no-op.
func (c *Controller) Stop() {
	c.mu.Lock()
	if c.state != StatePlaying && c.state != StatePaused {
		c.mu.Unlock()
		return
	}
	s := c.cur
	c.state = StateEnding
	c.mu.Unlock()

	s.requestStop()
	s.gate.clear()
	s.live.do(func() {
		c.player.Stop()
		// Wake a pump blocked on a full output buffer.
		if err := c.out.Stop(); err != nil && !errors.Is(err, audio.ErrClosed) {
			c.log.Warn("stop audio output", "session_id", s.id, "err", err)
		}
	})
}

// Pause toggles the pause flag of the running session and reports whether
// the session is now paused. Two calls in a row resume playback.
func (c *Controller) Pause() (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.state {
	case StatePlaying, StatePaused:
	default:
		return false, ErrNotPlaying
	}
	paused := c.cur.gate.toggle()
	if paused {
		c.state = StatePaused
	} else {
		c.state = StatePlaying
	}
	return paused, nil
}

// Done returns a channel that is closed when the current or last session has
// fully torn down. Without any session the channel is already closed.
func (c *Controller) Done() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cur == nil {
		return closedChan
	}
	return c.cur.done
}

var closedChan = func() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}()

// Wait blocks until the current session has torn down or ctx is done.
func (c *Controller) Wait(ctx context.Context) error {
	select {
	case <-c.Done():
		return nil
	case <-ctx.Done():
		return fmt.Errorf("playback: wait: %w", ctx.Err())
	}
}

// Err returns the fault that ended the last session, if any.
func (c *Controller) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fault
}

// Reset acknowledges a fault and returns the controller to idle. It is a
// no-op unless the controller is faulted.
func (c *Controller) Reset() error {
	c.opMu.Lock()
	defer c.opMu.Unlock()
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	if c.state == StateFaulted {
		c.state = StateIdle
		c.fault = nil
	}
	return nil
}

// Close stops any running session, waits for its teardown bounded by ctx,
// then frees the decode engine and closes the output. A pump still running
// when ctx expires keeps its resources; Close then returns the context error
// and leaves the engine open.
func (c *Controller) Close(ctx context.Context) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	c.Stop()
	if err := c.Wait(ctx); err != nil {
		return err
	}

	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()

	return errors.Join(c.player.Close(), c.closeOutput())
}

func (c *Controller) closeOutput() error {
	if err := c.out.Close(); err != nil && !errors.Is(err, audio.ErrClosed) {
		return fmt.Errorf("playback: close output: %w", err)
	}
	return nil
}

// ── Transport ───────────────────────────────────────────────────────────────

// active returns nil while a session is playing or paused.
func (c *Controller) active() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case c.closed:
		return ErrClosed
	case c.state == StatePlaying || c.state == StatePaused:
		return nil
	default:
		return ErrNotPlaying
	}
}

// Seek moves playback to the pattern position containing t and returns it.
func (c *Controller) Seek(t time.Duration) (int, error) {
	if err := c.active(); err != nil {
		return 0, err
	}
	return c.player.SeekTime(t)
}

// SetPosition jumps to order position n.
func (c *Controller) SetPosition(n int) (int, error) {
	if err := c.active(); err != nil {
		return 0, err
	}
	return c.player.SetPosition(n)
}

// NextPosition skips to the next order position.
func (c *Controller) NextPosition() (int, error) {
	if err := c.active(); err != nil {
		return 0, err
	}
	return c.player.NextPosition()
}

// PrevPosition skips to the previous order position.
func (c *Controller) PrevPosition() (int, error) {
	if err := c.active(); err != nil {
		return 0, err
	}
	return c.player.PrevPosition()
}

// Restart jumps back to the start of the module.
func (c *Controller) Restart() error {
	if err := c.active(); err != nil {
		return err
	}
	return c.player.Restart()
}

// ChannelMute changes or queries the mute state of a channel and returns
// the previous state.
func (c *Controller) ChannelMute(ch int, state engine.MuteState) (bool, error) {
	if err := c.active(); err != nil {
		return false, err
	}
	return c.player.ChannelMute(ch, state)
}

// ChannelVolume changes or queries the volume of a channel and returns the
// previous volume.
func (c *Controller) ChannelVolume(ch, vol int) (int, error) {
	if err := c.active(); err != nil {
		return 0, err
	}
	return c.player.ChannelVolume(ch, vol)
}

// InjectEvent plays ev on channel ch at the next tick.
func (c *Controller) InjectEvent(ch int, ev engine.Event) error {
	if err := c.active(); err != nil {
		return err
	}
	return c.player.InjectEvent(ch, ev)
}

// SetVolume sets the master volume. It applies to the running session, if
// any, and to every later session.
func (c *Controller) SetVolume(v int) error {
	if v < 0 || v > engine.MaxVolume {
		return fmt.Errorf("playback: volume %d: %w", v, engine.ErrInvalidArgument)
	}
	if err := c.active(); err == nil {
		if err := c.player.SetVolume(v); err != nil {
			return err
		}
	} else if errors.Is(err, ErrClosed) {
		return err
	}
	c.volume.Store(int32(v))
	return nil
}

// Volume returns the master volume.
func (c *Controller) Volume() int {
	return int(c.volume.Load())
}

// SetLoop changes whether sessions loop when the module wraps around. It
// takes effect at the next frame.
func (c *Controller) SetLoop(loop bool) {
	c.loop.Store(loop)
}

// Loop reports whether sessions loop.
func (c *Controller) Loop() bool {
	return c.loop.Load()
}

// ── Telemetry ───────────────────────────────────────────────────────────────

// Snapshot returns the last published frame, or nil before the first frame
// of a session.
func (c *Controller) Snapshot() *Snapshot {
	return c.snap.load()
}

// Time returns the playback time of the last frame.
func (c *Controller) Time() time.Duration {
	if s := c.snap.load(); s != nil {
		return s.Time
	}
	return 0
}

// Speed returns the replay speed in ticks per row.
func (c *Controller) Speed() int {
	if s := c.snap.load(); s != nil {
		return s.Speed
	}
	return 0
}

// BPM returns the replay tempo.
func (c *Controller) BPM() int {
	if s := c.snap.load(); s != nil {
		return s.BPM
	}
	return 0
}

// Position returns the order position of the last frame.
func (c *Controller) Position() int {
	if s := c.snap.load(); s != nil {
		return s.Position
	}
	return 0
}

// Pattern returns the pattern number of the last frame.
func (c *Controller) Pattern() int {
	if s := c.snap.load(); s != nil {
		return s.Pattern
	}
	return 0
}

// Row returns the pattern row of the last frame.
func (c *Controller) Row() int {
	if s := c.snap.load(); s != nil {
		return s.Row
	}
	return 0
}

// IsPaused reports whether the running session is paused.
func (c *Controller) IsPaused() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == StatePaused
}

// State returns the lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Module returns the metadata of the module of the current or last session.
func (c *Controller) Module() (engine.Module, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cur == nil {
		return engine.Module{}, false
	}
	return c.cur.module, true
}

// SessionID returns the ID of the current or last session.
func (c *Controller) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cur == nil {
		return ""
	}
	return c.cur.id
}

// LastResult returns the result of the last finished session.
func (c *Controller) LastResult() (SessionResult, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.last == nil {
		return SessionResult{}, false
	}
	return *c.last, true
}

// Formats lists the module formats the engine can load.
func (c *Controller) Formats() []string {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return nil
	}
	return c.player.Formats()
}

// Status is a point-in-time summary of the controller for display.
type Status struct {
	State     State
	SessionID string
	Path      string
	Module    string
	Type      string
	Volume    int
	Loop      bool
	Frame     *Snapshot
}

// Status returns a summary of the controller's state and the last frame.
func (c *Controller) Status() Status {
	c.mu.Lock()
	st := Status{State: c.state}
	if c.cur != nil {
		st.SessionID = c.cur.id
		st.Path = c.cur.path
		st.Module = c.cur.module.Name
		st.Type = c.cur.module.Type
	}
	c.mu.Unlock()
	st.Volume = c.Volume()
	st.Loop = c.Loop()
	// A frame published by an earlier session is not shown for this one.
	if f := c.snap.load(); f != nil && f.SessionID == st.SessionID {
		st.Frame = f
	}
	return st
}
