// Package mock provides in-memory mock implementations of the [audio.Device]
// and [audio.Output] interfaces for use in unit tests.
//
// All mocks are safe for concurrent use. They record every method call so that
// tests can assert on call counts and written data, and they expose exported
// fields that the test can set to control return values.
//
// Typical usage:
//
//	dev := &mock.Device{}
//	out, _, err := audio.Open(dev, audio.Format{SampleRate: 44100, Channels: 2})
//	...
//	got := dev.Output().Bytes()
//
// An [Output] can be held with [Output.Hold] so that Write blocks the way a
// full hardware buffer would, until [Output.Release], Stop or Close.
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/MrWong99/modplay/pkg/audio"
)

// Compile-time interface assertions.
var (
	_ audio.Device = (*Device)(nil)
	_ audio.Output  = (*Output)(nil)
	_ audio.Drainer = (*Output)(nil)
)

// ─── Device ───────────────────────────────────────────────────────────────────

// Device is a mock implementation of [audio.Device].
// Set the exported Result fields before use; inspect Outputs after.
type Device struct {
	mu sync.Mutex

	// MinBufferSizeResult is returned by MinBufferSize. Defaults to 1024.
	MinBufferSizeResult int

	// MinBufferSizeErr is returned by MinBufferSize.
	MinBufferSizeErr error

	// OpenErr is returned by Open.
	OpenErr error

	// WriteErr is copied into every opened Output.
	WriteErr error

	// Outputs records every output opened, in order.
	Outputs []*Output
}

// MinBufferSize implements [audio.Device].
func (d *Device) MinBufferSize(audio.Format) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.MinBufferSizeErr != nil {
		return 0, d.MinBufferSizeErr
	}
	if d.MinBufferSizeResult == 0 {
		return 1024, nil
	}
	return d.MinBufferSizeResult, nil
}

// Open implements [audio.Device].
func (d *Device) Open(f audio.Format, bufferBytes int) (audio.Output, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.OpenErr != nil {
		return nil, d.OpenErr
	}
	o := &Output{Format: f, BufferBytes: bufferBytes, WriteErr: d.WriteErr}
	o.cond = sync.NewCond(&o.mu)
	d.Outputs = append(d.Outputs, o)
	return o, nil
}

// Output returns the most recently opened output, or nil.
func (d *Device) Output() *Output {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.Outputs) == 0 {
		return nil
	}
	return d.Outputs[len(d.Outputs)-1]
}

// ─── Output ───────────────────────────────────────────────────────────────────

// Output is a mock implementation of [audio.Output] that records everything
// written to it.
type Output struct {
	mu   sync.Mutex
	cond *sync.Cond

	// Format and BufferBytes are the arguments Open was called with.
	Format      audio.Format
	BufferBytes int

	// WriteErr, when set, is returned by every Write.
	WriteErr error

	data    []byte
	writes  int
	held    bool
	playing bool
	stopped bool
	closed  bool

	// CallCountPlay records how many times Play was called.
	CallCountPlay int

	// CallCountStop records how many times Stop was called.
	CallCountStop int

	// CallCountClose records how many times Close was called.
	CallCountClose int

	// CallCountDrain records how many times Drain was called.
	CallCountDrain int
}

func (o *Output) init() {
	if o.cond == nil {
		o.cond = sync.NewCond(&o.mu)
	}
}

// Play implements [audio.Output].
func (o *Output) Play() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.init()
	o.CallCountPlay++
	if o.closed {
		return audio.ErrClosed
	}
	o.playing = true
	o.stopped = false
	return nil
}

// Stop implements [audio.Output].
func (o *Output) Stop() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.init()
	o.CallCountStop++
	if o.closed {
		return audio.ErrClosed
	}
	o.playing = false
	o.stopped = true
	o.cond.Broadcast()
	return nil
}

// Write implements [audio.Output]. It blocks while the output is held.
func (o *Output) Write(p []byte) (int, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.init()
	for o.held && !o.stopped && !o.closed {
		o.cond.Wait()
	}
	switch {
	case o.closed:
		return 0, audio.ErrClosed
	case o.stopped:
		return 0, audio.ErrStopped
	case o.WriteErr != nil:
		return 0, o.WriteErr
	}
	o.data = append(o.data, p...)
	o.writes++
	o.cond.Broadcast()
	return len(p), nil
}

// Close implements [audio.Output].
func (o *Output) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.init()
	o.CallCountClose++
	if o.closed {
		return audio.ErrClosed
	}
	o.closed = true
	o.playing = false
	o.cond.Broadcast()
	return nil
}

// Drain implements [audio.Drainer]. Written data is already "played", so it
// only reports the output state.
func (o *Output) Drain(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.init()
	o.CallCountDrain++
	switch {
	case o.closed:
		return audio.ErrClosed
	case o.stopped:
		return audio.ErrStopped
	}
	return ctx.Err()
}

// Drains returns how many times Drain was called.
func (o *Output) Drains() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.CallCountDrain
}

// Hold makes subsequent writes block until Release.
func (o *Output) Hold() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.init()
	o.held = true
}

// Release unblocks writers held by Hold.
func (o *Output) Release() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.init()
	o.held = false
	o.cond.Broadcast()
}

// Bytes returns a copy of all data written so far.
func (o *Output) Bytes() []byte {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]byte(nil), o.data...)
}

// Writes returns the number of successful Write calls.
func (o *Output) Writes() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.writes
}

// Playing reports whether Play was called more recently than Stop or Close.
func (o *Output) Playing() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.playing
}

// Closed reports whether Close has been called.
func (o *Output) Closed() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.closed
}

// WaitWrites waits until at least n writes have completed or timeout
// elapses. It reports whether n writes were observed.
func (o *Output) WaitWrites(n int, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if o.Writes() >= n {
			return true
		}
		time.Sleep(time.Millisecond)
	}
	return o.Writes() >= n
}
