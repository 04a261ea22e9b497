// Package nulldevice implements a headless [audio.Device] that discards audio
// at the real-time rate of its format. It lets the player run on machines
// without sound hardware while keeping the decoder paced like a real device.
package nulldevice

import (
	"sync"
	"time"

	"github.com/MrWong99/modplay/pkg/audio"
)

// Compile-time interface assertions.
var (
	_ audio.Device = Device{}
	_ audio.Output = (*output)(nil)
)

// Device is a headless [audio.Device]. The zero value is ready to use.
type Device struct {
	// Unpaced makes writes return immediately instead of sleeping for the
	// duration of the written audio.
	Unpaced bool
}

// MinBufferSize implements [audio.Device].
func (Device) MinBufferSize(audio.Format) (int, error) {
	return audio.MinBufferBytes, nil
}

// Open implements [audio.Device].
func (d Device) Open(f audio.Format, _ int) (audio.Output, error) {
	return &output{byteRate: f.ByteRate(), unpaced: d.Unpaced, stopped: true, wake: make(chan struct{})}, nil
}

// output tracks a virtual play clock: each write moves the clock forward by
// the duration of its data and blocks until wall time catches up.
type output struct {
	mu       sync.Mutex
	byteRate int
	unpaced  bool
	stopped  bool
	closed   bool
	clock    time.Time
	wake     chan struct{}
}

func (o *output) Play() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return audio.ErrClosed
	}
	if o.stopped {
		o.stopped = false
		o.clock = time.Now()
		o.wake = make(chan struct{})
	}
	return nil
}

func (o *output) Stop() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return audio.ErrClosed
	}
	if !o.stopped {
		o.stopped = true
		close(o.wake)
	}
	return nil
}

func (o *output) Write(p []byte) (int, error) {
	o.mu.Lock()
	switch {
	case o.closed:
		o.mu.Unlock()
		return 0, audio.ErrClosed
	case o.stopped:
		o.mu.Unlock()
		return 0, audio.ErrStopped
	}
	now := time.Now()
	if o.clock.Before(now) {
		o.clock = now
	}
	o.clock = o.clock.Add(time.Duration(len(p)) * time.Second / time.Duration(o.byteRate))
	wait := time.Until(o.clock)
	wake := o.wake
	unpaced := o.unpaced
	o.mu.Unlock()

	if unpaced || wait <= 0 {
		return len(p), nil
	}
	t := time.NewTimer(wait)
	defer t.Stop()
	select {
	case <-t.C:
		return len(p), nil
	case <-wake:
		return 0, audio.ErrStopped
	}
}

func (o *output) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return audio.ErrClosed
	}
	if !o.stopped {
		o.stopped = true
		close(o.wake)
	}
	o.closed = true
	return nil
}
