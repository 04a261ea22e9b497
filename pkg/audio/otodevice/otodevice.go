// Package otodevice implements [audio.Device] on top of oto, which drives the
// platform's native audio API (ALSA, CoreAudio, WASAPI).
//
// oto allows a single context per process, so a Device opens its context on
// the first call to [Device.Open] and every later Open must use the same
// [audio.Format].
//
// Each [audio.Output] owns a bounded ring buffer. The oto player pulls from
// the ring on its own goroutine; [audio.Output.Write] blocks while the ring is
// full. When the ring runs dry the player is fed silence, so a paused decoder
// never causes an underrun click loop.
package otodevice

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"

	"github.com/MrWong99/modplay/pkg/audio"
)

// Compile-time interface assertions.
var (
	_ audio.Device = (*Device)(nil)
	_ audio.Output  = (*output)(nil)
	_ audio.Drainer = (*output)(nil)
	_ io.Seeker     = (*output)(nil)
)

// defaultLatency is the device buffer duration requested from oto.
const defaultLatency = 50 * time.Millisecond

// Option is a functional option for [New].
type Option func(*Device)

// WithLatency sets the buffer duration oto requests from the platform.
// Defaults to 50ms.
func WithLatency(d time.Duration) Option {
	return func(dev *Device) { dev.latency = d }
}

// WithLogger sets the logger. Defaults to [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(dev *Device) { dev.log = l }
}

// Device is an oto-backed [audio.Device].
type Device struct {
	mu      sync.Mutex
	ctx     *oto.Context
	format  audio.Format
	latency time.Duration
	log     *slog.Logger
}

// New returns a Device. No platform resources are acquired until Open.
func New(opts ...Option) *Device {
	d := &Device{latency: defaultLatency, log: slog.Default()}
	for _, o := range opts {
		o(d)
	}
	return d
}

// MinBufferSize implements [audio.Device]. It returns the number of bytes
// that cover the device latency.
func (d *Device) MinBufferSize(f audio.Format) (int, error) {
	if err := f.Validate(); err != nil {
		return 0, err
	}
	n := int(int64(f.ByteRate()) * int64(d.latency) / int64(time.Second))
	return n - n%f.FrameSize(), nil
}

// Open implements [audio.Device].
func (d *Device) Open(f audio.Format, bufferBytes int) (audio.Output, error) {
	if bufferBytes < f.FrameSize() {
		return nil, fmt.Errorf("otodevice: buffer of %d bytes is smaller than one frame", bufferBytes)
	}
	ctx, err := d.context(f)
	if err != nil {
		return nil, err
	}
	o := &output{
		format:  f,
		ring:    make([]byte, bufferBytes-bufferBytes%f.FrameSize()),
		silence: f.Encoding.Silence(),
		stopped: true,
	}
	o.cond = sync.NewCond(&o.mu)
	o.player = ctx.NewPlayer(o)
	return o, nil
}

func (d *Device) context(f audio.Format) (*oto.Context, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.ctx != nil {
		if f != d.format {
			return nil, fmt.Errorf("otodevice: device already open as %s, cannot reopen as %s", d.format, f)
		}
		return d.ctx, nil
	}

	var of oto.Format
	switch f.Encoding {
	case audio.EncodingS16LE:
		of = oto.FormatSignedInt16LE
	case audio.EncodingU8:
		of = oto.FormatUnsignedInt8
	default:
		return nil, fmt.Errorf("otodevice: unsupported encoding %s", f.Encoding)
	}
	ctx, ready, err := oto.NewContext(&oto.NewContextOptions{
		SampleRate:   f.SampleRate,
		ChannelCount: f.Channels,
		Format:       of,
		BufferSize:   d.latency,
	})
	if err != nil {
		return nil, fmt.Errorf("otodevice: new context: %w", err)
	}
	<-ready
	d.ctx = ctx
	d.format = f
	d.log.Info("otodevice: audio device ready", "format", f.String(), "latency", d.latency)
	return ctx, nil
}

// output is one oto player fed from a ring buffer.
type output struct {
	format  audio.Format
	mu      sync.Mutex
	cond    *sync.Cond
	ring    []byte
	r, n    int
	silence byte
	stopped bool
	closed  bool
	player  *oto.Player
}

// Read is called by oto on its own goroutine. It never blocks and always
// fills p, padding with silence.
func (o *output) Read(p []byte) (int, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	copied := 0
	for copied < len(p) && o.n > 0 {
		end := min(o.r+o.n, len(o.ring))
		c := copy(p[copied:], o.ring[o.r:end])
		copied += c
		o.r = (o.r + c) % len(o.ring)
		o.n -= c
	}
	for i := copied; i < len(p); i++ {
		p[i] = o.silence
	}
	if copied > 0 {
		o.cond.Broadcast()
	}
	return len(p), nil
}

func (o *output) Write(p []byte) (int, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	written := 0
	for written < len(p) {
		for o.n == len(o.ring) && !o.stopped && !o.closed {
			o.cond.Wait()
		}
		switch {
		case o.closed:
			return written, audio.ErrClosed
		case o.stopped:
			return written, audio.ErrStopped
		}
		w := (o.r + o.n) % len(o.ring)
		end := len(o.ring)
		if w < o.r {
			end = o.r
		}
		c := copy(o.ring[w:end], p[written:])
		o.n += c
		written += c
	}
	return written, nil
}

func (o *output) Play() error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return audio.ErrClosed
	}
	o.stopped = false
	o.mu.Unlock()
	o.player.Play()
	return nil
}

func (o *output) Stop() error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return audio.ErrClosed
	}
	o.stopped = true
	o.r, o.n = 0, 0
	o.cond.Broadcast()
	o.mu.Unlock()
	o.player.Pause()
	// Seeking makes oto drop what it already pulled, so the next Play does
	// not start with the tail of this session.
	if _, err := o.player.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("otodevice: discard player buffer: %w", err)
	}
	return nil
}

// Seek lets oto reset its own buffer. The ring has no position to move;
// Stop has already emptied it.
func (o *output) Seek(int64, int) (int64, error) {
	return 0, nil
}

// Drain waits until the ring is empty and then for the audio oto has
// already pulled to reach the speaker.
func (o *output) Drain(ctx context.Context) error {
	wake := context.AfterFunc(ctx, func() {
		o.mu.Lock()
		o.cond.Broadcast()
		o.mu.Unlock()
	})
	defer wake()

	o.mu.Lock()
	for o.n > 0 && !o.stopped && !o.closed && ctx.Err() == nil {
		o.cond.Wait()
	}
	stopped, closed := o.stopped, o.closed
	o.mu.Unlock()
	switch {
	case closed:
		return audio.ErrClosed
	case stopped:
		return audio.ErrStopped
	case ctx.Err() != nil:
		return ctx.Err()
	}

	// oto pads with silence once the ring is dry, so its buffer is bounded
	// by the device latency.
	buffered := time.Duration(o.player.BufferedSize()) * time.Second / time.Duration(o.format.ByteRate())
	t := time.NewTimer(buffered)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (o *output) Close() error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return audio.ErrClosed
	}
	o.closed = true
	o.cond.Broadcast()
	o.mu.Unlock()
	if err := o.player.Close(); err != nil {
		return fmt.Errorf("otodevice: close player: %w", err)
	}
	return nil
}
