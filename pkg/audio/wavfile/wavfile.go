// Package wavfile implements an [audio.Device] that renders to a 16-bit PCM
// WAV file instead of a sound card. Writes never block on a clock, so a
// module renders as fast as it decodes.
//
// The file is created by [Device.Open] and its header is finalised by
// [audio.Output.Close]. 8-bit input is widened to 16 bits, and the channel
// count can be changed on the way to disk with [WithChannels].
package wavfile

import (
	"errors"
	"fmt"
	"os"
	"sync"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/MrWong99/modplay/pkg/audio"
)

// Compile-time interface assertions.
var (
	_ audio.Device = (*Device)(nil)
	_ audio.Output = (*output)(nil)
)

const (
	bitDepth      = 16
	wavFormatPCM  = 1
	bytesPerInt16 = 2
)

// Option is a functional option for [New].
type Option func(*Device)

// WithChannels sets the channel count written to the file. Stereo input is
// averaged down to mono and mono input is duplicated to stereo. Defaults to
// the channel count of the opened format.
func WithChannels(n int) Option {
	return func(d *Device) { d.channels = n }
}

// Device renders audio to a WAV file at a fixed path.
type Device struct {
	path     string
	channels int
}

// New returns a Device writing to path.
func New(path string, opts ...Option) (*Device, error) {
	if path == "" {
		return nil, errors.New("wavfile: path must not be empty")
	}
	d := &Device{path: path}
	for _, o := range opts {
		o(d)
	}
	if d.channels != 0 && d.channels != 1 && d.channels != 2 {
		return nil, fmt.Errorf("wavfile: channels must be 1 or 2, got %d", d.channels)
	}
	return d, nil
}

// Path returns the file the device writes to.
func (d *Device) Path() string { return d.path }

// MinBufferSize implements [audio.Device].
func (d *Device) MinBufferSize(audio.Format) (int, error) {
	return audio.MinBufferBytes, nil
}

// Open implements [audio.Device]. It truncates the file.
func (d *Device) Open(f audio.Format, _ int) (audio.Output, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	channels := d.channels
	if channels == 0 {
		channels = f.Channels
	}
	file, err := os.Create(d.path)
	if err != nil {
		return nil, fmt.Errorf("wavfile: create %q: %w", d.path, err)
	}
	return &output{
		file:     file,
		enc:      wav.NewEncoder(file, f.SampleRate, bitDepth, channels, wavFormatPCM),
		in:       f,
		channels: channels,
		stopped:  true,
		buf: &goaudio.IntBuffer{
			Format:         &goaudio.Format{NumChannels: channels, SampleRate: f.SampleRate},
			SourceBitDepth: bitDepth,
		},
	}, nil
}

type output struct {
	mu       sync.Mutex
	file     *os.File
	enc      *wav.Encoder
	in       audio.Format
	channels int
	buf      *goaudio.IntBuffer
	stopped  bool
	closed   bool
}

func (o *output) Play() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return audio.ErrClosed
	}
	o.stopped = false
	return nil
}

func (o *output) Stop() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return audio.ErrClosed
	}
	o.stopped = true
	return nil
}

func (o *output) Write(p []byte) (int, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	switch {
	case o.closed:
		return 0, audio.ErrClosed
	case o.stopped:
		return 0, audio.ErrStopped
	}

	pcm := audio.Remix(audio.ToS16LE(p, o.in.Encoding), o.in.Channels, o.channels)

	n := len(pcm) / bytesPerInt16
	if cap(o.buf.Data) < n {
		o.buf.Data = make([]int, n)
	}
	o.buf.Data = o.buf.Data[:n]
	for i := range n {
		o.buf.Data[i] = int(int16(uint16(pcm[2*i]) | uint16(pcm[2*i+1])<<8))
	}
	if err := o.enc.Write(o.buf); err != nil {
		return 0, fmt.Errorf("wavfile: write: %w", err)
	}
	return len(p), nil
}

func (o *output) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return audio.ErrClosed
	}
	o.closed = true
	encErr := o.enc.Close()
	fileErr := o.file.Close()
	if err := errors.Join(encErr, fileErr); err != nil {
		return fmt.Errorf("wavfile: close: %w", err)
	}
	return nil
}
