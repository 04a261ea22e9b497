// Package audio defines the output side of the player: the interfaces an audio
// device implements and the PCM format it is opened with.
//
// The two primary abstractions are:
//
//   - [Device] reports the minimum buffer it needs for a [Format] and opens
//     an [Output] stream.
//   - [Output] is one open stream. [Output.Write] blocks until the device has
//     room for the data, which paces the decoder to real time.
//
// Implementations live in sub-packages: otodevice (hardware output through
// oto), wavfile (offline render to a WAV file), nulldevice (a headless device
// that consumes audio at the real-time rate) and mock (for tests).
package audio

import (
	"context"
	"errors"
	"fmt"
)

// Encoding is the sample encoding of a PCM stream.
type Encoding int

const (
	// EncodingS16LE is signed 16-bit little-endian PCM.
	EncodingS16LE Encoding = iota

	// EncodingU8 is unsigned 8-bit PCM.
	EncodingU8
)

// String returns the human-readable name of the encoding.
func (e Encoding) String() string {
	switch e {
	case EncodingS16LE:
		return "s16le"
	case EncodingU8:
		return "u8"
	default:
		return fmt.Sprintf("Encoding(%d)", int(e))
	}
}

// BytesPerSample returns the size of one sample of one channel.
func (e Encoding) BytesPerSample() int {
	if e == EncodingU8 {
		return 1
	}
	return 2
}

// Silence returns the byte value of a silent sample.
func (e Encoding) Silence() byte {
	if e == EncodingU8 {
		return 0x80
	}
	return 0
}

// Format describes the sample rate, channel count and encoding of an
// interleaved PCM stream.
type Format struct {
	SampleRate int
	Channels   int
	Encoding   Encoding
}

// FrameSize returns the size in bytes of one sample frame (one sample for
// every channel).
func (f Format) FrameSize() int {
	return f.Channels * f.Encoding.BytesPerSample()
}

// ByteRate returns the number of bytes consumed per second.
func (f Format) ByteRate() int {
	return f.SampleRate * f.FrameSize()
}

// Validate reports whether f can be opened.
func (f Format) Validate() error {
	var errs []error
	if f.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("audio: sample rate must be positive, got %d", f.SampleRate))
	}
	if f.Channels != 1 && f.Channels != 2 {
		errs = append(errs, fmt.Errorf("audio: channels must be 1 or 2, got %d", f.Channels))
	}
	if f.Encoding != EncodingS16LE && f.Encoding != EncodingU8 {
		errs = append(errs, fmt.Errorf("audio: unknown encoding %s", f.Encoding))
	}
	return errors.Join(errs...)
}

// String returns a compact description like "44100Hz/2ch/s16le".
func (f Format) String() string {
	return fmt.Sprintf("%dHz/%dch/%s", f.SampleRate, f.Channels, f.Encoding)
}

// MinBufferBytes is the smallest output buffer [Open] will request.
const MinBufferBytes = 4096

var (
	// ErrClosed is returned by operations on a closed [Output].
	ErrClosed = errors.New("audio: output closed")

	// ErrStopped is returned by [Output.Write] while the output is stopped.
	ErrStopped = errors.New("audio: output stopped")
)

// Device is an audio output device.
type Device interface {
	// MinBufferSize returns the smallest buffer in bytes the device accepts
	// for f.
	MinBufferSize(f Format) (int, error)

	// Open opens a stream with a buffer of bufferBytes. The stream starts
	// stopped.
	Open(f Format, bufferBytes int) (Output, error)
}

// Output is one open PCM stream.
//
// Write may be called from one goroutine while Play, Stop and Close are
// called from another.
type Output interface {
	// Play starts (or resumes) consumption of written audio.
	Play() error

	// Stop halts playback, discards buffered audio and wakes a blocked
	// Write, which then returns [ErrStopped].
	Stop() error

	// Write queues p, blocking until all of it fits in the buffer.
	Write(p []byte) (int, error)

	// Close releases the stream. Further calls return [ErrClosed].
	Close() error
}

// Drainer is implemented by outputs that hold audio ahead of the device.
// Drain blocks until everything written so far has been played. It returns
// [ErrStopped] when Stop cuts it short, [ErrClosed] on a closed output, or
// the context error.
type Drainer interface {
	Drain(ctx context.Context) error
}

// Open opens an output on dev with a buffer of at least [MinBufferBytes] and
// at least the device's own minimum for f. It returns the output and the
// buffer size that was requested.
func Open(dev Device, f Format) (Output, int, error) {
	if err := f.Validate(); err != nil {
		return nil, 0, err
	}
	size, err := dev.MinBufferSize(f)
	if err != nil {
		return nil, 0, fmt.Errorf("audio: min buffer size for %s: %w", f, err)
	}
	size = max(size, MinBufferBytes)
	out, err := dev.Open(f, size)
	if err != nil {
		return nil, 0, fmt.Errorf("audio: open %s: %w", f, err)
	}
	return out, size, nil
}
