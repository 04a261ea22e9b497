package otodevice

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/modplay/pkg/audio"
)

// newRing returns an output without an oto player, for exercising the ring
// buffer through Read and Write only.
func newRing(size int, silence byte) *output {
	o := &output{ring: make([]byte, size), silence: silence}
	o.cond = sync.NewCond(&o.mu)
	return o
}

func TestMinBufferSize(t *testing.T) {
	t.Parallel()

	d := New(WithLatency(100 * time.Millisecond))
	got, err := d.MinBufferSize(audio.Format{SampleRate: 44100, Channels: 2})
	if err != nil {
		t.Fatal(err)
	}
	// 4410 frames * 4 bytes.
	if got != 17640 {
		t.Errorf("MinBufferSize = %d, want 17640", got)
	}
	if _, err := d.MinBufferSize(audio.Format{}); err == nil {
		t.Error("expected error for zero format")
	}
}

func TestOutput_ReadPadsWithSilence(t *testing.T) {
	t.Parallel()

	o := newRing(8, 0x80)
	if _, err := o.Write([]byte{1, 2, 3}); err != nil {
		t.Fatal(err)
	}
	p := make([]byte, 6)
	n, err := o.Read(p)
	if err != nil || n != 6 {
		t.Fatalf("Read = %d, %v", n, err)
	}
	if want := []byte{1, 2, 3, 0x80, 0x80, 0x80}; !bytes.Equal(p, want) {
		t.Errorf("Read = %v, want %v", p, want)
	}
}

func TestOutput_WrapsAround(t *testing.T) {
	t.Parallel()

	o := newRing(4, 0)
	_, _ = o.Write([]byte{1, 2, 3})
	_, _ = o.Read(make([]byte, 2))
	_, _ = o.Write([]byte{4, 5, 6})

	p := make([]byte, 4)
	_, _ = o.Read(p)
	if want := []byte{3, 4, 5, 6}; !bytes.Equal(p, want) {
		t.Errorf("Read = %v, want %v", p, want)
	}
}

func TestOutput_WriteBlocksUntilRead(t *testing.T) {
	t.Parallel()

	o := newRing(4, 0)
	done := make(chan error, 1)
	go func() {
		_, err := o.Write([]byte{1, 2, 3, 4, 5, 6})
		done <- err
	}()

	select {
	case <-done:
		t.Fatal("Write returned before the ring had room")
	case <-time.After(20 * time.Millisecond):
	}

	_, _ = o.Read(make([]byte, 4))
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Write: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Write still blocked after Read")
	}
}

func TestOutput_StopWakesWriter(t *testing.T) {
	t.Parallel()

	o := newRing(2, 0)
	done := make(chan error, 1)
	go func() {
		_, err := o.Write([]byte{1, 2, 3, 4})
		done <- err
	}()
	time.Sleep(10 * time.Millisecond)

	o.mu.Lock()
	o.stopped = true
	o.cond.Broadcast()
	o.mu.Unlock()

	select {
	case err := <-done:
		if !errors.Is(err, audio.ErrStopped) {
			t.Fatalf("Write error = %v, want ErrStopped", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Write not woken by stop")
	}
}

func TestOutput_DrainWaitsForRing(t *testing.T) {
	t.Parallel()

	o := newRing(8, 0)
	_, _ = o.Write([]byte{1, 2, 3, 4})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- o.Drain(ctx) }()

	// Partial reads leave audio queued.
	_, _ = o.Read(make([]byte, 2))
	select {
	case err := <-done:
		t.Fatalf("Drain returned %v with audio still queued", err)
	case <-time.After(20 * time.Millisecond):
	}

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("Drain error = %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Drain not woken by cancel")
	}
}

func TestOutput_DrainCutShort(t *testing.T) {
	t.Parallel()

	o := newRing(8, 0)
	_, _ = o.Write([]byte{1, 2, 3, 4})
	done := make(chan error, 1)
	go func() { done <- o.Drain(context.Background()) }()
	time.Sleep(10 * time.Millisecond)

	o.mu.Lock()
	o.stopped = true
	o.cond.Broadcast()
	o.mu.Unlock()

	select {
	case err := <-done:
		if !errors.Is(err, audio.ErrStopped) {
			t.Fatalf("Drain error = %v, want ErrStopped", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Drain not woken by stop")
	}

	o.mu.Lock()
	o.closed = true
	o.mu.Unlock()
	if err := o.Drain(context.Background()); !errors.Is(err, audio.ErrClosed) {
		t.Errorf("Drain on closed output = %v, want ErrClosed", err)
	}
}
