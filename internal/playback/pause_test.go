package playback

import (
	"testing"
	"time"
)

func TestPauseGate_Toggle(t *testing.T) {
	t.Parallel()

	var g pauseGate
	if g.isPaused() {
		t.Fatal("zero gate is paused")
	}
	if !g.toggle() || !g.isPaused() {
		t.Fatal("first toggle did not pause")
	}
	if g.toggle() || g.isPaused() {
		t.Fatal("second toggle did not resume")
	}
	g.clear()
	if g.isPaused() {
		t.Fatal("clear paused an open gate")
	}
}

func TestPauseGate_WaitOpen(t *testing.T) {
	t.Parallel()

	var g pauseGate
	if !g.wait(make(chan struct{})) {
		t.Error("wait on open gate returned false")
	}
	stop := make(chan struct{})
	close(stop)
	if g.wait(stop) {
		t.Error("wait with closed stop returned true")
	}
}

func TestPauseGate_WaitResumes(t *testing.T) {
	t.Parallel()

	var g pauseGate
	g.toggle()
	done := make(chan bool, 1)
	go func() { done <- g.wait(make(chan struct{})) }()

	select {
	case <-done:
		t.Fatal("wait returned while paused")
	case <-time.After(20 * time.Millisecond):
	}

	g.toggle()
	select {
	case ok := <-done:
		if !ok {
			t.Error("wait returned false after resume")
		}
	case <-time.After(time.Second):
		t.Fatal("wait not woken by resume")
	}
}

func TestPauseGate_StopWhilePaused(t *testing.T) {
	t.Parallel()

	var g pauseGate
	g.toggle()
	stop := make(chan struct{})
	done := make(chan bool, 1)
	go func() { done <- g.wait(stop) }()

	close(stop)
	select {
	case ok := <-done:
		if ok {
			t.Error("wait returned true after stop")
		}
	case <-time.After(time.Second):
		t.Fatal("wait not woken by stop")
	}
	if !g.isPaused() {
		t.Error("stop must not clear the pause flag")
	}
}

func TestPauseGate_RepauseBeforeWake(t *testing.T) {
	t.Parallel()

	var g pauseGate
	g.toggle()
	stop := make(chan struct{})
	done := make(chan bool, 1)
	go func() { done <- g.wait(stop) }()
	time.Sleep(10 * time.Millisecond)

	// Resume and pause again: the waiter must park on the new pause.
	g.toggle()
	g.toggle()
	select {
	case <-done:
		// The waiter may have slipped through the short resume window.
	case <-time.After(20 * time.Millisecond):
		close(stop)
		if ok := <-done; ok {
			t.Error("waiter passed a paused gate")
		}
	}
}
