package playback

import (
	"testing"
	"time"
)

func TestLiveness_DropsCallsAfterEnd(t *testing.T) {
	t.Parallel()

	var l liveness
	ran := 0
	if !l.do(func() { ran++ }) || ran != 1 {
		t.Fatal("do before end did not run")
	}
	ended := false
	l.end(func() { ended = true })
	if !ended {
		t.Fatal("end did not run its func")
	}
	if l.do(func() { ran++ }) || ran != 1 {
		t.Error("do after end ran")
	}
}

func TestLiveness_EndWaitsForRunningCall(t *testing.T) {
	t.Parallel()

	var l liveness
	entered := make(chan struct{})
	release := make(chan struct{})
	go l.do(func() {
		close(entered)
		<-release
	})
	<-entered

	ended := make(chan struct{})
	go l.end(func() { close(ended) })
	select {
	case <-ended:
		t.Fatal("end ran while a call was in flight")
	case <-time.After(20 * time.Millisecond):
	}

	close(release)
	select {
	case <-ended:
	case <-time.After(2 * time.Second):
		t.Fatal("end did not run after the call returned")
	}
}
