package playback

import "sync"

// pauseGate is the pump's pause flag. While paused, [pauseGate.wait] parks
// on a channel that is closed on resume, so the pump neither spins nor
// sleeps on a fixed interval.
type pauseGate struct {
	mu     sync.Mutex
	paused bool
	resume chan struct{}
}

// toggle flips the flag and returns the new state.
func (g *pauseGate) toggle() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.paused {
		g.openLocked()
	} else {
		g.paused = true
		g.resume = make(chan struct{})
	}
	return g.paused
}

// clear resumes a paused gate. It is a no-op otherwise.
func (g *pauseGate) clear() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.paused {
		g.openLocked()
	}
}

func (g *pauseGate) openLocked() {
	g.paused = false
	close(g.resume)
	g.resume = nil
}

func (g *pauseGate) isPaused() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.paused
}

// wait blocks while the gate is paused. It returns false if stop was closed
// first.
func (g *pauseGate) wait(stop <-chan struct{}) bool {
	for {
		g.mu.Lock()
		resume := g.resume
		g.mu.Unlock()
		if resume == nil {
			select {
			case <-stop:
				return false
			default:
				return true
			}
		}
		select {
		case <-resume:
		case <-stop:
			return false
		}
	}
}
