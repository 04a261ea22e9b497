package playback

import (
	"sync/atomic"

	"github.com/MrWong99/modplay/pkg/engine"
)

// Snapshot is the published state of one decoded frame. A Snapshot is never
// modified after it is published; readers may keep it for as long as they
// like. The embedded Buffer holds the frame's PCM and is owned by the
// snapshot.
type Snapshot struct {
	// Seq increases by one for every frame published within a session,
	// starting at 1.
	Seq uint64

	// SessionID identifies the session that produced the frame.
	SessionID string

	engine.FrameInfo
}

// snapshotSlot publishes snapshots from the pump to any number of readers.
type snapshotSlot struct {
	p atomic.Pointer[Snapshot]
}

func (s *snapshotSlot) store(snap *Snapshot) { s.p.Store(snap) }

// load returns the latest snapshot or nil before the first frame.
func (s *snapshotSlot) load() *Snapshot { return s.p.Load() }
