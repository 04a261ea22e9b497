// Package playback runs tracker modules in real time. A [Controller] owns one
// decode [engine.Player] and one [audio.Output]; each call to
// [Controller.Play] starts a session whose pump goroutine decodes frames,
// publishes them as immutable [Snapshot]s and writes their PCM to the output.
//
// The blocking output write is the only pacing mechanism: decode runs exactly
// as fast as the device consumes audio.
package playback

import (
	"errors"
	"time"

	"github.com/MrWong99/modplay/pkg/engine"
)

// Sentinel errors returned by [Controller] methods.
var (
	// ErrSessionActive is returned by Play while another session is running.
	ErrSessionActive = errors.New("playback: a session is already active")

	// ErrNotPlaying is returned by transport controls outside a session.
	ErrNotPlaying = errors.New("playback: no active session")

	// ErrFaulted is returned by Play after an engine fault until Reset is
	// called.
	ErrFaulted = errors.New("playback: controller is faulted")

	// ErrClosed is returned by every method after Close.
	ErrClosed = errors.New("playback: controller is closed")
)

// State is the lifecycle state of a [Controller].
type State int

const (
	StateIdle State = iota
	StateLoading
	StatePlaying
	StatePaused

	// StateEnding means a stop was requested and the pump has not finished
	// its teardown yet.
	StateEnding

	// StateEnded means the last session finished or was stopped and its
	// resources are released. Play is valid again.
	StateEnded

	// StateFaulted means the last session ended with an engine or output
	// fault. Reset must be called before the next Play.
	StateFaulted
)

var stateNames = [...]string{"idle", "loading", "playing", "paused", "ending", "ended", "faulted"}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// Active reports whether s has a running pump.
func (s State) Active() bool {
	return s == StatePlaying || s == StatePaused || s == StateEnding
}

// Outcome describes why a session ended.
type Outcome string

const (
	// OutcomeFinished means the module played to its end.
	OutcomeFinished Outcome = "finished"

	// OutcomeStopped means Stop or Close ended the session.
	OutcomeStopped Outcome = "stopped"

	// OutcomeFaulted means the engine or the output failed.
	OutcomeFaulted Outcome = "faulted"
)

// SessionResult summarises one finished session.
type SessionResult struct {
	ID        string
	Path      string
	Module    engine.Module
	StartedAt time.Time
	EndedAt   time.Time

	// Frames is the number of frames written to the output.
	Frames  int64
	Outcome Outcome

	// Err is set when Outcome is [OutcomeFaulted].
	Err error
}

// Duration is the wall-clock length of the session.
func (r SessionResult) Duration() time.Duration {
	return r.EndedAt.Sub(r.StartedAt)
}
