package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/MrWong99/modplay/internal/library"
	"github.com/MrWong99/modplay/internal/playback"
)

// ErrNoMatch is returned when a play target is neither an existing file nor
// a module in the library.
var ErrNoMatch = errors.New("app: no module matches target")

// SessionInfo holds metadata about the session started by the
// [SessionManager].
type SessionInfo struct {
	// SessionID is the controller's identifier for this session.
	SessionID string

	// Target is what the user asked for: a path or a library query.
	Target string

	// Path is the resolved module file.
	Path string

	// StartedAt is when the session was started.
	StartedAt time.Time
}

// SessionManager starts sessions by file path or library query and keeps a
// queue of targets that are played in order as sessions finish.
// All exported methods are safe for concurrent use.
type SessionManager struct {
	ctrl    *playback.Controller
	catalog func() *library.Catalog
	log     *slog.Logger

	mu     sync.Mutex
	active bool
	info   SessionInfo
	queue  []string
}

// NewSessionManager creates a SessionManager driving ctrl. catalog is used
// to resolve targets that are not files; it may be nil.
func NewSessionManager(ctrl *playback.Controller, catalog func() *library.Catalog, log *slog.Logger) *SessionManager {
	if log == nil {
		log = slog.Default()
	}
	return &SessionManager{ctrl: ctrl, catalog: catalog, log: log}
}

// Resolve turns target into a module path. An existing file wins; otherwise
// the best library match is used.
func (sm *SessionManager) Resolve(target string) (string, error) {
	if fi, err := os.Stat(target); err == nil && !fi.IsDir() {
		return target, nil
	}
	if sm.catalog != nil {
		if m, ok := sm.catalog().Best(target); ok {
			return m.Path, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrNoMatch, target)
}

// Start resolves target and starts a session for it. A running session is
// stopped first, bounded by ctx.
func (sm *SessionManager) Start(ctx context.Context, target string) (SessionInfo, error) {
	path, err := sm.Resolve(target)
	if err != nil {
		return SessionInfo{}, err
	}
	if sm.ctrl.State().Active() {
		sm.ctrl.Stop()
		if err := sm.ctrl.Wait(ctx); err != nil {
			return SessionInfo{}, err
		}
	}
	return sm.play(ctx, target, path)
}

func (sm *SessionManager) play(ctx context.Context, target, path string) (SessionInfo, error) {
	if err := sm.ctrl.Play(ctx, path); err != nil {
		return SessionInfo{}, err
	}
	info := SessionInfo{
		SessionID: sm.ctrl.SessionID(),
		Target:    target,
		Path:      path,
		StartedAt: time.Now(),
	}
	sm.mu.Lock()
	sm.active = true
	sm.info = info
	sm.mu.Unlock()
	return info, nil
}

// Enqueue appends targets to the queue. They are resolved when their turn
// comes, so library matches reflect the catalog at that time.
func (sm *SessionManager) Enqueue(targets ...string) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.queue = append(sm.queue, targets...)
}

// Queue returns the targets waiting to be played.
func (sm *SessionManager) Queue() []string {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return append([]string(nil), sm.queue...)
}

// ClearQueue drops all queued targets.
func (sm *SessionManager) ClearQueue() {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.queue = nil
}

// Stop clears the queue, stops the running session and waits for its
// teardown, bounded by ctx.
func (sm *SessionManager) Stop(ctx context.Context) error {
	sm.ClearQueue()
	sm.ctrl.Stop()
	return sm.ctrl.Wait(ctx)
}

// IsActive reports whether a session started by the manager is running.
func (sm *SessionManager) IsActive() bool {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.active
}

// Info returns the session started last. The boolean is false when no
// session has been started.
func (sm *SessionManager) Info() (SessionInfo, bool) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.info, sm.info.SessionID != ""
}

// finished is called from the controller's session end handler. A session
// that played to its end starts the next queued target.
func (sm *SessionManager) finished(res playback.SessionResult) {
	sm.mu.Lock()
	if res.ID == sm.info.SessionID {
		sm.active = false
	}
	if res.Outcome != playback.OutcomeFinished || len(sm.queue) == 0 {
		sm.mu.Unlock()
		return
	}
	next := sm.queue[0]
	sm.queue = sm.queue[1:]
	sm.mu.Unlock()

	// The handler runs on the pump goroutine; Play must not.
	go sm.advance(next)
}

func (sm *SessionManager) advance(target string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	path, err := sm.Resolve(target)
	if err == nil {
		_, err = sm.play(ctx, target, path)
	}
	if err != nil {
		sm.log.Warn("failed to play queued module", "target", target, "err", err)
		// Skip it and keep the queue moving.
		sm.finished(playback.SessionResult{Outcome: playback.OutcomeFinished})
		return
	}
	sm.log.Info("playing queued module", "target", target, "path", path)
}
