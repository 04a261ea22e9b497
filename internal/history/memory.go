package history

import (
	"context"
	"sync"
)

var _ Store = (*MemoryStore)(nil)

// MemoryStore keeps the most recent entries in memory.
type MemoryStore struct {
	mu      sync.Mutex
	limit   int
	entries []Entry // oldest first
	ids     map[string]struct{}
	closed  bool
}

// NewMemoryStore returns a store that keeps at most limit entries. limit <= 0
// keeps everything.
func NewMemoryStore(limit int) *MemoryStore {
	return &MemoryStore{limit: limit, ids: make(map[string]struct{})}
}

// Record implements [Store].
func (s *MemoryStore) Record(_ context.Context, e Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if _, dup := s.ids[e.ID]; dup {
		return nil
	}
	s.entries = append(s.entries, e)
	s.ids[e.ID] = struct{}{}
	if s.limit > 0 && len(s.entries) > s.limit {
		drop := len(s.entries) - s.limit
		for _, old := range s.entries[:drop] {
			delete(s.ids, old.ID)
		}
		s.entries = append(s.entries[:0:0], s.entries[drop:]...)
	}
	return nil
}

// Recent implements [Store].
func (s *MemoryStore) Recent(_ context.Context, limit int) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	n := len(s.entries)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]Entry, 0, n)
	for i := len(s.entries) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, s.entries[i])
	}
	return out, nil
}

// Ping implements [Store].
func (s *MemoryStore) Ping(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	return nil
}

// Close implements [Store].
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	s.closed = true
	s.entries = nil
	s.mu.Unlock()
	return nil
}
