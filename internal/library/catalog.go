package library

import (
	"cmp"
	"path/filepath"
	"slices"
	"strings"
	"sync"
)

// Entry is a playable module found by a scan.
type Entry struct {
	// Path is the absolute file path.
	Path string `json:"path"`

	// Title is the module's embedded song name. It may be empty.
	Title string `json:"title"`

	// Format is the tracker format reported by the engine.
	Format string `json:"format"`
}

// Name returns the file name without directory and extension.
func (e Entry) Name() string {
	base := filepath.Base(e.Path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// Match is a search hit.
type Match struct {
	Entry
	Score float64 `json:"score"`
}

// Catalog is an in-memory, concurrently readable set of entries.
type Catalog struct {
	m matcher

	mu      sync.RWMutex
	entries []Entry // sorted by Path
	byPath  map[string]int
}

// NewCatalog returns an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{m: newMatcher(), byPath: map[string]int{}}
}

// Replace swaps the catalog contents for entries and returns the previous
// size.
func (c *Catalog) Replace(entries []Entry) int {
	sorted := slices.Clone(entries)
	slices.SortFunc(sorted, func(a, b Entry) int { return cmp.Compare(a.Path, b.Path) })
	idx := make(map[string]int, len(sorted))
	for i, e := range sorted {
		idx[e.Path] = i
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	prev := len(c.entries)
	c.entries, c.byPath = sorted, idx
	return prev
}

// Len returns the number of entries.
func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// All returns a copy of every entry, sorted by path.
func (c *Catalog) All() []Entry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Clone(c.entries)
}

// Lookup returns the entry for path.
func (c *Catalog) Lookup(path string) (Entry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	i, ok := c.byPath[path]
	if !ok {
		return Entry{}, false
	}
	return c.entries[i], true
}

// Find ranks entries whose title or file name resembles q, best first.
// At most limit matches are returned; limit <= 0 returns all.
func (c *Catalog) Find(q string, limit int) []Match {
	pq := newQuery(q)
	if pq.full == "" {
		return nil
	}

	c.mu.RLock()
	var out []Match
	for _, e := range c.entries {
		best, ok := c.m.score(pq, e.Name())
		if e.Title != "" {
			if s, tok := c.m.score(pq, e.Title); tok && (!ok || s > best) {
				best, ok = s, true
			}
		}
		if ok {
			out = append(out, Match{Entry: e, Score: best})
		}
	}
	c.mu.RUnlock()

	slices.SortStableFunc(out, func(a, b Match) int { return cmp.Compare(b.Score, a.Score) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// Best returns the highest ranked match for q.
func (c *Catalog) Best(q string) (Match, bool) {
	m := c.Find(q, 1)
	if len(m) == 0 {
		return Match{}, false
	}
	return m[0], true
}
