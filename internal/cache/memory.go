package cache

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/simplelru"
)

// Memory is the in-process tier: an LRU bounded by both entry count and a
// total byte budget, whichever is reached first.
type Memory struct {
	mu         sync.Mutex
	lru        *simplelru.LRU[string, *Entry]
	maxEntries int
	maxBytes   int64
	curBytes   int64
	evicting   bool // true while Put is making room, so onEvict can tell
	evictions  atomic.Int64
}

// NewMemory creates the memory tier with the given capacity limits.
func NewMemory(maxEntries int, maxBytes int64) *Memory {
	if maxEntries <= 0 {
		maxEntries = 1000
	}
	if maxBytes <= 0 {
		maxBytes = 64 << 20
	}
	m := &Memory{
		maxEntries: maxEntries,
		maxBytes:   maxBytes,
	}
	// simplelru only errors on a non-positive size
	m.lru, _ = simplelru.NewLRU[string, *Entry](maxEntries, m.onEvict)
	return m
}

// onEvict keeps the byte gauge in sync for every removal path (evictions,
// explicit removes, purges). Runs with mu held.
func (m *Memory) onEvict(_ string, e *Entry) {
	m.curBytes -= e.Size
	if m.evicting {
		m.evictions.Add(1)
	}
}

// Get returns the entry for key if present and unexpired. A hit marks the
// entry most-recently-used; an expired entry is removed and reads as a miss.
func (m *Memory) Get(key string, now time.Time) (*Entry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.lru.Get(key)
	if !ok {
		return nil, false
	}
	if e.Expired(now) {
		m.lru.Remove(key)
		return nil, false
	}
	return e, true
}

// Put inserts an entry, evicting least-recently-used entries until it fits.
// An entry larger than the whole byte budget is rejected rather than
// evicting everything. Returns whether the entry was stored.
func (m *Memory) Put(key string, e *Entry) bool {
	if e.Size > m.maxBytes {
		return false
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	// Replace-on-refresh: drop the old entry first so its bytes are freed.
	m.lru.Remove(key)

	m.evicting = true
	for m.lru.Len() > 0 && (m.curBytes+e.Size > m.maxBytes || m.lru.Len() >= m.maxEntries) {
		m.lru.RemoveOldest()
	}
	m.evicting = false

	m.lru.Add(key, e)
	m.curBytes += e.Size
	return true
}

// Remove deletes an entry, no-op if absent.
func (m *Memory) Remove(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lru.Remove(key)
}

// Purge drops every entry. Not counted as evictions.
func (m *Memory) Purge() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lru.Purge()
}

// SweepExpired removes entries past their expiry and returns how many.
func (m *Memory) SweepExpired(now time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for _, key := range m.lru.Keys() {
		if e, ok := m.lru.Peek(key); ok && e.Expired(now) {
			m.lru.Remove(key)
			removed++
		}
	}
	return removed
}

// Entries returns the key and payload size of every live entry.
func (m *Memory) Entries() map[string]int64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[string]int64, m.lru.Len())
	for _, key := range m.lru.Keys() {
		if e, ok := m.lru.Peek(key); ok {
			out[key] = e.Size
		}
	}
	return out
}

// Len returns the current entry count.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lru.Len()
}

// Bytes returns the current total payload bytes.
func (m *Memory) Bytes() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.curBytes
}

// Evictions returns the number of capacity evictions so far.
func (m *Memory) Evictions() int64 {
	return m.evictions.Load()
}
