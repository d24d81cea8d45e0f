package cache

import "time"

// Entry is a cached payload plus the bookkeeping needed to validate
// freshness. Entries are immutable once created; a refresh replaces the
// entry under the same key.
type Entry struct {
	Payload    []byte
	Kind       Op
	InsertedAt time.Time
	ExpiresAt  time.Time
	Size       int64
}

// NewEntry creates an entry for a serialized record with a kind-specific TTL.
func NewEntry(payload []byte, kind Op, ttl time.Duration, now time.Time) *Entry {
	return &Entry{
		Payload:    payload,
		Kind:       kind,
		InsertedAt: now,
		ExpiresAt:  now.Add(ttl),
		Size:       int64(len(payload)),
	}
}

// Expired reports whether the entry is past its expiry at the given time.
func (e *Entry) Expired(now time.Time) bool {
	return now.After(e.ExpiresAt)
}
