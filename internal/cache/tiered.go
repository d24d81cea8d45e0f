package cache

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/cratedocs/proxy/internal/logging"
)

// FetchFunc produces the serialized record for a key on a cache miss.
type FetchFunc func(ctx context.Context) ([]byte, error)

// Recorder receives cache events for metrics export. Implementations must
// be safe for concurrent use. A nil Recorder disables recording.
type Recorder interface {
	CacheHit(tier string)
	CacheMiss()
	FetchDone(ok bool)
}

// Tiered is the cache orchestrator: memory tier first, then disk with
// promotion, then a single-flight fetch that populates both tiers.
type Tiered struct {
	mem      *Memory
	disk     *Disk
	ttls     map[Op]time.Duration
	flight   singleflight.Group
	recorder Recorder

	hitsMemory     atomic.Int64
	hitsDisk       atomic.Int64
	misses         atomic.Int64
	fetchSuccesses atomic.Int64
	fetchFailures  atomic.Int64

	now func() time.Time
}

// NewTiered creates the orchestrator over the two tiers. ttls maps each
// operation to its entry lifetime; operations without an explicit TTL get
// defaultTTL.
func NewTiered(mem *Memory, disk *Disk, ttls map[Op]time.Duration, recorder Recorder) *Tiered {
	return &Tiered{
		mem:      mem,
		disk:     disk,
		ttls:     ttls,
		recorder: recorder,
		now:      time.Now,
	}
}

const defaultTTL = 5 * time.Minute

func (t *Tiered) ttl(op Op) time.Duration {
	if d, ok := t.ttls[op]; ok && d > 0 {
		return d
	}
	return defaultTTL
}

// GetOrFetch returns the payload for key, serving it from the fastest tier
// that holds a fresh copy. On a miss at most one fetch per key is in
// flight; concurrent callers attach to its result. A cancelled caller
// detaches without cancelling the shared fetch.
func (t *Tiered) GetOrFetch(ctx context.Context, key Key, fetch FetchFunc) ([]byte, error) {
	ks := key.String()
	now := t.now()

	if e, ok := t.mem.Get(ks, now); ok {
		t.hitsMemory.Add(1)
		t.record(func(r Recorder) { r.CacheHit("memory") })
		return clonePayload(e.Payload), nil
	}

	if e, ok := t.disk.Get(key, now); ok {
		t.hitsDisk.Add(1)
		t.record(func(r Recorder) { r.CacheHit("disk") })
		entry := e
		go t.mem.Put(ks, entry) // promote without holding up the caller
		return clonePayload(e.Payload), nil
	}

	t.misses.Add(1)
	t.record(func(r Recorder) { r.CacheMiss() })

	// Detach the flight from this caller's cancellation so the result still
	// reaches concurrent waiters if we go away.
	fetchCtx := context.WithoutCancel(ctx)

	ch := t.flight.DoChan(ks, func() (any, error) {
		payload, err := fetch(fetchCtx)
		if err != nil {
			t.fetchFailures.Add(1)
			t.record(func(r Recorder) { r.FetchDone(false) })
			return nil, err
		}

		e := NewEntry(payload, key.Op, t.ttl(key.Op), t.now())
		if err := t.disk.Put(key, e); err != nil {
			logging.Warn("disk tier write failed",
				zap.String("key", ks),
				zap.Error(err),
			)
		}
		t.mem.Put(ks, e)

		t.fetchSuccesses.Add(1)
		t.record(func(r Recorder) { r.FetchDone(true) })
		return e, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return clonePayload(res.Val.(*Entry).Payload), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Invalidate removes the entry for key from both tiers, no-op if absent.
func (t *Tiered) Invalidate(key Key) {
	t.mem.Remove(key.String())
	t.disk.Remove(key)
}

// ClearAll empties both tiers. Monotonic counters are left untouched; the
// current_* gauges read zero afterwards because they are derived from the
// live tiers.
func (t *Tiered) ClearAll() {
	t.mem.Purge()
	t.disk.Purge()
}

// RunMaintenance sweeps expired entries from both tiers and returns the
// number removed.
func (t *Tiered) RunMaintenance() int {
	now := t.now()
	removed := t.mem.SweepExpired(now) + t.disk.SweepExpired(now)
	if removed > 0 {
		logging.Debug("cache maintenance sweep", zap.Int("removed", removed))
	}
	return removed
}

// Stats returns a snapshot of the orchestrator counters and tier gauges.
func (t *Tiered) Stats() StatsSnapshot {
	entries, bytes := t.gauges()
	return StatsSnapshot{
		HitsMemory:        t.hitsMemory.Load(),
		HitsDisk:          t.hitsDisk.Load(),
		Misses:            t.misses.Load(),
		FetchSuccesses:    t.fetchSuccesses.Load(),
		FetchFailures:     t.fetchFailures.Load(),
		Evictions:         t.mem.Evictions() + t.disk.Evictions(),
		CurrentEntryCount: entries,
		CurrentBytes:      bytes,
	}
}

// SetRecorder attaches a metrics recorder after construction, before the
// cache starts serving. Not safe to call concurrently with GetOrFetch.
func (t *Tiered) SetRecorder(r Recorder) { t.recorder = r }

// Len is the number of live logical entries across both tiers.
func (t *Tiered) Len() int {
	entries, _ := t.gauges()
	return entries
}

// Bytes is the stored bytes across both tiers, counting each logical entry
// once.
func (t *Tiered) Bytes() int64 {
	_, bytes := t.gauges()
	return bytes
}

// gauges counts each logical entry once even when both tiers hold a copy:
// the disk tier in full, plus memory entries with no disk counterpart
// (the disk write failed or the disk copy was evicted).
func (t *Tiered) gauges() (entries int, bytes int64) {
	entries = t.disk.Len()
	bytes = t.disk.Bytes()
	for ks, size := range t.mem.Entries() {
		if !t.disk.Contains(canonicalFilename(ks)) {
			entries++
			bytes += size
		}
	}
	return entries, bytes
}

func (t *Tiered) record(fn func(Recorder)) {
	if t.recorder != nil {
		fn(t.recorder)
	}
}

// clonePayload hands each caller an independent copy so a caller mutating
// its slice never affects cached state.
func clonePayload(p []byte) []byte {
	out := make([]byte, len(p))
	copy(out, p)
	return out
}
