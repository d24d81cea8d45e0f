package cache

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/cratedocs/proxy/internal/logging"
)

// envelope is the on-disk format. Expiry and kind travel with the payload
// so a reader can validate freshness without a separate index lookup.
type envelope struct {
	Kind       Op        `json:"kind"`
	InsertedAt time.Time `json:"inserted_at"`
	ExpiresAt  time.Time `json:"expires_at"`
	Payload    []byte    `json:"payload"`
}

type diskMeta struct {
	expiresAt time.Time
	size      int64
}

// Disk is the persistent tier: one file per key, addressed by the xxhash
// digest of the cache key so restarts preserve the cache. Budget is
// enforced oldest-expiry-first; disk entries are not touched on read, so
// access recency is not available as an eviction signal.
type Disk struct {
	dir      string
	maxBytes int64

	mu       sync.Mutex
	index    map[string]diskMeta // filename → meta
	curBytes int64

	evictions atomic.Int64
}

// NewDisk opens (or creates) the disk tier rooted at dir and rebuilds the
// in-memory index from the files found there. Corrupt files are removed.
func NewDisk(dir string, maxBytes int64) (*Disk, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	if maxBytes <= 0 {
		maxBytes = 512 << 20
	}

	d := &Disk{
		dir:      dir,
		maxBytes: maxBytes,
		index:    make(map[string]diskMeta),
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	for _, de := range entries {
		name := de.Name()
		if de.IsDir() || !strings.HasSuffix(name, ".cache") {
			continue
		}
		env, size, ok := d.readEnvelope(name)
		if !ok {
			d.discard(name)
			continue
		}
		d.index[name] = diskMeta{expiresAt: env.ExpiresAt, size: size}
		d.curBytes += size
	}

	return d, nil
}

// Get returns the entry for key if present and unexpired. Corrupt or
// unreadable files are removed and read as misses; that recovery never
// surfaces to the caller.
func (d *Disk) Get(key Key, now time.Time) (*Entry, bool) {
	name := key.Filename()

	d.mu.Lock()
	defer d.mu.Unlock()

	meta, ok := d.index[name]
	if !ok {
		return nil, false
	}
	if now.After(meta.expiresAt) {
		d.remove(name)
		return nil, false
	}

	env, _, ok := d.readEnvelope(name)
	if !ok {
		logging.Warn("removing corrupt cache entry",
			zap.String("file", name),
			zap.String("key", key.String()),
		)
		d.remove(name)
		return nil, false
	}
	if now.After(env.ExpiresAt) {
		d.remove(name)
		return nil, false
	}

	return &Entry{
		Payload:    env.Payload,
		Kind:       env.Kind,
		InsertedAt: env.InsertedAt,
		ExpiresAt:  env.ExpiresAt,
		Size:       int64(len(env.Payload)),
	}, true
}

// Put persists an entry, then evicts oldest-expiry-first entries until the
// byte budget holds. Entries larger than the whole budget are rejected.
func (d *Disk) Put(key Key, e *Entry) error {
	data, err := json.Marshal(envelope{
		Kind:       e.Kind,
		InsertedAt: e.InsertedAt,
		ExpiresAt:  e.ExpiresAt,
		Payload:    e.Payload,
	})
	if err != nil {
		return err
	}
	if int64(len(data)) > d.maxBytes {
		return nil
	}

	name := key.Filename()

	d.mu.Lock()
	defer d.mu.Unlock()

	if err := atomicWrite(filepath.Join(d.dir, name), data); err != nil {
		return err
	}

	if old, ok := d.index[name]; ok {
		d.curBytes -= old.size
	}
	d.index[name] = diskMeta{expiresAt: e.ExpiresAt, size: int64(len(data))}
	d.curBytes += int64(len(data))

	for d.curBytes > d.maxBytes {
		victim := d.oldestExpiry()
		if victim == "" {
			break
		}
		d.remove(victim)
		d.evictions.Add(1)
	}
	return nil
}

// Remove deletes the entry for key, no-op if absent.
func (d *Disk) Remove(key Key) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.remove(key.Filename())
}

// Purge deletes every entry.
func (d *Disk) Purge() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for name := range d.index {
		d.remove(name)
	}
}

// SweepExpired removes entries past their expiry and returns how many.
func (d *Disk) SweepExpired(now time.Time) int {
	d.mu.Lock()
	defer d.mu.Unlock()

	removed := 0
	for name, meta := range d.index {
		if now.After(meta.expiresAt) {
			d.remove(name)
			removed++
		}
	}
	return removed
}

// Contains reports whether an entry is indexed under the given file name.
func (d *Disk) Contains(name string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.index[name]
	return ok
}

// Len returns the current entry count.
func (d *Disk) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.index)
}

// Bytes returns the current stored bytes (envelope size, not just payload).
func (d *Disk) Bytes() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.curBytes
}

// Evictions returns the number of budget evictions so far.
func (d *Disk) Evictions() int64 {
	return d.evictions.Load()
}

// readEnvelope loads and decodes a stored file. Must not assume the file is
// well-formed: a partial write or manual tampering reads as !ok.
func (d *Disk) readEnvelope(name string) (*envelope, int64, bool) {
	data, err := os.ReadFile(filepath.Join(d.dir, name))
	if err != nil {
		return nil, 0, false
	}
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, 0, false
	}
	if env.Kind == "" || env.ExpiresAt.IsZero() {
		return nil, 0, false
	}
	return &env, int64(len(data)), true
}

// remove drops a file and its index entry. Must be called with mu held.
func (d *Disk) remove(name string) {
	if meta, ok := d.index[name]; ok {
		d.curBytes -= meta.size
		delete(d.index, name)
	}
	os.Remove(filepath.Join(d.dir, name))
}

// discard removes a file that never made it into the index.
func (d *Disk) discard(name string) {
	logging.Warn("removing unreadable cache file", zap.String("file", name))
	os.Remove(filepath.Join(d.dir, name))
}

// oldestExpiry returns the indexed file with the earliest expiry. Must be
// called with mu held.
func (d *Disk) oldestExpiry() string {
	var (
		victim string
		oldest time.Time
	)
	for name, meta := range d.index {
		if victim == "" || meta.expiresAt.Before(oldest) {
			victim = name
			oldest = meta.expiresAt
		}
	}
	return victim
}

// atomicWrite writes data to a file atomically using tmp+fsync+rename.
func atomicWrite(path string, data []byte) error {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}

	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}

	return os.Rename(tmp, path)
}
