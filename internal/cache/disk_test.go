package cache

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func newTestDisk(t *testing.T, maxBytes int64) *Disk {
	t.Helper()
	d, err := NewDisk(t.TempDir(), maxBytes)
	if err != nil {
		t.Fatalf("NewDisk: %v", err)
	}
	return d
}

func TestDiskPutGet(t *testing.T) {
	now := time.Now()
	d := newTestDisk(t, 1<<20)
	key := MetadataKey("serde", "1.0.0")

	entry := NewEntry([]byte(`{"name":"serde"}`), OpMetadata, time.Hour, now)
	if err := d.Put(key, entry); err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, ok := d.Get(key, now)
	if !ok {
		t.Fatal("expected disk hit")
	}
	if string(got.Payload) != `{"name":"serde"}` {
		t.Errorf("unexpected payload: %s", got.Payload)
	}
	if got.Kind != OpMetadata {
		t.Errorf("expected kind metadata, got %s", got.Kind)
	}
}

func TestDiskSurvivesReopen(t *testing.T) {
	now := time.Now()
	dir := t.TempDir()
	key := CrateDocsKey("tokio", "latest")

	d1, err := NewDisk(dir, 1<<20)
	if err != nil {
		t.Fatalf("NewDisk: %v", err)
	}
	if err := d1.Put(key, NewEntry([]byte("docs"), OpCrateDocs, time.Hour, now)); err != nil {
		t.Fatalf("Put: %v", err)
	}

	d2, err := NewDisk(dir, 1<<20)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	got, ok := d2.Get(key, now)
	if !ok {
		t.Fatal("entry lost across reopen")
	}
	if string(got.Payload) != "docs" {
		t.Errorf("unexpected payload after reopen: %s", got.Payload)
	}
}

func TestDiskExpiredEntryIsMiss(t *testing.T) {
	now := time.Now()
	d := newTestDisk(t, 1<<20)
	key := SearchKey("serde", 10)

	d.Put(key, NewEntry([]byte("results"), OpSearch, time.Second, now))

	if _, ok := d.Get(key, now.Add(time.Minute)); ok {
		t.Fatal("expired entry returned as hit")
	}
	if d.Len() != 0 {
		t.Fatal("expired entry should be removed on read")
	}
}

func TestDiskCorruptEntryRecovered(t *testing.T) {
	now := time.Now()
	dir := t.TempDir()
	d, err := NewDisk(dir, 1<<20)
	if err != nil {
		t.Fatalf("NewDisk: %v", err)
	}
	key := MetadataKey("serde", "latest")
	d.Put(key, NewEntry([]byte("ok"), OpMetadata, time.Hour, now))

	// clobber the stored file
	path := filepath.Join(dir, key.Filename())
	if err := os.WriteFile(path, []byte("not json"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	if _, ok := d.Get(key, now); ok {
		t.Fatal("corrupt entry returned as hit")
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatal("corrupt file should be removed")
	}
	// recovery is local: a fresh put works again
	if err := d.Put(key, NewEntry([]byte("ok2"), OpMetadata, time.Hour, now)); err != nil {
		t.Fatalf("Put after corruption: %v", err)
	}
	if _, ok := d.Get(key, now); !ok {
		t.Fatal("expected hit after re-put")
	}
}

func TestDiskSkipsCorruptFilesOnOpen(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "deadbeefdeadbeef.cache"), []byte("junk"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	d, err := NewDisk(dir, 1<<20)
	if err != nil {
		t.Fatalf("NewDisk: %v", err)
	}
	if d.Len() != 0 {
		t.Fatalf("corrupt file indexed: %d entries", d.Len())
	}
	if _, err := os.Stat(filepath.Join(dir, "deadbeefdeadbeef.cache")); !os.IsNotExist(err) {
		t.Fatal("corrupt file should be removed during open")
	}
}

func TestDiskBudgetEvictsOldestExpiryFirst(t *testing.T) {
	now := time.Now()
	// envelope overhead means three 400-byte payloads overflow 1600 bytes
	d := newTestDisk(t, 1600)

	soon := SearchKey("soon", 10)
	later := SearchKey("later", 10)
	d.Put(soon, NewEntry(make([]byte, 400), OpSearch, time.Minute, now))
	d.Put(later, NewEntry(make([]byte, 400), OpSearch, time.Hour, now))
	d.Put(SearchKey("third", 10), NewEntry(make([]byte, 400), OpSearch, 30*time.Minute, now))

	if d.Bytes() > 1600 {
		t.Fatalf("byte budget exceeded: %d", d.Bytes())
	}
	if _, ok := d.Get(soon, now); ok {
		t.Fatal("expected the entry expiring soonest to be evicted first")
	}
	if _, ok := d.Get(later, now); !ok {
		t.Fatal("expected the entry expiring last to survive")
	}
	if d.Evictions() == 0 {
		t.Error("expected evictions to be counted")
	}
}

func TestDiskSweepExpired(t *testing.T) {
	now := time.Now()
	d := newTestDisk(t, 1<<20)

	d.Put(SearchKey("live", 10), NewEntry([]byte("x"), OpSearch, time.Hour, now))
	d.Put(SearchKey("dead", 10), NewEntry([]byte("y"), OpSearch, time.Second, now))

	removed := d.SweepExpired(now.Add(time.Minute))
	if removed != 1 {
		t.Fatalf("expected 1 removed, got %d", removed)
	}
	if d.Len() != 1 {
		t.Fatalf("expected 1 entry left, got %d", d.Len())
	}
}

func TestDiskPurge(t *testing.T) {
	now := time.Now()
	dir := t.TempDir()
	d, err := NewDisk(dir, 1<<20)
	if err != nil {
		t.Fatalf("NewDisk: %v", err)
	}

	d.Put(SearchKey("a", 10), NewEntry([]byte("x"), OpSearch, time.Hour, now))
	d.Put(SearchKey("b", 10), NewEntry([]byte("y"), OpSearch, time.Hour, now))
	d.Purge()

	if d.Len() != 0 || d.Bytes() != 0 {
		t.Fatalf("purge left %d entries / %d bytes", d.Len(), d.Bytes())
	}
	files, _ := os.ReadDir(dir)
	for _, f := range files {
		t.Errorf("purge left file %s", f.Name())
	}
}

func TestDiskRemoveAbsentIsNoop(t *testing.T) {
	d := newTestDisk(t, 1<<20)
	d.Remove(MetadataKey("ghost", "latest"))
}
