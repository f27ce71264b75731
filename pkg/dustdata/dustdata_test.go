package dustdata

import (
	"os"
	"sort"
	"testing"
)

func keysEqual(t *testing.T, got, want []string) {
	t.Helper()
	sort.Strings(got)
	sort.Strings(want)
	if len(got) != len(want) {
		t.Fatalf("keys = %v, want %v", got, want)
	}
	for i := range got {
		if got[i] != want[i] {
			t.Fatalf("keys = %v, want %v", got, want)
		}
	}
}

func TestInsertGet(t *testing.T) {
	h, err := Open(t.TempDir(), DefaultFlushThreshold)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer h.Close()

	if err := h.Insert("k1", []byte("v1")); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}

	got, err := h.Get("k1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if string(got) != "v1" {
		t.Errorf("Get() = %q, want v1", got)
	}
}

func TestInsertDuplicateRejected(t *testing.T) {
	h, err := Open(t.TempDir(), DefaultFlushThreshold)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer h.Close()

	if err := h.Insert("k1", []byte("v1")); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}
	if err := h.Insert("k1", []byte("v2")); err != ErrKeyExists {
		t.Fatalf("Insert() error = %v, want ErrKeyExists", err)
	}
}

func TestUpdateMissingRejected(t *testing.T) {
	h, err := Open(t.TempDir(), DefaultFlushThreshold)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer h.Close()

	if err := h.Update("missing", []byte("v")); err != ErrKeyNotExists {
		t.Fatalf("Update() error = %v, want ErrKeyNotExists", err)
	}
}

func TestDeleteIdempotence(t *testing.T) {
	h, err := Open(t.TempDir(), DefaultFlushThreshold)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer h.Close()

	if err := h.Insert("k1", []byte("v1")); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}
	if err := h.Delete("k1"); err != nil {
		t.Fatalf("first Delete() error = %v", err)
	}
	if err := h.Delete("k1"); err != ErrKeyNotExists {
		t.Fatalf("second Delete() error = %v, want ErrKeyNotExists", err)
	}
}

func TestListKeysAcrossFlush(t *testing.T) {
	h, err := Open(t.TempDir(), DefaultFlushThreshold)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer h.Close()

	for _, k := range []string{"a", "b", "c"} {
		if err := h.Insert(k, []byte(k)); err != nil {
			t.Fatalf("Insert(%q) error = %v", k, err)
		}
	}

	keys, err := h.ListKeys()
	if err != nil {
		t.Fatalf("ListKeys() error = %v", err)
	}
	keysEqual(t, keys, []string{"a", "b", "c"})

	if err := h.Flush(); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}

	keys, err = h.ListKeys()
	if err != nil {
		t.Fatalf("ListKeys() after flush error = %v", err)
	}
	keysEqual(t, keys, []string{"a", "b", "c"})
}

func TestFlushThresholdTriggersAutoFlush(t *testing.T) {
	h, err := Open(t.TempDir(), 4) // tiny threshold, forces immediate flush
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer h.Close()

	if err := h.Insert("k1", []byte("value-bigger-than-threshold")); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}

	h.mu.Lock()
	staged := len(h.staged)
	h.mu.Unlock()
	if staged != 0 {
		t.Errorf("expected staged writes to be flushed, got %d still staged", staged)
	}
}

func TestDropRemovesDirectory(t *testing.T) {
	dir := t.TempDir()
	h, err := Open(dir, DefaultFlushThreshold)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if err := h.Insert("k1", []byte("v1")); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}
	if err := h.Drop(); err != nil {
		t.Fatalf("Drop() error = %v", err)
	}
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Errorf("expected %s to be removed, Stat() error = %v", dir, err)
	}
}
