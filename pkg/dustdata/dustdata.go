// Package dustdata is the embedded storage engine backing one database.
// It stands in for the LSM/SSTable library rustbase treats as an external
// collaborator: it exposes get/insert/update/delete/list_keys/flush/
// contains/drop and nothing else. Keys and values are opaque to everyone
// above this package.
package dustdata

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	bolt "go.etcd.io/bbolt"
)

// Sentinel errors surfaced to the storage interface for translation into
// the wire status taxonomy.
var (
	ErrKeyExists    = errors.New("dustdata: key already exists")
	ErrKeyNotExists = errors.New("dustdata: key does not exist")
)

var bucketName = []byte("documents")

// DefaultFlushThreshold is the staged-byte count at which writes are
// flushed to the bolt file when no threshold is configured.
const DefaultFlushThreshold = 24 * 1024 * 1024

// Handle is one opened database file. Handles are safe for concurrent use:
// bbolt serializes writers internally and allows many concurrent readers.
type Handle struct {
	db   *bolt.DB
	path string

	flushThreshold int64

	mu      sync.Mutex
	staged  map[string][]byte
	deleted map[string]struct{}
	dirty   int64
}

// Open opens (creating if necessary) the database rooted at dir/data.db.
func Open(dir string, flushThreshold int64) (*Handle, error) {
	if flushThreshold <= 0 {
		flushThreshold = DefaultFlushThreshold
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("dustdata: create data dir: %w", err)
	}

	db, err := bolt.Open(filepath.Join(dir, "data.db"), 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("dustdata: open: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketName)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("dustdata: init bucket: %w", err)
	}

	return &Handle{
		db:             db,
		path:           dir,
		flushThreshold: flushThreshold,
		staged:         make(map[string][]byte),
		deleted:        make(map[string]struct{}),
	}, nil
}

// Path returns the directory this handle is rooted at.
func (h *Handle) Path() string { return h.path }

// Contains reports whether key exists, checking the staged memtable first.
func (h *Handle) Contains(key string) (bool, error) {
	h.mu.Lock()
	if _, ok := h.staged[key]; ok {
		h.mu.Unlock()
		return true, nil
	}
	if _, ok := h.deleted[key]; ok {
		h.mu.Unlock()
		return false, nil
	}
	h.mu.Unlock()

	found := false
	err := h.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketName).Get([]byte(key))
		found = v != nil
		return nil
	})
	return found, err
}

// Get returns the raw bytes stored for key.
func (h *Handle) Get(key string) ([]byte, error) {
	h.mu.Lock()
	if v, ok := h.staged[key]; ok {
		out := append([]byte(nil), v...)
		h.mu.Unlock()
		return out, nil
	}
	if _, ok := h.deleted[key]; ok {
		h.mu.Unlock()
		return nil, ErrKeyNotExists
	}
	h.mu.Unlock()

	var out []byte
	err := h.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketName).Get([]byte(key))
		if v == nil {
			return ErrKeyNotExists
		}
		out = append([]byte(nil), v...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Insert stores value under key. It is an error for key to already exist.
func (h *Handle) Insert(key string, value []byte) error {
	exists, err := h.Contains(key)
	if err != nil {
		return err
	}
	if exists {
		return ErrKeyExists
	}
	return h.stage(key, value)
}

// Update replaces the value stored under key. It is an error for key not
// to exist.
func (h *Handle) Update(key string, value []byte) error {
	exists, err := h.Contains(key)
	if err != nil {
		return err
	}
	if !exists {
		return ErrKeyNotExists
	}
	return h.stage(key, value)
}

// Delete removes key. It is an error for key not to exist.
func (h *Handle) Delete(key string) error {
	exists, err := h.Contains(key)
	if err != nil {
		return err
	}
	if !exists {
		return ErrKeyNotExists
	}

	h.mu.Lock()
	delete(h.staged, key)
	h.deleted[key] = struct{}{}
	h.mu.Unlock()

	return h.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketName).Delete([]byte(key))
	})
}

// ListKeys enumerates every key in the handle, merging staged writes with
// what has already reached the bolt file.
func (h *Handle) ListKeys() ([]string, error) {
	h.mu.Lock()
	staged := make(map[string]struct{}, len(h.staged))
	for k := range h.staged {
		staged[k] = struct{}{}
	}
	deleted := make(map[string]struct{}, len(h.deleted))
	for k := range h.deleted {
		deleted[k] = struct{}{}
	}
	h.mu.Unlock()

	var keys []string
	err := h.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketName).ForEach(func(k, _ []byte) error {
			ks := string(k)
			if _, gone := deleted[ks]; gone {
				return nil
			}
			keys = append(keys, ks)
			delete(staged, ks)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	for k := range staged {
		keys = append(keys, k)
	}
	return keys, nil
}

// stage buffers a write in the in-memory memtable, flushing to the bolt
// file once the staged byte count crosses flush_threshold.
func (h *Handle) stage(key string, value []byte) error {
	h.mu.Lock()
	h.staged[key] = value
	delete(h.deleted, key)
	h.dirty += int64(len(key) + len(value))
	overThreshold := h.dirty >= h.flushThreshold
	h.mu.Unlock()

	if overThreshold {
		return h.Flush()
	}
	return nil
}

// Flush writes every staged value to the bolt file and clears the
// in-memory memtable.
func (h *Handle) Flush() error {
	h.mu.Lock()
	if len(h.staged) == 0 {
		h.mu.Unlock()
		return nil
	}
	pending := h.staged
	h.staged = make(map[string][]byte)
	h.deleted = make(map[string]struct{})
	h.dirty = 0
	h.mu.Unlock()

	return h.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketName)
		for k, v := range pending {
			if err := b.Put([]byte(k), v); err != nil {
				return err
			}
		}
		return nil
	})
}

// Close flushes pending writes and releases the underlying file handle.
func (h *Handle) Close() error {
	if err := h.Flush(); err != nil {
		return err
	}
	return h.db.Close()
}

// Drop closes the handle and removes its on-disk directory.
func (h *Handle) Drop() error {
	if err := h.db.Close(); err != nil {
		return err
	}
	return os.RemoveAll(h.path)
}
