// Package cache implements the bounded in-memory read cache: a
// fingerprint ("database:key") to BSON-value mapping with FIFO-style
// eviction ordered by insertion time.
package cache

import (
	"errors"
	"sync"
	"time"

	"github.com/rustbase/rustbase/pkg/metrics"
)

// ErrKeyExists is returned by Insert when the fingerprint is already
// cached.
var ErrKeyExists = errors.New("cache: fingerprint already present")

// ErrCacheFull is returned by Insert when a single entry is larger than
// the cache's entire budget, so eviction alone cannot make room for it.
var ErrCacheFull = errors.New("cache: entry too large for cache")

// ErrNotFound is returned by Remove when the fingerprint is absent.
var ErrNotFound = errors.New("cache: fingerprint not found")

type entry struct {
	value      []byte
	size       int
	insertTime time.Time
	pinned     bool
}

// Cache is a bounded-size map of recently read values, safe for concurrent
// use. get does not bump insertion order: eviction order is insertion
// order, not access order.
type Cache struct {
	mu          sync.RWMutex
	maxSize     int
	currentSize int
	entries     map[string]*entry
	order       []string // fingerprints in insertion order
}

// New creates a Cache with the given byte budget.
func New(maxSize int) *Cache {
	return &Cache{
		maxSize: maxSize,
		entries: make(map[string]*entry),
	}
}

// Fingerprint builds the cache key for a database and key pair.
func Fingerprint(database, key string) string {
	return database + ":" + key
}

// Insert adds value under fingerprint f. It evicts the oldest non-pinned
// entries until there is room; if the entry alone is larger than the
// cache's total budget, it is rejected with ErrCacheFull.
func (c *Cache) Insert(f string, value []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.entries[f]; ok {
		return ErrKeyExists
	}

	size := len(value)
	if size > c.maxSize {
		return ErrCacheFull
	}

	for c.currentSize+size > c.maxSize {
		if !c.evictOldestLocked() {
			return ErrCacheFull
		}
	}

	c.entries[f] = &entry{
		value:      value,
		size:       size,
		insertTime: time.Now(),
	}
	c.order = append(c.order, f)
	c.currentSize += size
	metrics.CacheBytesInUse.Set(float64(c.currentSize))
	return nil
}

// evictOldestLocked removes the oldest non-pinned entry. Caller must hold
// c.mu. Returns false if nothing could be evicted.
func (c *Cache) evictOldestLocked() bool {
	for i, f := range c.order {
		e, ok := c.entries[f]
		if !ok {
			continue
		}
		if e.pinned {
			continue
		}
		delete(c.entries, f)
		c.order = append(c.order[:i:i], c.order[i+1:]...)
		c.currentSize -= e.size
		metrics.CacheEvictionsTotal.Inc()
		return true
	}
	return false
}

// Get returns a copy of the value stored under f, without affecting
// eviction order.
func (c *Cache) Get(f string) ([]byte, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.entries[f]
	if !ok {
		return nil, false
	}
	out := make([]byte, len(e.value))
	copy(out, e.value)
	return out, true
}

// Remove deletes the entry for f. It is idempotent-ish: removing an
// absent fingerprint returns ErrNotFound rather than panicking.
func (c *Cache) Remove(f string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[f]
	if !ok {
		return ErrNotFound
	}

	delete(c.entries, f)
	c.currentSize -= e.size
	for i, of := range c.order {
		if of == f {
			c.order = append(c.order[:i:i], c.order[i+1:]...)
			break
		}
	}
	metrics.CacheBytesInUse.Set(float64(c.currentSize))
	return nil
}

// Size returns the current total number of bytes held by the cache.
func (c *Cache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.currentSize
}

// Len returns the number of entries currently cached.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
