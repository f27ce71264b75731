// Package router owns the per-database storage handles and the root data
// directory they live under. It is the only component that opens or
// removes a dustdata.Handle.
package router

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/rustbase/rustbase/pkg/dustdata"
	"github.com/rustbase/rustbase/pkg/log"
	"github.com/rustbase/rustbase/pkg/metrics"
)

// DefaultDatabase is the reserved system store name. It always exists and
// is never exposed to user queries.
const DefaultDatabase = "_default"

// Router maps database names to open storage handles.
type Router struct {
	mu             sync.RWMutex
	root           string
	flushThreshold int64
	handles        map[string]*dustdata.Handle

	// removed tracks names whose on-disk subtree is being asynchronously
	// deleted, so a reference to the name behaves as though it doesn't
	// exist even while the background removal is still running.
	removed map[string]struct{}
}

// New creates a Router rooted at root. Call Initialize before use.
func New(root string, flushThreshold int64) *Router {
	return &Router{
		root:           root,
		flushThreshold: flushThreshold,
		handles:        make(map[string]*dustdata.Handle),
		removed:        make(map[string]struct{}),
	}
}

// Initialize scans root for existing database subdirectories and opens a
// handle for each, always opening _default even if its subdirectory
// doesn't exist yet. Opening _default is fatal; a failure to open any
// other database is reported and the database is skipped.
func (r *Router) Initialize() error {
	if err := os.MkdirAll(r.root, 0o755); err != nil {
		return fmt.Errorf("router: create root: %w", err)
	}

	entries, err := os.ReadDir(r.root)
	if err != nil {
		return fmt.Errorf("router: scan root: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	names := map[string]struct{}{DefaultDatabase: {}}
	for _, e := range entries {
		if e.IsDir() {
			names[e.Name()] = struct{}{}
		}
	}

	for name := range names {
		h, err := dustdata.Open(filepath.Join(r.root, name), r.flushThreshold)
		if err != nil {
			if name == DefaultDatabase {
				return fmt.Errorf("router: open system store: %w", err)
			}
			log.Errorf(fmt.Sprintf("router: open database %q, skipping", name), err)
			continue
		}
		r.handles[name] = h
	}
	r.updateOpenGaugeLocked()

	return nil
}

// updateOpenGaugeLocked refreshes the open-databases gauge, excluding the
// system store. Caller must hold r.mu.
func (r *Router) updateOpenGaugeLocked() {
	n := len(r.handles)
	if _, ok := r.handles[DefaultDatabase]; ok {
		n--
	}
	metrics.DatabasesOpen.Set(float64(n))
}

// Get returns the handle for name, if already open.
func (r *Router) Get(name string) (*dustdata.Handle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handles[name]
	return h, ok
}

// GetOrCreate returns the handle for name, opening it lazily on first use.
func (r *Router) GetOrCreate(name string) (*dustdata.Handle, error) {
	r.mu.RLock()
	h, ok := r.handles[name]
	r.mu.RUnlock()
	if ok {
		return h, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if h, ok := r.handles[name]; ok {
		return h, nil
	}

	h, err := dustdata.Open(filepath.Join(r.root, name), r.flushThreshold)
	if err != nil {
		return nil, fmt.Errorf("router: open %q: %w", name, err)
	}
	delete(r.removed, name)
	r.handles[name] = h
	r.updateOpenGaugeLocked()
	return h, nil
}

// Remove drops the in-memory handle for name and asynchronously deletes
// its on-disk subtree so the caller is not blocked.
func (r *Router) Remove(name string) error {
	r.mu.Lock()
	h, ok := r.handles[name]
	if ok {
		delete(r.handles, name)
	}
	r.removed[name] = struct{}{}
	r.updateOpenGaugeLocked()
	r.mu.Unlock()

	if !ok {
		return nil
	}

	go func() {
		_ = h.Drop()
	}()
	return nil
}

// Names lists every open database name, excluding _default.
func (r *Router) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.handles))
	for name := range r.handles {
		if name == DefaultDatabase {
			continue
		}
		names = append(names, name)
	}
	return names
}

// FlushAll flushes every open handle.
func (r *Router) FlushAll() error {
	r.mu.RLock()
	handles := make([]*dustdata.Handle, 0, len(r.handles))
	for _, h := range r.handles {
		handles = append(handles, h)
	}
	r.mu.RUnlock()

	var firstErr error
	for _, h := range handles {
		if err := h.Flush(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// CloseAll flushes and closes every open handle. Used on shutdown.
func (r *Router) CloseAll() error {
	r.mu.Lock()
	handles := r.handles
	r.handles = make(map[string]*dustdata.Handle)
	r.updateOpenGaugeLocked()
	r.mu.Unlock()

	var firstErr error
	for _, h := range handles {
		if err := h.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
