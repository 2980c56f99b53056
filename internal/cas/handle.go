// Package cas implements the archive handle cache and the chunked
// CAS-payload decoder: the two pieces that sit directly on top of a game
// install's *.cas files.
package cas

import (
	"fmt"
	"sync"

	"golang.org/x/exp/mmap"
	"golang.org/x/sync/singleflight"
)

// HandleCache hands out a shared, memory-mapped io.ReaderAt per archive
// path, opened at most once per process. mmap.ReaderAt has no seek cursor,
// so callers can read concurrently from the same handle without
// coordination; singleflight collapses concurrent first-opens of the same
// path into one open call.
type HandleCache struct {
	mu      sync.Mutex
	handles map[string]*mmap.ReaderAt
	group   singleflight.Group
}

// NewHandleCache returns an empty cache.
func NewHandleCache() *HandleCache {
	return &HandleCache{handles: make(map[string]*mmap.ReaderAt)}
}

// Get returns the cached handle for path, opening it if this is the first
// request for that path.
func (c *HandleCache) Get(path string) (*mmap.ReaderAt, error) {
	c.mu.Lock()
	if h, ok := c.handles[path]; ok {
		c.mu.Unlock()
		return h, nil
	}
	c.mu.Unlock()

	v, err, _ := c.group.Do(path, func() (interface{}, error) {
		c.mu.Lock()
		if h, ok := c.handles[path]; ok {
			c.mu.Unlock()
			return h, nil
		}
		c.mu.Unlock()

		h, err := mmap.Open(path)
		if err != nil {
			return nil, fmt.Errorf("opening archive %q: %w", path, err)
		}
		c.mu.Lock()
		c.handles[path] = h
		c.mu.Unlock()
		return h, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*mmap.ReaderAt), nil
}

// CloseAll closes every handle opened so far. Safe to call once at process
// shutdown (see RegisterAtExit in the root package).
func (c *HandleCache) CloseAll() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var firstErr error
	for path, h := range c.handles {
		if err := h.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("closing archive %q: %w", path, err)
		}
	}
	c.handles = make(map[string]*mmap.ReaderAt)
	return firstErr
}
