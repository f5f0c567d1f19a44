// Package cache bounds how many mmap'd TransportViews a governor holds open
// at once: each mapping costs a file descriptor and address space, so the
// governor caches a fixed number and evicts the least recently used,
// unmapping on eviction.
package cache

import (
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rain-io/rain/governor/internal/data"
	"github.com/rain-io/rain/shared"
)

// ViewCache is an LRU of open views keyed by object ID. Callers put every
// view they open through it, memory-backed and empty ones included; only
// mmap views hold a mapping that eviction releases.
type ViewCache struct {
	mu  sync.Mutex
	lru *lru.Cache[shared.DataObjectID, *data.TransportView]
}

// New creates a cache that holds at most capacity open mappings.
func New(capacity int) (*ViewCache, error) {
	c := &ViewCache{}
	l, err := lru.NewWithEvict(capacity, func(_ shared.DataObjectID, v *data.TransportView) {
		v.Close()
	})
	if err != nil {
		return nil, fmt.Errorf("create view cache: %w", err)
	}
	c.lru = l
	return c, nil
}

// Get returns a cached view for id, or opens one by calling open (typically
// data.OpenMmapView against the object's data-dir path) and caches the
// result. The returned view must not be Closed by the caller: the cache
// owns its lifetime until eviction.
func (c *ViewCache) Get(id shared.DataObjectID, open func() (*data.TransportView, error)) (*data.TransportView, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if v, ok := c.lru.Get(id); ok {
		return v, nil
	}
	v, err := open()
	if err != nil {
		return nil, err
	}
	c.lru.Add(id, v)
	return v, nil
}

// Drop evicts id's cached view, if any, closing its mapping.
func (c *ViewCache) Drop(id shared.DataObjectID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Remove(id)
}

// Len reports how many views are currently cached, for tests and metrics.
func (c *ViewCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}
