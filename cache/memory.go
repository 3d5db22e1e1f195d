// Package cache persists NDC lookup results between runs.
package cache

import (
	"context"
	"sync"

	"github.com/giygas/ndc-report/entities"
	"github.com/giygas/ndc-report/interfaces"
)

var _ interfaces.Cache = (*MemoryCache)(nil)

// MemoryCache keeps entries for the lifetime of the process
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[entities.CanonicalNDC]entities.CacheEntry
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[entities.CanonicalNDC]entities.CacheEntry)}
}

func (c *MemoryCache) Get(_ context.Context, ndc entities.CanonicalNDC) (entities.CacheEntry, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[ndc]
	return e, ok, nil
}

func (c *MemoryCache) Put(_ context.Context, ndc entities.CanonicalNDC, entry entities.CacheEntry) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[ndc] = entry
	return nil
}

func (c *MemoryCache) Flush(context.Context) error {
	return nil
}

// Len returns the number of cached codes
func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
