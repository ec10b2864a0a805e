package narration

import (
	"context"
	"sync"
)

var _ Cache = (*MemoryCache)(nil)

// MemoryCache is an in-process Cache. It is intended for tests and
// single-instance deployments.
type MemoryCache struct {
	mu        sync.Mutex
	entries   map[string]Entry
	byProfile map[string]map[string]struct{}
}

// NewMemoryCache returns an empty MemoryCache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{
		entries:   make(map[string]Entry),
		byProfile: make(map[string]map[string]struct{}),
	}
}

// Lookup implements Cache.
func (c *MemoryCache) Lookup(_ context.Context, key string) (Entry, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	return cloneEntry(e), ok, nil
}

// Store implements Cache.
func (c *MemoryCache) Store(_ context.Context, e Entry) (Entry, bool, error) {
	if err := e.validate(); err != nil {
		return Entry{}, false, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.entries[e.Key]; ok {
		return cloneEntry(existing), false, nil
	}
	e = cloneEntry(e)
	c.entries[e.Key] = e
	idx, ok := c.byProfile[e.ProfileID]
	if !ok {
		idx = make(map[string]struct{})
		c.byProfile[e.ProfileID] = idx
	}
	idx[e.Key] = struct{}{}
	return cloneEntry(e), true, nil
}

// DeleteProfile implements Cache.
func (c *MemoryCache) DeleteProfile(_ context.Context, profileID string) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	idx := c.byProfile[profileID]
	for key := range idx {
		delete(c.entries, key)
	}
	delete(c.byProfile, profileID)
	return len(idx), nil
}

// Len returns the number of cached entries.
func (c *MemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func cloneEntry(e Entry) Entry {
	if e.Similarity != nil {
		s := *e.Similarity
		e.Similarity = &s
	}
	return e
}
