package rules

import (
	"context"
	"sync"
	"time"
)

type cacheEntry struct {
	conds    []*PushCondition
	cachedAt time.Time
}

// InMemoryConditionCache is a process-local ConditionCache.
// Thread-safe for concurrent access.
type InMemoryConditionCache struct {
	entries map[Pair]cacheEntry
	config  CacheConfig
	now     func() time.Time
	mu      sync.RWMutex
}

// NewInMemoryConditionCache creates an empty in-memory cache.
func NewInMemoryConditionCache(config CacheConfig) *InMemoryConditionCache {
	return &InMemoryConditionCache{
		entries: make(map[Pair]cacheEntry),
		config:  config,
		now:     time.Now,
	}
}

func (c *InMemoryConditionCache) Get(_ context.Context, pair Pair) ([]*PushCondition, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.entries[pair]
	if !ok {
		return nil, false, nil
	}
	if c.config.TTL > 0 && c.now().Sub(e.cachedAt) > c.config.TTL {
		return nil, false, nil
	}
	return cloneConditions(e.conds), true, nil
}

func (c *InMemoryConditionCache) Set(_ context.Context, pair Pair, conds []*PushCondition) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[pair] = cacheEntry{conds: cloneConditions(conds), cachedAt: c.now()}
	return nil
}

func (c *InMemoryConditionCache) Invalidate(_ context.Context, pair Pair) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.entries, pair)
	return nil
}

func (c *InMemoryConditionCache) InvalidateAll(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[Pair]cacheEntry)
	return nil
}

// Len reports the number of cached pairs, expired ones included.
func (c *InMemoryConditionCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// cloneConditions deep-copies conds so callers can not mutate cached state.
func cloneConditions(conds []*PushCondition) []*PushCondition {
	out := make([]*PushCondition, len(conds))
	for i, pc := range conds {
		cp := *pc
		if pc.Value != nil {
			v := *pc.Value
			cp.Value = &v
		}
		out[i] = &cp
	}
	return out
}
