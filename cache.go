package main

import (
	"sync"
	"time"
)

type cacheEntry[V any] struct {
	value    V
	storedAt time.Time
}

// TTLCache provides thread-safe caching of values keyed by string
type TTLCache[V any] struct {
	mu      sync.RWMutex
	entries map[string]cacheEntry[V]
	ttl     time.Duration
	now     func() time.Time
}

// NewTTLCache creates a new cache with the specified TTL
func NewTTLCache[V any](ttl time.Duration) *TTLCache[V] {
	return &TTLCache[V]{
		entries: make(map[string]cacheEntry[V]),
		ttl:     ttl,
		now:     time.Now,
	}
}

// Get returns the cached value for key if present and not expired
func (c *TTLCache[V]) Get(key string) (V, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[key]
	if !ok || c.now().Sub(entry.storedAt) > c.ttl {
		var zero V
		return zero, false
	}
	return entry.value, true
}

// Set stores value under key
func (c *TTLCache[V]) Set(key string, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[key] = cacheEntry[V]{value: value, storedAt: c.now()}
}

// Prune drops expired entries and returns how many were removed
func (c *TTLCache[V]) Prune() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for key, entry := range c.entries {
		if c.now().Sub(entry.storedAt) > c.ttl {
			delete(c.entries, key)
			removed++
		}
	}
	return removed
}

// Clear removes all entries from the cache
func (c *TTLCache[V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[string]cacheEntry[V])
}

// Len returns the number of entries, expired or not
func (c *TTLCache[V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return len(c.entries)
}
