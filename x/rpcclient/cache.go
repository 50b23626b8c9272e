package rpcclient

import (
	"encoding/json"
	"sync"
	"time"
)

type cacheEntry struct {
	value     json.RawMessage
	fetchedAt time.Time
	ttl       time.Duration
}

// ttlCache is an in-memory result cache keyed by canonical (method, params).
// Entries expire by TTL; Sweep drops expired entries to bound memory.
type ttlCache struct {
	mu      sync.Mutex
	entries map[string]cacheEntry
	now     func() time.Time
}

func newTTLCache(now func() time.Time) *ttlCache {
	if now == nil {
		now = time.Now
	}
	return &ttlCache{
		entries: make(map[string]cacheEntry),
		now:     now,
	}
}

// Get returns the cached value if it is still within the TTL the caller
// requested for this read.
func (c *ttlCache) Get(key string, ttl time.Duration) (json.RawMessage, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if c.now().Sub(entry.fetchedAt) >= ttl {
		return nil, false
	}
	return entry.value, true
}

func (c *ttlCache) Set(key string, value json.RawMessage, ttl time.Duration) {
	c.mu.Lock()
	c.entries[key] = cacheEntry{value: value, fetchedAt: c.now(), ttl: ttl}
	c.mu.Unlock()
}

// Sweep removes entries older than the TTL they were stored with and
// returns how many were dropped.
func (c *ttlCache) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	dropped := 0
	for key, entry := range c.entries {
		if now.Sub(entry.fetchedAt) >= entry.ttl {
			delete(c.entries, key)
			dropped++
		}
	}
	return dropped
}

func (c *ttlCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
