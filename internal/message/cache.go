// Package message produces notification bodies: a cached or freshly fetched
// remote-service message for the alert's persona, falling back to a static
// per-persona template on any failure. Resolve never fails visibly — this is
// the correctness backstop for "a notification is always delivered".
package message

import (
	"sync"
	"time"
)

// DefaultTTL is how long a generated message stays cached. Wording for a
// given station/persona pair is not time-sensitive, so the TTL is days.
const DefaultTTL = 72 * time.Hour

type entry struct {
	text      string
	expiresAt time.Time
}

// Cache is a thread-safe in-memory TTL cache keyed by (station, persona).
type Cache struct {
	mu      sync.RWMutex
	entries map[cacheKey]entry
	ttl     time.Duration
	now     func() time.Time
}

type cacheKey struct {
	StationID string
	Persona   string
}

// NewCache creates a cache with the given TTL; ttl <= 0 means DefaultTTL.
func NewCache(ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{
		entries: make(map[cacheKey]entry),
		ttl:     ttl,
		now:     time.Now,
	}
}

// Get returns the cached text for the pair, if present and unexpired.
func (c *Cache) Get(stationID, persona string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[cacheKey{stationID, persona}]
	if !ok || c.now().After(e.expiresAt) {
		return "", false
	}
	return e.text, true
}

// Set stores text for the pair.
func (c *Cache) Set(stationID, persona, text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[cacheKey{stationID, persona}] = entry{
		text:      text,
		expiresAt: c.now().Add(c.ttl),
	}
}

// Sweep removes expired entries and returns how many were evicted. Called by
// the maintenance tickers; the cache stays correct without sweeping, this
// just bounds memory.
func (c *Cache) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	evicted := 0
	for k, e := range c.entries {
		if now.After(e.expiresAt) {
			delete(c.entries, k)
			evicted++
		}
	}
	return evicted
}

// Len returns the number of entries, expired or not.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
