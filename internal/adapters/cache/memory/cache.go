package memory

import (
	"context"
	"sync"
	"time"

	"github.com/fxsync/ratesync/internal/core/domain"
)

// Cache is an in-process private read-cache with a defined construct/teardown
// lifecycle, injected into its owning service rather than accessed as a
// global. Entries are kept past their logical TTL, up to the stale-retention
// bound, so stale-serve can still answer when the canonical store is down.
type Cache struct {
	mu             sync.RWMutex
	entries        map[string]domain.CacheEntry
	staleRetention time.Duration
	now            func() time.Time
}

// NewCache creates an empty cache. Entries older than ttl+staleRetention are
// evicted on access.
func NewCache(staleRetention time.Duration) *Cache {
	return &Cache{
		entries:        make(map[string]domain.CacheEntry),
		staleRetention: staleRetention,
		now:            time.Now,
	}
}

// Get returns the entry for a key, expired or not.
func (c *Cache) Get(_ context.Context, key string) (*domain.CacheEntry, bool, error) {
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}

	if c.now().After(entry.StoredAt.Add(entry.TTL + c.staleRetention)) {
		c.mu.Lock()
		delete(c.entries, key)
		c.mu.Unlock()
		return nil, false, nil
	}
	return &entry, true, nil
}

// Set stores a snapshot under the key with the given logical TTL.
func (c *Cache) Set(_ context.Context, key string, record domain.RateRecord, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = domain.CacheEntry{
		Record:   record,
		StoredAt: c.now(),
		TTL:      ttl,
	}
	return nil
}

// Delete drops the given keys unconditionally.
func (c *Cache) Delete(_ context.Context, keys ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, key := range keys {
		delete(c.entries, key)
	}
	return nil
}

// Len reports the number of live entries, for tests and health reporting.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// SetClock overrides the time source, for tests.
func (c *Cache) SetClock(now func() time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}
