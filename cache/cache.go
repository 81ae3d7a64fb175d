// Package cache provides a TTL cache for upstream API responses, tagged by
// entry type and repository so either axis can be invalidated independently
// (e.g. a push webhook invalidates all "pull-request" entries for one repo
// without touching "issue" entries or other repos). Adapted from
// app/shared/validation/cache.go's ValidationCache, generalized from a
// single global instance keyed by validation-options-string to a
// multi-dimensional store keyed by (entryType, repo, key).
package cache

import (
	"sync"
	"time"
)

// entry stores one cached value alongside its expiration and tag
// dimensions.
type entry struct {
	value     any
	expiresAt time.Time
	entryType string
	repo      string
}

func (e *entry) expired(now time.Time) bool {
	return now.After(e.expiresAt)
}

// Cache is a thread-safe TTL cache keyed by an opaque string, where each
// entry also carries an entryType and repo tag used for bulk invalidation.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]*entry
	enabled bool
}

// New creates a Cache. When enabled is false, Get always misses and Set is
// a no-op, the same on/off switch ValidationCache exposes via
// Enable/Disable.
func New(enabled bool) *Cache {
	return &Cache{entries: make(map[string]*entry), enabled: enabled}
}

// Get retrieves a cached value by key, reporting a miss if absent, expired,
// or the cache is disabled.
func (c *Cache) Get(key string) (any, bool) {
	if !c.enabled {
		return nil, false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.entries[key]
	if !ok || e.expired(time.Now()) {
		return nil, false
	}
	return e.value, true
}

// Set stores value under key, tagged with entryType and repo for later
// invalidation, expiring after ttl.
func (c *Cache) Set(key, entryType, repo string, value any, ttl time.Duration) {
	if !c.enabled {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = &entry{
		value:     value,
		expiresAt: time.Now().Add(ttl),
		entryType: entryType,
		repo:      repo,
	}
}

// Invalidate drops a single entry by key, a no-op if absent.
func (c *Cache) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// InvalidateType drops every entry tagged with entryType, across all repos,
// returning how many were removed.
func (c *Cache) InvalidateType(entryType string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for k, e := range c.entries {
		if e.entryType == entryType {
			delete(c.entries, k)
			n++
		}
	}
	return n
}

// InvalidateTypeForRepo drops every entry tagged with both entryType and
// repo, matching spec.md §4.B's invalidate-type(t, o, r) contract (a type
// purge scoped to one repository, not every repository).
func (c *Cache) InvalidateTypeForRepo(entryType, repo string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for k, e := range c.entries {
		if e.entryType == entryType && e.repo == repo {
			delete(c.entries, k)
			n++
		}
	}
	return n
}

// InvalidateRepo drops every entry tagged with repo, across all types,
// returning how many were removed.
func (c *Cache) InvalidateRepo(repo string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for k, e := range c.entries {
		if e.repo == repo {
			delete(c.entries, k)
			n++
		}
	}
	return n
}

// Clear removes every entry.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*entry)
}

// ClearExpired removes all expired entries, meant to run on an interval.
func (c *Cache) ClearExpired() {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now()
	for k, e := range c.entries {
		if e.expired(now) {
			delete(c.entries, k)
		}
	}
}

func (c *Cache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func (c *Cache) Enable() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.enabled = true
}

func (c *Cache) Disable() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.enabled = false
	c.entries = make(map[string]*entry)
}

// StartCleanup runs ClearExpired on interval until stopCh is closed, the
// same ticker/select shape as validation.StartCacheCleanup.
func (c *Cache) StartCleanup(interval time.Duration, stopCh <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.ClearExpired()
		case <-stopCh:
			return
		}
	}
}
