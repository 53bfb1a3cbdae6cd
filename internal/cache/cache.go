// Package cache provides pool info and target snapshot caching.
package cache

import (
	"sync"
	"time"

	"github.com/mrz1836/harvest/internal/chain"
	"github.com/mrz1836/harvest/internal/earning"
)

// DefaultStaleness is the default duration after which cache entries are considered stale.
const DefaultStaleness = 5 * time.Minute

// EntryKind separates what a cache entry holds.
type EntryKind string

// Entry kinds.
const (
	KindPool    EntryKind = "pool"
	KindTargets EntryKind = "targets"
)

// Cache defines the interface for pool snapshot caching operations.
type Cache interface {
	// Get retrieves a cached entry with its age.
	Get(kind EntryKind, slug string) (*PoolCacheEntry, bool, time.Duration)

	// Set stores an entry in the cache.
	Set(entry PoolCacheEntry)

	// IsStale checks if an entry is stale.
	IsStale(kind EntryKind, slug string) bool

	// IsStaleWithDuration checks staleness with custom duration.
	IsStaleWithDuration(kind EntryKind, slug string, staleness time.Duration) bool

	// Delete removes an entry.
	Delete(kind EntryKind, slug string)

	// Clear removes all entries.
	Clear()

	// Size returns the number of entries.
	Size() int

	// GetAllForChain returns every cached entry of a chain.
	GetAllForChain(chainID chain.ID) []PoolCacheEntry

	// Prune removes entries older than maxAge.
	Prune(maxAge time.Duration) int
}

// Compile-time interface check
var _ Cache = (*PoolCache)(nil)

// PoolCache stores pool info and target snapshots keyed by pool slug.
type PoolCache struct {
	mu      sync.RWMutex              `json:"-"`
	Entries map[string]PoolCacheEntry `json:"entries"`

	// Clock defaults to time.Now.
	Clock func() time.Time `json:"-"`
}

// PoolCacheEntry is one cached snapshot.
type PoolCacheEntry struct {
	Kind      EntryKind               `json:"kind"`
	Slug      string                  `json:"slug"`
	Chain     chain.ID                `json:"chain"`
	Pool      *earning.YieldPoolInfo  `json:"pool,omitempty"`
	Targets   []earning.ValidatorInfo `json:"targets,omitempty"`
	UpdatedAt time.Time               `json:"updated_at"`
}

// NewPoolCache creates a new empty pool cache.
func NewPoolCache() *PoolCache {
	return &PoolCache{
		Entries: make(map[string]PoolCacheEntry),
	}
}

// Key generates a cache key for a kind and pool slug.
func Key(kind EntryKind, slug string) string {
	return string(kind) + ":" + slug
}

func (c *PoolCache) now() time.Time {
	if c.Clock != nil {
		return c.Clock()
	}
	return time.Now()
}

// Get retrieves a cached entry.
// Returns the entry, whether it exists, and its age.
func (c *PoolCache) Get(kind EntryKind, slug string) (*PoolCacheEntry, bool, time.Duration) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, exists := c.Entries[Key(kind, slug)]
	if !exists {
		return nil, false, 0
	}
	entry.Targets = append([]earning.ValidatorInfo(nil), entry.Targets...)
	return &entry, true, c.now().Sub(entry.UpdatedAt)
}

// Set stores an entry in the cache.
func (c *PoolCache) Set(entry PoolCacheEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry.UpdatedAt = c.now()
	entry.Targets = append([]earning.ValidatorInfo(nil), entry.Targets...)
	c.Entries[Key(entry.Kind, entry.Slug)] = entry
}

// IsStale checks if an entry is stale based on the default staleness duration.
func (c *PoolCache) IsStale(kind EntryKind, slug string) bool {
	return c.IsStaleWithDuration(kind, slug, DefaultStaleness)
}

// IsStaleWithDuration checks if an entry is stale based on a custom duration.
func (c *PoolCache) IsStaleWithDuration(kind EntryKind, slug string, staleness time.Duration) bool {
	_, exists, age := c.Get(kind, slug)
	if !exists {
		return true
	}
	return age > staleness
}

// Delete removes an entry.
func (c *PoolCache) Delete(kind EntryKind, slug string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.Entries, Key(kind, slug))
}

// Clear removes all entries.
func (c *PoolCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.Entries = make(map[string]PoolCacheEntry)
}

// Size returns the number of entries.
func (c *PoolCache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return len(c.Entries)
}

// GetAllForChain returns every cached entry of a chain.
func (c *PoolCache) GetAllForChain(chainID chain.ID) []PoolCacheEntry {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var entries []PoolCacheEntry
	for _, entry := range c.Entries {
		if entry.Chain == chainID {
			entries = append(entries, entry)
		}
	}
	return entries
}

// Prune removes entries older than the specified duration.
func (c *PoolCache) Prune(maxAge time.Duration) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	cutoff := c.now().Add(-maxAge)

	for key, entry := range c.Entries {
		if entry.UpdatedAt.Before(cutoff) {
			delete(c.Entries, key)
			removed++
		}
	}

	return removed
}
