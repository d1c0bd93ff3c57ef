package geodata

import (
	"sync"
	"sync/atomic"
	"time"
)

// DefaultCacheEntries bounds how many distinct dataset URLs stay resident.
const DefaultCacheEntries = 8

// DatasetCache is a concurrent-safe LRU cache of loaded datasets keyed by
// URL. A zero TTL keeps entries for the life of the process.
type DatasetCache struct {
	mu         sync.RWMutex
	entries    map[string]*datasetCacheEntry
	order      []string // LRU order: front=oldest, back=newest
	maxEntries int
	ttl        time.Duration
	now        func() time.Time
	hits       atomic.Int64
	misses     atomic.Int64
}

type datasetCacheEntry struct {
	ds        *Dataset
	createdAt time.Time
}

// CacheStats contains cache performance statistics.
type CacheStats struct {
	Entries    int      `json:"entries"`
	MaxEntries int      `json:"max_entries"`
	TTLSeconds float64  `json:"ttl_seconds"`
	Hits       int64    `json:"hits"`
	Misses     int64    `json:"misses"`
	HitRate    float64  `json:"hit_rate"`
	URLs       []string `json:"urls"`
}

// NewDatasetCache creates a DatasetCache. maxEntries <= 0 uses
// DefaultCacheEntries.
func NewDatasetCache(maxEntries int, ttl time.Duration) *DatasetCache {
	if maxEntries <= 0 {
		maxEntries = DefaultCacheEntries
	}
	return &DatasetCache{
		entries:    make(map[string]*datasetCacheEntry),
		maxEntries: maxEntries,
		ttl:        ttl,
		now:        time.Now,
	}
}

// Get retrieves a cached dataset. Returns nil on miss or expiration.
func (c *DatasetCache) Get(url string) *Dataset {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[url]
	if !ok {
		c.misses.Add(1)
		return nil
	}

	if c.ttl > 0 && c.now().Sub(entry.createdAt) > c.ttl {
		delete(c.entries, url)
		c.removeFromOrder(url)
		c.misses.Add(1)
		return nil
	}

	c.removeFromOrder(url)
	c.order = append(c.order, url)
	c.hits.Add(1)
	return entry.ds
}

// Put stores a dataset, evicting the least recently used entry if at
// capacity.
func (c *DatasetCache) Put(url string, ds *Dataset) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.entries[url]; ok {
		c.entries[url] = &datasetCacheEntry{ds: ds, createdAt: c.now()}
		c.removeFromOrder(url)
		c.order = append(c.order, url)
		return
	}

	for len(c.entries) >= c.maxEntries && len(c.order) > 0 {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.entries, oldest)
	}

	c.entries[url] = &datasetCacheEntry{ds: ds, createdAt: c.now()}
	c.order = append(c.order, url)
}

// Invalidate drops the entry for url. It reports whether one was present.
func (c *DatasetCache) Invalidate(url string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.entries[url]; !ok {
		return false
	}
	delete(c.entries, url)
	c.removeFromOrder(url)
	return true
}

// Purge drops every entry. Hit and miss counters are kept.
func (c *DatasetCache) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[string]*datasetCacheEntry)
	c.order = nil
}

// Stats returns cache performance statistics.
func (c *DatasetCache) Stats() CacheStats {
	c.mu.RLock()
	entries := len(c.entries)
	urls := append([]string{}, c.order...)
	c.mu.RUnlock()

	hits := c.hits.Load()
	misses := c.misses.Load()

	var hitRate float64
	if total := hits + misses; total > 0 {
		hitRate = float64(hits) / float64(total)
	}

	return CacheStats{
		Entries:    entries,
		MaxEntries: c.maxEntries,
		TTLSeconds: c.ttl.Seconds(),
		Hits:       hits,
		Misses:     misses,
		HitRate:    hitRate,
		URLs:       urls,
	}
}

// removeFromOrder removes a key from the LRU order slice.
func (c *DatasetCache) removeFromOrder(url string) {
	for i, k := range c.order {
		if k == url {
			c.order = append(c.order[:i], c.order[i+1:]...)
			return
		}
	}
}
