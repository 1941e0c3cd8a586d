package marketdata

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// CacheKey builds the cache key for a symbol and timeframe.
func CacheKey(symbol string, tf Timeframe) string {
	return fmt.Sprintf("%s:%s", symbol, tf)
}

type cacheEntry struct {
	result    *MarketDataResult
	expiresAt time.Time
	timeframe Timeframe
}

// Cache holds fetched results per (symbol, timeframe) with per-timeframe
// TTLs. Only success results are stored. Safe for concurrent use.
type Cache struct {
	mu   sync.Mutex
	data map[string]*cacheEntry
	now  func() time.Time

	hits   int64
	misses int64
}

// NewCache creates an empty cache.
func NewCache() *Cache {
	return &Cache{
		data: make(map[string]*cacheEntry),
		now:  time.Now,
	}
}

// Get returns a copy of the fresh entry for (symbol, tf) with the cached
// flags set, or nil when the entry is absent or expired. Expired entries
// are removed on lookup.
func (c *Cache) Get(symbol string, tf Timeframe) *MarketDataResult {
	key := CacheKey(symbol, tf)

	c.mu.Lock()
	defer c.mu.Unlock()

	entry, exists := c.data[key]
	if !exists {
		c.misses++
		return nil
	}
	if !c.now().Before(entry.expiresAt) {
		delete(c.data, key)
		c.misses++
		return nil
	}
	c.hits++

	out := *entry.result
	out.Data = append([]OHLCBar(nil), entry.result.Data...)
	out.Cached = true
	expires := entry.expiresAt
	out.CacheExpiresAt = &expires
	return &out
}

// Set stores a success result under (symbol, tf) for the timeframe's TTL.
// Failure results are ignored.
func (c *Cache) Set(symbol string, tf Timeframe, result *MarketDataResult) {
	if result == nil || !result.Success {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.data[CacheKey(symbol, tf)] = &cacheEntry{
		result:    result,
		expiresAt: c.now().Add(tf.CacheTTL()),
		timeframe: tf,
	}
}

// Invalidate removes the entry for (symbol, tf) if present.
func (c *Cache) Invalidate(symbol string, tf Timeframe) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.data, CacheKey(symbol, tf))
}

// InvalidateSymbol removes every entry whose key begins with "symbol:" and
// returns the number removed.
func (c *Cache) InvalidateSymbol(symbol string) int {
	prefix := symbol + ":"

	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for key := range c.data {
		if strings.HasPrefix(key, prefix) {
			delete(c.data, key)
			removed++
		}
	}
	return removed
}

// Clear removes every entry.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data = make(map[string]*cacheEntry)
}

// Size returns the number of stored entries including any not yet pruned.
func (c *Cache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.data)
}

// Contains reports whether a fresh entry exists for (symbol, tf).
func (c *Cache) Contains(symbol string, tf Timeframe) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, exists := c.data[CacheKey(symbol, tf)]
	return exists && c.now().Before(entry.expiresAt)
}

// Stats reports cumulative hit and miss counts.
func (c *Cache) Stats() (hits, misses int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses
}
