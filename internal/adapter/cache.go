package adapter

import (
	"sync"
	"time"
)

const (
	priceCacheTTL  = 2 * time.Second
	symbolCacheTTL = time.Hour
)

// priceCache holds one recent full-market price snapshot per market key.
// The TTL is short (2s): it exists to coalesce concurrent callers (fast loop,
// fan-in warm-up) onto one upstream request, not to serve stale data.
type priceCache struct {
	mu      sync.RWMutex
	entries map[string]priceCacheEntry
}

type priceCacheEntry struct {
	prices  map[string]float64
	fetched time.Time
}

func newPriceCache() *priceCache {
	return &priceCache{entries: make(map[string]priceCacheEntry)}
}

func (c *priceCache) get(key string) (map[string]float64, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[key]
	if !ok || time.Since(e.fetched) > priceCacheTTL {
		return nil, false
	}
	return e.prices, true
}

func (c *priceCache) put(key string, prices map[string]float64) {
	c.mu.Lock()
	c.entries[key] = priceCacheEntry{prices: prices, fetched: time.Now()}
	c.mu.Unlock()
}

// symbolCache holds the active-symbol set per market key for ~1h.
type symbolCache struct {
	mu      sync.RWMutex
	entries map[string]symbolCacheEntry
}

type symbolCacheEntry struct {
	symbols map[string]struct{}
	fetched time.Time
}

func newSymbolCache() *symbolCache {
	return &symbolCache{entries: make(map[string]symbolCacheEntry)}
}

func (c *symbolCache) get(key string) (map[string]struct{}, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[key]
	if !ok || time.Since(e.fetched) > symbolCacheTTL {
		return nil, false
	}
	return e.symbols, true
}

func (c *symbolCache) put(key string, symbols map[string]struct{}) {
	c.mu.Lock()
	c.entries[key] = symbolCacheEntry{symbols: symbols, fetched: time.Now()}
	c.mu.Unlock()
}
