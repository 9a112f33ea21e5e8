// Package alerts implements the alert evaluation paths: the fast price loop,
// the tick-driven complex evaluator, the safety-net sweeper, and the
// historical klines sweep.
package alerts

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"time"

	"alertengine/internal/adapter"
	"alertengine/internal/store"
	"alertengine/pkg/types"
)

// ComplexEntry is one active complex alert prepared for evaluation: the
// threshold and window are extracted from the first condition, and the
// symbol whitelist is canonicalized so tick symbols match exactly.
type ComplexEntry struct {
	Alert        types.Alert
	Threshold    float64 // percent, always positive
	TimeframeSec int64
	Mode         types.AlertForMode
	SymbolSet    map[string]struct{}
}

// InScope reports whether the entry watches the canonical symbol.
func (e *ComplexEntry) InScope(symbol string) bool {
	if e.Mode == types.AlertForAll {
		return adapter.IsUSDTPair(symbol)
	}
	_, ok := e.SymbolSet[symbol]
	return ok
}

// Cache holds the prepared complex alerts, refreshed from the store on an
// interval and on explicit request. Reads are lock-cheap so the tick
// evaluator can consult it on every event.
type Cache struct {
	store    *store.Store
	interval time.Duration
	counters *Counters
	logger   *slog.Logger

	mu      sync.RWMutex
	entries map[string][]ComplexEntry // pair key -> entries
	maxTF   int64
}

// NewCache creates an empty cache; call Refresh or Run to populate it.
func NewCache(st *store.Store, interval time.Duration, counters *Counters, logger *slog.Logger) *Cache {
	return &Cache{
		store:    st,
		interval: interval,
		counters: counters,
		logger:   logger.With("component", "alert_cache"),
		entries:  make(map[string][]ComplexEntry),
	}
}

// Refresh reloads the cache from the store. Unparseable alerts are counted
// and skipped; a store failure leaves the previous cache in place.
func (c *Cache) Refresh(ctx context.Context) error {
	alerts, err := c.store.ActiveComplexAlerts(ctx)
	if err != nil {
		c.counters.StoreErrors.Add(1)
		return err
	}

	entries := make(map[string][]ComplexEntry)
	var maxTF int64
	for _, a := range alerts {
		entry, ok := c.prepare(a)
		if !ok {
			c.counters.InvalidAlerts.Add(1)
			continue
		}
		key := types.PairKey(a.Exchange, a.Market)
		entries[key] = append(entries[key], entry)
		if entry.TimeframeSec > maxTF {
			maxTF = entry.TimeframeSec
		}
	}

	c.mu.Lock()
	c.entries = entries
	c.maxTF = maxTF
	c.mu.Unlock()
	return nil
}

// prepare validates one alert and builds its entry. The first condition
// carries the threshold and window; its absolute value is the threshold so a
// negative "drop" threshold evaluates identically.
func (c *Cache) prepare(a types.Alert) (ComplexEntry, bool) {
	if len(a.Conditions) == 0 {
		c.logger.Warn("complex alert without conditions", "alert", a.ID)
		return ComplexEntry{}, false
	}
	cond := a.Conditions[0]
	tfSec, err := cond.Timeframe.Seconds()
	if err != nil {
		c.logger.Warn("complex alert with unknown timeframe", "alert", a.ID, "timeframe", string(cond.Timeframe))
		return ComplexEntry{}, false
	}
	threshold := math.Abs(cond.Value)
	if threshold <= 0 {
		c.logger.Warn("complex alert with zero threshold", "alert", a.ID)
		return ComplexEntry{}, false
	}

	mode := types.AlertForWhitelist
	if a.NotificationOptions != nil && a.NotificationOptions.AlertForMode == types.AlertForAll {
		mode = types.AlertForAll
	}

	set := make(map[string]struct{}, len(a.Symbols))
	for _, s := range a.Symbols {
		set[adapter.NormalizeSymbol(adapter.EnsureQuote(s))] = struct{}{}
	}
	if mode == types.AlertForWhitelist && len(set) == 0 {
		return ComplexEntry{}, false
	}

	return ComplexEntry{
		Alert:        a,
		Threshold:    threshold,
		TimeframeSec: tfSec,
		Mode:         mode,
		SymbolSet:    set,
	}, true
}

// Entries returns the prepared entries for a pair. The slice must not be
// mutated.
func (c *Cache) Entries(ex types.Exchange, mkt types.Market) []ComplexEntry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.entries[types.PairKey(ex, mkt)]
}

// ActivePair reports whether any complex alert watches the pair. The tick
// evaluator short-circuits on this before touching ring buffers.
func (c *Cache) ActivePair(ex types.Exchange, mkt types.Market) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries[types.PairKey(ex, mkt)]) > 0
}

// Pair names one watched (exchange, market) combination.
type Pair struct {
	Exchange types.Exchange
	Market   types.Market
}

// Pairs returns every pair with at least one entry.
func (c *Cache) Pairs() []Pair {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Pair, 0, len(c.entries))
	for _, entries := range c.entries {
		if len(entries) == 0 {
			continue
		}
		out = append(out, Pair{
			Exchange: entries[0].Alert.Exchange,
			Market:   entries[0].Alert.Market,
		})
	}
	return out
}

// MaxTimeframeSec returns the widest window among cached entries.
func (c *Cache) MaxTimeframeSec() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.maxTF
}

// Run refreshes on the configured interval until ctx is done. The initial
// refresh happens immediately.
func (c *Cache) Run(ctx context.Context) {
	if err := c.Refresh(ctx); err != nil && ctx.Err() == nil {
		c.logger.Error("cache refresh failed", "error", err)
	}

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.Refresh(ctx); err != nil && ctx.Err() == nil {
				c.logger.Error("cache refresh failed", "error", err)
			}
		}
	}
}
