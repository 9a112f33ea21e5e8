// Package adapter implements the exchange price capability consumed by the
// fan-in, the fast price loop, and the klines sweep.
//
// Each exchange (Binance, Bybit) is a concrete Adapter behind a small closed
// interface: bulk/per-symbol last prices, the active-symbol set, and closed
// kline candles. A Registry dispatches by exchange name, replacing
// conditional chains at call sites. Short-lived caches (2s for prices, 1h for
// symbol sets) are shared across callers so the fast loop and the fan-in do
// not multiply upstream request volume.
package adapter

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"alertengine/pkg/types"
)

// ErrSymbolUnavailable is returned in strict mode when a requested symbol has
// no fresh upstream price.
var ErrSymbolUnavailable = errors.New("symbol price unavailable upstream")

// PriceOptions modify LastPrices behaviour.
type PriceOptions struct {
	// Strict makes the absence of any requested symbol an error instead of a
	// silent omission.
	Strict bool
	// FreshOnly bypasses the shared short-lived cache.
	FreshOnly bool
}

// Adapter is the per-exchange capability. Implementations must return only
// positive, finite prices and chronological ascending candles.
type Adapter interface {
	Name() types.Exchange

	// LastPrices returns last prices keyed by canonical symbol. A nil or
	// empty symbols slice requests the full market snapshot.
	LastPrices(ctx context.Context, symbols []string, market types.Market, opts PriceOptions) (map[string]float64, error)

	// ActiveSymbols returns the set of canonical symbols currently tradeable
	// on the market. Served from a ~1h cache.
	ActiveSymbols(ctx context.Context, market types.Market) (map[string]struct{}, error)

	// Klines returns up to limit closed candles ending at or before the
	// given time (zero time means now), chronological ascending, candle open
	// time in seconds.
	Klines(ctx context.Context, symbol string, market types.Market, interval string, limit int, before time.Time) ([]types.Kline, error)
}

// Registry holds all configured adapters, keyed by exchange name.
type Registry struct {
	adapters map[types.Exchange]Adapter
}

// NewRegistry builds a registry from the given adapters.
func NewRegistry(adapters ...Adapter) *Registry {
	m := make(map[types.Exchange]Adapter, len(adapters))
	for _, a := range adapters {
		m[a.Name()] = a
	}
	return &Registry{adapters: m}
}

// Get returns the adapter for an exchange.
func (r *Registry) Get(ex types.Exchange) (Adapter, error) {
	a, ok := r.adapters[ex]
	if !ok {
		return nil, fmt.Errorf("no adapter registered for exchange %q", ex)
	}
	return a, nil
}

// Names returns the registered exchange names, sorted for stable iteration.
func (r *Registry) Names() []types.Exchange {
	out := make([]types.Exchange, 0, len(r.adapters))
	for name := range r.adapters {
		out = append(out, name)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
