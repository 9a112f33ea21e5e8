package alerts

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"alertengine/internal/adapter"
	"alertengine/internal/notify"
	"alertengine/internal/store"
	"alertengine/pkg/types"
)

const (
	// toleranceRel and toleranceAbs define the touch band around a target:
	// max(|target| * toleranceRel, toleranceAbs).
	toleranceRel = 1e-4
	toleranceAbs = 1e-8

	// freshFetchCap bounds the parallel per-symbol fresh fetches per cycle so
	// a large alert book cannot stampede an exchange.
	freshFetchCap = 30
)

// FastLoop evaluates price alerts on a short interval. Each cycle loads the
// active price alerts, fetches prices per (exchange, market) group, and
// fires on touch or cross. Cycles never overlap: a tick arriving while a
// cycle is in flight is skipped and counted.
type FastLoop struct {
	store    *store.Store
	reg      *adapter.Registry
	sink     *notify.Sink
	interval time.Duration
	counters *Counters
	logger   *slog.Logger

	running atomic.Bool

	// observed is the last price seen per alert, for cross detection between
	// cycles. Only runCycle touches these maps.
	observed      map[string]float64
	missingLogged map[string]bool
}

// NewFastLoop wires the fast price loop.
func NewFastLoop(st *store.Store, reg *adapter.Registry, sink *notify.Sink, interval time.Duration, counters *Counters, logger *slog.Logger) *FastLoop {
	return &FastLoop{
		store:         st,
		reg:           reg,
		sink:          sink,
		interval:      interval,
		counters:      counters,
		logger:        logger.With("component", "fast_loop"),
		observed:      make(map[string]float64),
		missingLogged: make(map[string]bool),
	}
}

// Run ticks the loop until ctx is done. The first cycle starts immediately.
func (l *FastLoop) Run(ctx context.Context) {
	l.tick(ctx)

	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.tick(ctx)
		}
	}
}

func (l *FastLoop) tick(ctx context.Context) {
	if !l.running.CompareAndSwap(false, true) {
		l.counters.ReentrySkips.Add(1)
		return
	}
	go func() {
		defer l.running.Store(false)
		l.runCycle(ctx)
	}()
}

func (l *FastLoop) runCycle(ctx context.Context) {
	alerts, err := l.store.ActivePriceAlerts(ctx)
	if err != nil {
		l.counters.StoreErrors.Add(1)
		l.logger.Error("load price alerts failed", "error", err)
		return
	}
	l.pruneState(alerts)

	groups := make(map[string][]types.Alert)
	for _, a := range alerts {
		groups[types.PairKey(a.Exchange, a.Market)] = append(groups[types.PairKey(a.Exchange, a.Market)], a)
	}

	now := time.Now().UTC()
	for _, group := range groups {
		l.evaluateGroup(ctx, group, now)
	}
	l.counters.EvaluateRuns.Add(1)
}

// pruneState drops per-alert state for alerts no longer active, keeping the
// maps bounded by the live alert book.
func (l *FastLoop) pruneState(alerts []types.Alert) {
	live := make(map[string]struct{}, len(alerts))
	for _, a := range alerts {
		live[a.ID] = struct{}{}
	}
	for id := range l.observed {
		if _, ok := live[id]; !ok {
			delete(l.observed, id)
		}
	}
	for id := range l.missingLogged {
		if _, ok := live[id]; !ok {
			delete(l.missingLogged, id)
		}
	}
}

// evaluateGroup handles all alerts of one (exchange, market): one bulk price
// fetch, then bounded parallel fresh fetches overriding the bulk values, then
// per-alert evaluation.
func (l *FastLoop) evaluateGroup(ctx context.Context, group []types.Alert, now time.Time) {
	ex, market := group[0].Exchange, group[0].Market
	ad, err := l.reg.Get(ex)
	if err != nil {
		l.counters.AdapterErrors.Add(1)
		l.logger.Error("no adapter for group", "exchange", ex, "error", err)
		return
	}

	symbolSet := make(map[string]struct{})
	for _, a := range group {
		if sym := adapter.NormalizeSymbol(a.FirstSymbol()); sym != "" {
			symbolSet[sym] = struct{}{}
		}
	}
	symbols := make([]string, 0, len(symbolSet))
	for sym := range symbolSet {
		symbols = append(symbols, sym)
	}

	prices, err := ad.LastPrices(ctx, symbols, market, adapter.PriceOptions{})
	if err != nil {
		l.counters.AdapterErrors.Add(1)
		l.logger.Warn("bulk price fetch failed", "exchange", ex, "market", market, "error", err)
		prices = make(map[string]float64)
	}
	l.overlayFresh(ctx, ad, market, symbols, prices)

	for _, a := range group {
		l.evaluateAlert(ctx, a, prices, now)
	}
}

// overlayFresh replaces up to freshFetchCap bulk prices with per-symbol
// fresh reads, fetched in parallel. Failures fall back to the bulk value.
func (l *FastLoop) overlayFresh(ctx context.Context, ad adapter.Adapter, market types.Market, symbols []string, prices map[string]float64) {
	if len(symbols) > freshFetchCap {
		symbols = symbols[:freshFetchCap]
	}

	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, sym := range symbols {
		wg.Add(1)
		go func(sym string) {
			defer wg.Done()
			fresh, err := ad.LastPrices(ctx, []string{sym}, market, adapter.PriceOptions{FreshOnly: true})
			if err != nil {
				return
			}
			if p, ok := fresh[sym]; ok {
				mu.Lock()
				prices[sym] = p
				mu.Unlock()
			}
		}(sym)
	}
	wg.Wait()
}

// evaluateAlert runs the touch/cross decision for one price alert.
func (l *FastLoop) evaluateAlert(ctx context.Context, a types.Alert, prices map[string]float64, now time.Time) {
	if a.TargetValue == nil {
		l.counters.InvalidAlerts.Add(1)
		return
	}
	target := *a.TargetValue
	symbol := adapter.NormalizeSymbol(a.FirstSymbol())
	if symbol == "" {
		l.counters.InvalidAlerts.Add(1)
		return
	}

	current, ok := prices[symbol]
	if !ok {
		if !l.missingLogged[a.ID] {
			l.missingLogged[a.ID] = true
			l.logger.Warn("alert symbol has no price", "alert", a.ID, "symbol", symbol)
		}
		return
	}
	l.missingLogged[a.ID] = false

	previous, hasPrevious := l.observed[a.ID]
	if !hasPrevious && a.InitialPrice != nil {
		previous, hasPrevious = *a.InitialPrice, true
	}

	tolerance := math.Max(math.Abs(target)*toleranceRel, toleranceAbs)
	touched := math.Abs(current-target) <= tolerance
	// A previous price inside the band counts as a departure cross even
	// though the signed product is zero at the boundary.
	crossed := hasPrevious &&
		((previous-target)*(current-target) < 0 || math.Abs(previous-target) <= tolerance)

	// Legacy alerts without an initial price fall back to the stored
	// directional condition against the current price alone.
	legacy := !hasPrevious && a.Condition != "" &&
		((a.Condition == types.ConditionAbove && current >= target) ||
			(a.Condition == types.ConditionBelow && current <= target))

	if !touched && !crossed && !legacy {
		l.observed[a.ID] = current
		return
	}

	fired, err := l.sink.FirePrice(ctx, a, symbol, current, resolveDirection(a, target), now)
	if err != nil {
		l.counters.StoreErrors.Add(1)
		l.logger.Error("price fire failed", "alert", a.ID, "symbol", symbol, "error", err)
		return
	}
	delete(l.observed, a.ID)
	if fired {
		l.counters.PriceFires.Add(1)
	}
}

// resolveDirection derives the fired direction from initialPrice vs target,
// falling back to the stored condition for legacy records.
func resolveDirection(a types.Alert, target float64) types.Condition {
	if a.InitialPrice != nil {
		if *a.InitialPrice > target {
			return types.ConditionBelow
		}
		return types.ConditionAbove
	}
	if a.Condition != "" {
		return a.Condition
	}
	return types.ConditionAbove
}
