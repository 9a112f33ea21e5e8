package alerts

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"alertengine/internal/adapter"
	"alertengine/internal/buffer"
	"alertengine/internal/notify"
	"alertengine/pkg/types"
)

// minRetention keeps at least a minute of history plus slack, so the 1m
// window always has samples even when no wider window is configured.
const minRetention = 65 * time.Second

// Evaluator drives complex alert evaluation from the fan-in tick stream.
// Every tick it appends prices to the ring buffers and checks each cached
// entry against the window statistics. The safety-net sweeper reuses
// evaluateSymbol for symbols that went quiet.
type Evaluator struct {
	ring     *buffer.Store
	cache    *Cache
	cool     *Cooldowns
	sink     *notify.Sink
	cooldown time.Duration
	// canFire gates commits behind lease ownership; buffering continues
	// regardless so a freshly promoted replica has warm windows.
	canFire  func() bool
	counters *Counters
	logger   *slog.Logger

	fireWG sync.WaitGroup
}

// NewEvaluator wires the tick evaluator.
func NewEvaluator(ring *buffer.Store, cache *Cache, cool *Cooldowns, sink *notify.Sink, cooldown time.Duration, canFire func() bool, counters *Counters, logger *slog.Logger) *Evaluator {
	if cooldown <= 0 {
		cooldown = Cooldown
	}
	return &Evaluator{
		ring:     ring,
		cache:    cache,
		cool:     cool,
		sink:     sink,
		cooldown: cooldown,
		canFire:  canFire,
		counters: counters,
		logger:   logger.With("component", "tick_evaluator"),
	}
}

// Retention returns the ring-buffer horizon: the widest cached window plus
// slack, never less than minRetention. Wide windows (hours, a day) keep
// their oldest points; memory stays bounded by MaxPoints per series.
func (e *Evaluator) Retention() time.Duration {
	r := time.Duration(e.cache.MaxTimeframeSec())*time.Second + 5*time.Second
	if r < minRetention {
		r = minRetention
	}
	return r
}

// Run consumes tick events until the channel closes or ctx is done, then
// waits for in-flight fires to finish.
func (e *Evaluator) Run(ctx context.Context, events <-chan types.TickEvent) {
	defer e.fireWG.Wait()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			e.HandleTick(ctx, ev)
		}
	}
}

// HandleTick appends one event to the ring buffers and evaluates every
// cached entry whose pair matches. Buffering always happens; evaluation is
// skipped when no complex alert watches the pair.
func (e *Evaluator) HandleTick(ctx context.Context, ev types.TickEvent) {
	e.ring.Append(ev.Exchange, ev.Market, ev.Prices, ev.TS, e.Retention())

	if !e.cache.ActivePair(ev.Exchange, ev.Market) {
		return
	}
	entries := e.cache.Entries(ev.Exchange, ev.Market)
	for symbol := range ev.Prices {
		canonical := adapter.NormalizeSymbol(symbol)
		for i := range entries {
			e.evaluateSymbol(ctx, &entries[i], canonical, ev.TS)
		}
	}
}

// evaluateSymbol runs one (entry, symbol) check at nowMs: scope, cooldown,
// window statistics, threshold. A hit launches an async fire.
func (e *Evaluator) evaluateSymbol(ctx context.Context, entry *ComplexEntry, symbol string, nowMs int64) {
	if !entry.InScope(symbol) {
		return
	}
	if !e.cool.CanEmit(entry.Alert.ID, symbol, nowMs, e.cooldown) {
		return
	}

	st, ok := e.ring.WindowStats(entry.Alert.Exchange, entry.Alert.Market, symbol, nowMs, entry.TimeframeSec)
	if !ok {
		return
	}
	spanPct := (st.Max - st.Min) / st.Min * 100
	if spanPct < entry.Threshold {
		return
	}

	// The payload reports the move direction: up when the window ended at or
	// above where it started, down otherwise. Baseline and current are the
	// window extremes ordered to match.
	up := st.Current >= st.Oldest
	pct := spanPct
	baseline, current := st.Min, st.Max
	if !up {
		pct = -spanPct
		baseline, current = st.Max, st.Min
	}

	e.fire(ctx, entry, symbol, nowMs, pct, baseline, current)
}

// fire commits one complex trigger off the hot path. TryMark is the
// authoritative cooldown gate so concurrent tick and sweep hits for the same
// (alert, symbol) collapse to one.
func (e *Evaluator) fire(ctx context.Context, entry *ComplexEntry, symbol string, nowMs int64, pct, baseline, current float64) {
	e.fireWG.Add(1)
	go func() {
		defer e.fireWG.Done()

		if !e.cool.TryMark(entry.Alert.ID, symbol, nowMs, e.cooldown) {
			return
		}
		if e.canFire != nil && !e.canFire() {
			return
		}

		payload := types.ComplexPayload{
			AlertType:     types.AlertTypeComplex,
			Exchange:      entry.Alert.Exchange,
			Market:        entry.Alert.Market,
			Symbol:        symbol,
			PctChange:     pct,
			BaselinePrice: baseline,
			CurrentPrice:  current,
			WindowSeconds: entry.TimeframeSec,
		}

		if err := e.sink.FireComplex(ctx, entry.Alert, payload, time.UnixMilli(nowMs).UTC()); err != nil {
			e.counters.StoreErrors.Add(1)
			e.logger.Error("complex fire failed", "alert", entry.Alert.ID, "symbol", symbol, "error", err)
			return
		}
		e.counters.ComplexFires.Add(1)
	}()
}

// Drain blocks until in-flight fires complete or the timeout elapses.
func (e *Evaluator) Drain(timeout time.Duration) {
	done := make(chan struct{})
	go func() {
		e.fireWG.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
		e.logger.Warn("shutdown drain timed out", "timeout", timeout)
	}
}
