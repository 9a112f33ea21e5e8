package alerts

import "sync/atomic"

// Counters is the engine-wide counter block. Every worker loop shares one
// instance; all failure paths terminate here rather than in panics.
type Counters struct {
	EvaluateRuns  atomic.Uint64 // fast loop cycles completed
	ReentrySkips  atomic.Uint64 // loop ticks skipped because a cycle was in flight
	SweepRuns     atomic.Uint64 // safety-net sweeps completed
	KlinesRuns    atomic.Uint64 // klines sweeps completed
	AdapterErrors atomic.Uint64 // transient exchange failures, cycle skipped
	StoreErrors   atomic.Uint64 // persistent store failures, cycle skipped
	InvalidAlerts atomic.Uint64 // unparseable alert records skipped
	PriceFires    atomic.Uint64
	ComplexFires  atomic.Uint64
	KlinesFires   atomic.Uint64
}

// Snapshot returns the current counter values for the health endpoint.
func (c *Counters) Snapshot() map[string]uint64 {
	return map[string]uint64{
		"evaluate_runs":  c.EvaluateRuns.Load(),
		"reentry_skips":  c.ReentrySkips.Load(),
		"sweep_runs":     c.SweepRuns.Load(),
		"klines_runs":    c.KlinesRuns.Load(),
		"adapter_errors": c.AdapterErrors.Load(),
		"store_errors":   c.StoreErrors.Load(),
		"invalid_alerts": c.InvalidAlerts.Load(),
		"price_fires":    c.PriceFires.Load(),
		"complex_fires":  c.ComplexFires.Load(),
		"klines_fires":   c.KlinesFires.Load(),
	}
}
