package alerts

import (
	"context"
	"log/slog"
	"time"

	"alertengine/internal/buffer"
)

// Sweeper is the safety net behind the tick evaluator: on an interval it
// re-evaluates every cached complex entry against every buffered symbol of
// its pair, so a symbol that stopped ticking (or an event lost to a full
// mailbox) is still checked while its window has data.
type Sweeper struct {
	ring     *buffer.Store
	cache    *Cache
	eval     *Evaluator
	interval time.Duration
	counters *Counters
	logger   *slog.Logger
}

// NewSweeper wires the sweeper over the same evaluator the tick path uses,
// so the cooldown and fire de-duplication are shared.
func NewSweeper(ring *buffer.Store, cache *Cache, eval *Evaluator, interval time.Duration, counters *Counters, logger *slog.Logger) *Sweeper {
	return &Sweeper{
		ring:     ring,
		cache:    cache,
		eval:     eval,
		interval: interval,
		counters: counters,
		logger:   logger.With("component", "sweeper"),
	}
}

// Run sweeps on the configured interval until ctx is done.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	nowMs := time.Now().UnixMilli()
	for _, pair := range s.cache.Pairs() {
		entries := s.cache.Entries(pair.Exchange, pair.Market)
		symbols := s.ring.Symbols(pair.Exchange, pair.Market)
		for _, symbol := range symbols {
			for i := range entries {
				s.eval.evaluateSymbol(ctx, &entries[i], symbol, nowMs)
			}
		}
	}
	s.counters.SweepRuns.Add(1)
}
