// Package feed multiplexes exchange price sources into one in-process event
// stream.
//
// One producer runs per (exchange, market) pair: either a polling loop over
// the exchange adapter or, for Binance, an optional websocket push stream.
// Producers publish TickEvents which the fan-in broadcasts to subscribers
// over bounded mailboxes. A slow subscriber never blocks a producer: when a
// mailbox is full the oldest event is dropped and a counter incremented. The
// evaluators tolerate loss; the safety-net sweeper and klines sweep recover.
package feed

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"alertengine/internal/adapter"
	"alertengine/pkg/types"
)

// Pair names one (exchange, market) ingestion source.
type Pair struct {
	Exchange types.Exchange
	Market   types.Market
}

type subscriber struct {
	ch    chan types.TickEvent
	drops atomic.Uint64
}

// FanIn multiplexes N price producers into one broadcast stream and keeps
// the latest snapshot per pair for warm-up seeding.
type FanIn struct {
	reg          *adapter.Registry
	pairs        []Pair
	pollInterval time.Duration
	mailboxSize  int
	logger       *slog.Logger

	subsMu sync.RWMutex
	subs   map[int]*subscriber
	nextID int

	latestMu sync.RWMutex
	latest   map[string]map[string]float64
}

// New creates a fan-in over the given pairs.
func New(reg *adapter.Registry, pairs []Pair, pollInterval time.Duration, mailboxSize int, logger *slog.Logger) *FanIn {
	if mailboxSize <= 0 {
		mailboxSize = 1024
	}
	return &FanIn{
		reg:          reg,
		pairs:        pairs,
		pollInterval: pollInterval,
		mailboxSize:  mailboxSize,
		logger:       logger.With("component", "fanin"),
		subs:         make(map[int]*subscriber),
		latest:       make(map[string]map[string]float64),
	}
}

// Subscribe registers a sink and returns its id and event channel.
func (f *FanIn) Subscribe() (int, <-chan types.TickEvent) {
	f.subsMu.Lock()
	defer f.subsMu.Unlock()

	id := f.nextID
	f.nextID++
	sub := &subscriber{ch: make(chan types.TickEvent, f.mailboxSize)}
	f.subs[id] = sub
	return id, sub.ch
}

// Unsubscribe detaches a sink. Its channel is closed.
func (f *FanIn) Unsubscribe(id int) {
	f.subsMu.Lock()
	defer f.subsMu.Unlock()
	if sub, ok := f.subs[id]; ok {
		delete(f.subs, id)
		close(sub.ch)
	}
}

// PriceMap returns the latest snapshot for a pair, for warm-up seeding.
// The returned map must not be mutated.
func (f *FanIn) PriceMap(ex types.Exchange, mkt types.Market) map[string]float64 {
	f.latestMu.RLock()
	defer f.latestMu.RUnlock()
	return f.latest[types.PairKey(ex, mkt)]
}

// Drops returns the total events dropped across all subscribers.
func (f *FanIn) Drops() uint64 {
	f.subsMu.RLock()
	defer f.subsMu.RUnlock()
	var total uint64
	for _, sub := range f.subs {
		total += sub.drops.Load()
	}
	return total
}

// Publish injects one event into the stream. Push producers (websocket
// streams) call this directly; the polling producers go through it too.
func (f *FanIn) Publish(ev types.TickEvent) {
	if len(ev.Prices) == 0 {
		return
	}

	f.latestMu.Lock()
	f.latest[types.PairKey(ev.Exchange, ev.Market)] = ev.Prices
	f.latestMu.Unlock()

	f.subsMu.RLock()
	defer f.subsMu.RUnlock()
	for _, sub := range f.subs {
		select {
		case sub.ch <- ev:
		default:
			// Mailbox full: drop the oldest event to make room.
			select {
			case <-sub.ch:
				sub.drops.Add(1)
			default:
			}
			select {
			case sub.ch <- ev:
			default:
				sub.drops.Add(1)
			}
		}
	}
}

// Run starts one polling producer goroutine per pair not covered by a push
// stream, and blocks until ctx is cancelled.
func (f *FanIn) Run(ctx context.Context, skip func(Pair) bool) {
	var wg sync.WaitGroup
	for _, pair := range f.pairs {
		if skip != nil && skip(pair) {
			continue
		}
		wg.Add(1)
		go func(p Pair) {
			defer wg.Done()
			f.pollLoop(ctx, p)
		}(pair)
	}
	wg.Wait()
}

func (f *FanIn) pollLoop(ctx context.Context, p Pair) {
	ad, err := f.reg.Get(p.Exchange)
	if err != nil {
		f.logger.Error("producer start failed", "exchange", p.Exchange, "market", p.Market, "error", err)
		return
	}

	// Immediate first poll so subscribers warm up without waiting a tick.
	f.pollOnce(ctx, ad, p)

	ticker := time.NewTicker(f.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			f.pollOnce(ctx, ad, p)
		}
	}
}

func (f *FanIn) pollOnce(ctx context.Context, ad adapter.Adapter, p Pair) {
	prices, err := ad.LastPrices(ctx, nil, p.Market, adapter.PriceOptions{})
	if err != nil {
		if ctx.Err() == nil {
			f.logger.Warn("poll failed", "exchange", p.Exchange, "market", p.Market, "error", err)
		}
		return
	}
	f.Publish(types.TickEvent{
		Exchange: p.Exchange,
		Market:   p.Market,
		Prices:   prices,
		TS:       time.Now().UnixMilli(),
	})
}
