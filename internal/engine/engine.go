// Package engine wires and runs the alert engine: the price fan-in, the
// evaluation loops, the single-worker lease, and the delivery surfaces.
//
// Ingestion (fan-in, ring buffers, alert cache) runs on every replica so a
// standby promoted by the lease has warm windows. The firing loops (fast
// price loop, safety-net sweeper, klines sweep) run only while this replica
// owns the lease.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"alertengine/internal/adapter"
	"alertengine/internal/alerts"
	"alertengine/internal/buffer"
	"alertengine/internal/config"
	"alertengine/internal/feed"
	"alertengine/internal/lease"
	"alertengine/internal/notify"
	"alertengine/internal/realtime"
	"alertengine/internal/store"
	"alertengine/pkg/types"
)

// Engine owns every component's lifecycle.
type Engine struct {
	cfg    *config.Config
	logger *slog.Logger

	store    *store.Store
	registry *adapter.Registry
	fanin    *feed.FanIn
	streams  []*feed.BinanceStream
	ring     *buffer.Store
	cache    *alerts.Cache
	eval     *alerts.Evaluator
	sweeper  *alerts.Sweeper
	fast     *alerts.FastLoop
	klines   *alerts.KlinesSweep
	coord    *lease.Coordinator
	server   *realtime.Server
	counters *alerts.Counters

	rootCtx    context.Context
	rootCancel context.CancelFunc
	wg         sync.WaitGroup

	workerMu     sync.Mutex
	workerCancel context.CancelFunc
	workerWG     *sync.WaitGroup

	shuttingDown atomic.Bool
}

// New builds the engine from config. Nothing runs until Start.
func New(cfg *config.Config, logger *slog.Logger) (*Engine, error) {
	st, err := store.Open(cfg.Store.Path)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	registry := adapter.NewRegistry(
		adapter.NewBinance(logger),
		adapter.NewBybit(logger),
	)

	e := &Engine{
		cfg:      cfg,
		logger:   logger.With("component", "engine", "scope", "alertEngine"),
		store:    st,
		registry: registry,
		ring:     buffer.NewStore(),
		counters: &alerts.Counters{},
	}

	var hub *realtime.Hub
	if cfg.Realtime.Enabled {
		hub = realtime.NewHub(logger)
		e.server = realtime.NewServer(hub, cfg.Realtime.Port, e.Snapshot, logger)
	}
	tg := notify.NewTelegram(cfg.Telegram.BaseURL, cfg.Telegram.BotToken, logger)
	sink := notify.NewSink(st, hub, tg, logger)

	pairs := make([]feed.Pair, 0, len(cfg.Feed.Pairs))
	for _, p := range cfg.Feed.Pairs {
		pairs = append(pairs, feed.Pair{
			Exchange: types.Exchange(p.Exchange),
			Market:   types.Market(p.Market),
		})
	}
	e.fanin = feed.New(registry, pairs, cfg.Feed.PollInterval, cfg.Feed.MailboxSize, logger)
	if cfg.Feed.UseWebsocket {
		for _, p := range pairs {
			if p.Exchange != types.ExchangeBinance {
				continue
			}
			url := cfg.Feed.BinanceWSFut
			if p.Market == types.MarketSpot {
				url = cfg.Feed.BinanceWSSpot
			}
			e.streams = append(e.streams, feed.NewBinanceStream(url, p.Market, e.fanin, logger))
		}
	}

	cool := alerts.NewCooldowns()
	e.cache = alerts.NewCache(st, cfg.Alerts.CacheRefresh, e.counters, logger)
	e.eval = alerts.NewEvaluator(e.ring, e.cache, cool, sink, cfg.Alerts.Cooldown, e.canFire, e.counters, logger)
	e.sweeper = alerts.NewSweeper(e.ring, e.cache, e.eval, cfg.Alerts.SweepInterval, e.counters, logger)
	e.fast = alerts.NewFastLoop(st, registry, sink, cfg.Alerts.FastInterval, e.counters, logger)
	e.klines = alerts.NewKlinesSweep(st, registry, sink,
		cfg.Alerts.KlinesInterval, cfg.Alerts.KlinesLookback, cfg.Alerts.KlinesDelay,
		e.counters, logger)

	if cfg.Engine.SingleWorker {
		ownerID := cfg.Engine.InstanceID
		if ownerID == "" {
			ownerID = uuid.New().String()
		}
		e.coord = lease.New(st, cfg.Engine.LeaseName, ownerID,
			cfg.Engine.LeaseTTL, cfg.Engine.Heartbeat(), cfg.Engine.LeaseRetry,
			lease.Callbacks{OnAcquire: e.startWorkers, OnLose: e.stopWorkers},
			logger)
	}

	return e, nil
}

// canFire gates every commit: workers fire only while this replica owns the
// lease (or single-worker mode is off) and is not shutting down.
func (e *Engine) canFire() bool {
	if e.shuttingDown.Load() {
		return false
	}
	if e.coord != nil {
		return e.coord.IsOwner()
	}
	return true
}

// Start launches all components. Returns once everything is running.
func (e *Engine) Start() {
	e.rootCtx, e.rootCancel = context.WithCancel(context.Background())
	ctx := e.rootCtx
	e.logger.Info("engine.starting", "single_worker", e.cfg.Engine.SingleWorker)

	if e.server != nil {
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			if err := e.server.Start(); err != nil {
				e.logger.Error("realtime server failed", "error", err)
			}
		}()
	}

	// Always-on ingestion: cache refresher, producers, tick evaluator.
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.cache.Run(ctx)
	}()

	pushPairs := make(map[feed.Pair]bool)
	for _, s := range e.streams {
		pushPairs[feed.Pair{Exchange: types.ExchangeBinance, Market: s.Market()}] = true
		e.wg.Add(1)
		go func(s *feed.BinanceStream) {
			defer e.wg.Done()
			s.Run(ctx)
		}(s)
	}
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.fanin.Run(ctx, func(p feed.Pair) bool { return pushPairs[p] })
	}()

	subID, events := e.fanin.Subscribe()
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer e.fanin.Unsubscribe(subID)
		e.eval.Run(ctx, events)
	}()

	if e.coord != nil {
		e.coord.Bootstrap(ctx)
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			e.coord.Run(ctx)
		}()
	} else {
		e.startWorkers()
	}

	e.logger.Info("engine.started")
}

// startWorkers launches the firing loops under a worker context. Idempotent;
// called on lease acquisition and at startup when the lease is disabled.
func (e *Engine) startWorkers() {
	e.workerMu.Lock()
	defer e.workerMu.Unlock()
	if e.workerCancel != nil || e.shuttingDown.Load() {
		return
	}

	ctx, cancel := context.WithCancel(e.rootCtx)
	e.workerCancel = cancel
	wg := &sync.WaitGroup{}
	e.workerWG = wg

	e.logger.Info("engine.workers.start")
	for _, run := range []func(context.Context){
		e.fast.Run,
		e.sweeper.Run,
		e.klines.Run,
	} {
		wg.Add(1)
		go func(run func(context.Context)) {
			defer wg.Done()
			run(ctx)
		}(run)
	}
}

// stopWorkers cancels the firing loops and waits for them. Called on lease
// loss and during shutdown.
func (e *Engine) stopWorkers() {
	e.workerMu.Lock()
	cancel, wg := e.workerCancel, e.workerWG
	e.workerCancel, e.workerWG = nil, nil
	e.workerMu.Unlock()

	if cancel == nil {
		return
	}
	e.logger.Info("engine.workers.stop")
	cancel()
	wg.Wait()
}

// RefreshAlerts reloads the complex alert cache immediately. The external
// CRUD layer calls this after mutating alerts so changes apply without
// waiting for the periodic refresh.
func (e *Engine) RefreshAlerts(ctx context.Context) error {
	return e.cache.Refresh(ctx)
}

// Snapshot exposes the counter block plus feed drops for the health probe.
func (e *Engine) Snapshot() map[string]uint64 {
	out := e.counters.Snapshot()
	out["feed_drops"] = e.fanin.Drops()
	return out
}

// Stop shuts the engine down: firing stops first, in-flight fires drain,
// then the lease is released and ingestion torn down.
func (e *Engine) Stop() {
	e.logger.Info("engine.stopping")
	e.shuttingDown.Store(true)

	e.stopWorkers()

	if e.server != nil {
		if err := e.server.Stop(); err != nil {
			e.logger.Warn("realtime server stop failed", "error", err)
		}
	}

	// Tear down ingestion and the coordinator loop before releasing the
	// lease, so a late tick cannot re-claim it.
	e.rootCancel()
	e.wg.Wait()
	e.eval.Drain(e.cfg.Engine.ShutdownWait)

	if e.coord != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		e.coord.Release(ctx)
		cancel()
	}

	if err := e.store.Close(); err != nil {
		e.logger.Warn("store close failed", "error", err)
	}
	e.logger.Info("engine.stopped")
}
