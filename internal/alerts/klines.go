package alerts

import (
	"context"
	"log/slog"
	"time"

	"alertengine/internal/adapter"
	"alertengine/internal/notify"
	"alertengine/internal/store"
	"alertengine/pkg/types"
)

// klinesMaxCandles caps one historical fetch per alert.
const klinesMaxCandles = 500

// KlinesSweep is the slow recovery path for price alerts: on a long interval
// it fetches recent 1m candles per alert and fires when any closed candle's
// [low, high] range contained the target. This catches spikes that fell
// between fast-loop cycles or happened while the engine was down.
type KlinesSweep struct {
	store    *store.Store
	reg      *adapter.Registry
	sink     *notify.Sink
	interval time.Duration
	lookback time.Duration
	delay    time.Duration
	counters *Counters
	logger   *slog.Logger
}

// NewKlinesSweep wires the sweep. delay defers the first run after startup
// so the fast loop settles before historical fetching begins.
func NewKlinesSweep(st *store.Store, reg *adapter.Registry, sink *notify.Sink, interval, lookback, delay time.Duration, counters *Counters, logger *slog.Logger) *KlinesSweep {
	return &KlinesSweep{
		store:    st,
		reg:      reg,
		sink:     sink,
		interval: interval,
		lookback: lookback,
		delay:    delay,
		counters: counters,
		logger:   logger.With("component", "klines_sweep"),
	}
}

// Run sweeps on the configured interval, after the initial delay, until ctx
// is done.
func (k *KlinesSweep) Run(ctx context.Context) {
	select {
	case <-ctx.Done():
		return
	case <-time.After(k.delay):
	}

	k.sweep(ctx)

	ticker := time.NewTicker(k.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			k.sweep(ctx)
		}
	}
}

func (k *KlinesSweep) sweep(ctx context.Context) {
	alerts, err := k.store.ActivePriceAlerts(ctx)
	if err != nil {
		k.counters.StoreErrors.Add(1)
		k.logger.Error("load price alerts failed", "error", err)
		return
	}

	var checked, fired int
	for _, a := range alerts {
		if ctx.Err() != nil {
			return
		}
		hit, err := k.checkAlert(ctx, a)
		if err != nil {
			k.counters.AdapterErrors.Add(1)
			k.logger.Warn("klines check failed", "alert", a.ID, "error", err)
			continue
		}
		checked++
		if hit {
			fired++
		}
	}

	k.counters.KlinesRuns.Add(1)
	k.logger.Info("klines sweep done", "alerts", checked, "fired", fired)
}

// checkAlert fetches the candles covering [max(createdAt, now-lookback), now]
// and fires when one contains the target. The alert's own creation time
// bounds the scan so a pre-existing crossing never fires a new alert.
func (k *KlinesSweep) checkAlert(ctx context.Context, a types.Alert) (bool, error) {
	if a.TargetValue == nil {
		k.counters.InvalidAlerts.Add(1)
		return false, nil
	}
	target := *a.TargetValue
	symbol := adapter.NormalizeSymbol(a.FirstSymbol())
	if symbol == "" {
		k.counters.InvalidAlerts.Add(1)
		return false, nil
	}

	ad, err := k.reg.Get(a.Exchange)
	if err != nil {
		return false, err
	}

	now := time.Now().UTC()
	since := now.Add(-k.lookback)
	if a.CreatedAt.After(since) {
		since = a.CreatedAt
	}
	limit := int(now.Sub(since)/time.Minute) + 2
	if limit > klinesMaxCandles {
		limit = klinesMaxCandles
	}
	if limit < 2 {
		limit = 2
	}

	candles, err := ad.Klines(ctx, symbol, a.Market, "1m", limit, time.Time{})
	if err != nil {
		return false, err
	}

	sinceSec := since.Unix()
	for _, c := range candles {
		if c.Time < sinceSec {
			continue
		}
		if c.Contains(target) {
			fired, err := k.sink.FirePrice(ctx, a, symbol, c.Close, resolveDirection(a, target), now)
			if err != nil {
				return false, err
			}
			if fired {
				k.counters.KlinesFires.Add(1)
			}
			return fired, nil
		}
	}
	return false, nil
}
