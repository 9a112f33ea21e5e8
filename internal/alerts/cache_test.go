package alerts

import (
	"context"
	"reflect"
	"testing"
	"time"

	"alertengine/pkg/types"
)

func TestCacheRefreshPrepares(t *testing.T) {
	t.Parallel()
	st := newTestStore(t)
	counters := &Counters{}
	cache := NewCache(st, time.Minute, counters, discardLogger())
	ctx := context.Background()

	// Symbols are canonicalized: a bare base gets the USDT quote appended.
	insertComplexAlert(t, st, []string{"sol", "ETHUSDT"}, -5, types.Timeframe4h, types.AlertForWhitelist)
	if err := cache.Refresh(ctx); err != nil {
		t.Fatal(err)
	}

	entries := cache.Entries(types.ExchangeBinance, types.MarketFutures)
	if len(entries) != 1 {
		t.Fatalf("entries = %d, want 1", len(entries))
	}
	e := entries[0]
	// A negative threshold is a drop alert; evaluation uses its magnitude.
	if e.Threshold != 5 {
		t.Fatalf("threshold = %v, want 5", e.Threshold)
	}
	if e.TimeframeSec != 14_400 {
		t.Fatalf("timeframe = %d, want 14400", e.TimeframeSec)
	}
	if !e.InScope("SOLUSDT") || !e.InScope("ETHUSDT") {
		t.Fatal("whitelisted symbols must be in scope")
	}
	if e.InScope("BTCUSDT") {
		t.Fatal("unlisted symbol must be out of scope")
	}

	if got := cache.MaxTimeframeSec(); got != 14_400 {
		t.Fatalf("max timeframe = %d", got)
	}
	if !cache.ActivePair(types.ExchangeBinance, types.MarketFutures) {
		t.Fatal("pair with entries must be active")
	}
	if cache.ActivePair(types.ExchangeBybit, types.MarketSpot) {
		t.Fatal("pair without entries must be inactive")
	}
}

func TestCacheRefreshIdempotent(t *testing.T) {
	t.Parallel()
	st := newTestStore(t)
	cache := NewCache(st, time.Minute, &Counters{}, discardLogger())
	ctx := context.Background()

	insertComplexAlert(t, st, []string{"SOLUSDT", "ethusdt"}, 5, types.Timeframe5m, types.AlertForWhitelist)
	insertComplexAlert(t, st, []string{"BTCUSDT"}, 3, types.Timeframe1h, types.AlertForAll)

	if err := cache.Refresh(ctx); err != nil {
		t.Fatal(err)
	}
	first := cache.Entries(types.ExchangeBinance, types.MarketFutures)
	firstMax := cache.MaxTimeframeSec()

	// Refreshing against unchanged rows must not change the prepared view.
	if err := cache.Refresh(ctx); err != nil {
		t.Fatal(err)
	}
	second := cache.Entries(types.ExchangeBinance, types.MarketFutures)

	if !reflect.DeepEqual(first, second) {
		t.Fatalf("entries changed across refreshes:\nfirst:  %+v\nsecond: %+v", first, second)
	}
	if got := cache.MaxTimeframeSec(); got != firstMax {
		t.Fatalf("max timeframe = %d, want %d", got, firstMax)
	}
}

func TestCacheSkipsInvalidAlerts(t *testing.T) {
	t.Parallel()
	st := newTestStore(t)
	counters := &Counters{}
	cache := NewCache(st, time.Minute, counters, discardLogger())
	ctx := context.Background()

	insertComplexAlert(t, st, []string{"SOLUSDT"}, 5, types.Timeframe1m, types.AlertForWhitelist)
	// Unknown timeframe: prepared entries must not include it.
	now := time.Now().UTC()
	a := types.Alert{
		ID:        "bad-tf",
		UserID:    "user-1",
		Name:      "bad timeframe",
		AlertType: types.AlertTypeComplex,
		Exchange:  types.ExchangeBinance,
		Market:    types.MarketFutures,
		Symbols:   []string{"SOLUSDT"},
		Conditions: []types.AlertCondition{
			{Type: "pct_change", Value: 5, Timeframe: "7m"},
		},
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := st.InsertAlert(ctx, a); err != nil {
		t.Fatal(err)
	}

	if err := cache.Refresh(ctx); err != nil {
		t.Fatal(err)
	}
	entries := cache.Entries(types.ExchangeBinance, types.MarketFutures)
	if len(entries) != 1 {
		t.Fatalf("entries = %d, want only the valid alert", len(entries))
	}
	if got := counters.InvalidAlerts.Load(); got != 1 {
		t.Fatalf("invalid alerts = %d, want 1", got)
	}
}

func TestCacheDefaultsToWhitelist(t *testing.T) {
	t.Parallel()
	st := newTestStore(t)
	cache := NewCache(st, time.Minute, &Counters{}, discardLogger())
	ctx := context.Background()

	// No notification options at all: whitelist semantics apply.
	now := time.Now().UTC()
	a := types.Alert{
		ID:        "no-opts",
		UserID:    "user-1",
		Name:      "no options",
		AlertType: types.AlertTypeComplex,
		Exchange:  types.ExchangeBinance,
		Market:    types.MarketFutures,
		Symbols:   []string{"SOLUSDT"},
		Conditions: []types.AlertCondition{
			{Type: "pct_change", Value: 5, Timeframe: types.Timeframe5m},
		},
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := st.InsertAlert(ctx, a); err != nil {
		t.Fatal(err)
	}
	if err := cache.Refresh(ctx); err != nil {
		t.Fatal(err)
	}

	entries := cache.Entries(types.ExchangeBinance, types.MarketFutures)
	if len(entries) != 1 || entries[0].Mode != types.AlertForWhitelist {
		t.Fatalf("entries = %+v, want whitelist mode", entries)
	}
	if entries[0].InScope("BTCUSDT") {
		t.Fatal("default whitelist must not watch unlisted symbols")
	}
}
