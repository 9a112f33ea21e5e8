package alerts

import (
	"context"
	"testing"
	"time"

	"alertengine/internal/adapter"
	"alertengine/internal/store"
	"alertengine/pkg/types"
)

func newKlinesSweep(t *testing.T, fake *fakeAdapter) (*KlinesSweep, *Counters, *store.Store) {
	t.Helper()
	st := newTestStore(t)
	counters := &Counters{}
	reg := adapter.NewRegistry(fake)
	k := NewKlinesSweep(st, reg, newTestSink(t, st), 2*time.Minute, 6*time.Hour, 0, counters, discardLogger())
	return k, counters, st
}

func TestKlinesSweepFiresOnContainedTarget(t *testing.T) {
	t.Parallel()
	now := time.Now().Unix()
	// A spike candle whose [low, high] covers the 3.00 target.
	fake := &fakeAdapter{
		name: types.ExchangeBinance,
		klines: []types.Kline{
			{Time: now - 180, Open: 2.80, High: 2.85, Low: 2.75, Close: 2.82},
			{Time: now - 120, Open: 2.95, High: 3.15, Low: 2.90, Close: 3.10},
		},
	}
	k, counters, st := newKlinesSweep(t, fake)
	ctx := context.Background()

	a := insertPriceAlert(t, st, "XRPUSDT", 3.00, ptr(2.50), "")
	// Backdate creation so the candles fall after it.
	a.CreatedAt = time.Now().UTC().Add(-time.Hour)

	fired, err := k.checkAlert(ctx, a)
	if err != nil {
		t.Fatal(err)
	}
	if !fired {
		t.Fatal("candle containing the target must fire")
	}
	if got := counters.KlinesFires.Load(); got != 1 {
		t.Fatalf("klines fires = %d, want 1", got)
	}
	if alert, _ := st.GetAlert(ctx, a.ID); alert != nil {
		t.Fatal("fired alert must be deleted")
	}
}

func TestKlinesSweepIgnoresCandlesBeforeCreation(t *testing.T) {
	t.Parallel()
	now := time.Now().Unix()
	fake := &fakeAdapter{
		name: types.ExchangeBinance,
		klines: []types.Kline{
			// The crossing happened before the alert existed.
			{Time: now - 3600, Open: 2.95, High: 3.15, Low: 2.90, Close: 3.10},
		},
	}
	k, counters, st := newKlinesSweep(t, fake)
	ctx := context.Background()

	a := insertPriceAlert(t, st, "XRPUSDT", 3.00, ptr(2.50), "")
	// CreatedAt is now: the hour-old candle is out of range.

	fired, err := k.checkAlert(ctx, a)
	if err != nil {
		t.Fatal(err)
	}
	if fired {
		t.Fatal("pre-existing crossing must not fire a new alert")
	}
	if got := counters.KlinesFires.Load(); got != 0 {
		t.Fatalf("klines fires = %d, want 0", got)
	}
}

func TestKlinesSweepNoFireWhenOutsideRange(t *testing.T) {
	t.Parallel()
	now := time.Now().Unix()
	fake := &fakeAdapter{
		name: types.ExchangeBinance,
		klines: []types.Kline{
			{Time: now - 120, Open: 2.50, High: 2.60, Low: 2.45, Close: 2.55},
		},
	}
	k, counters, st := newKlinesSweep(t, fake)
	ctx := context.Background()

	a := insertPriceAlert(t, st, "XRPUSDT", 3.00, ptr(2.50), "")
	a.CreatedAt = time.Now().UTC().Add(-time.Hour)

	fired, err := k.checkAlert(ctx, a)
	if err != nil {
		t.Fatal(err)
	}
	if fired {
		t.Fatal("candle away from the target must not fire")
	}
	if got := counters.KlinesFires.Load(); got != 0 {
		t.Fatalf("klines fires = %d, want 0", got)
	}
}
