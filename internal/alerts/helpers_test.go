package alerts

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"

	"alertengine/internal/adapter"
	"alertengine/internal/notify"
	"alertengine/internal/store"
	"alertengine/pkg/types"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func newTestSink(t *testing.T, st *store.Store) *notify.Sink {
	t.Helper()
	return notify.NewSink(st, nil, nil, discardLogger())
}

// fakeAdapter serves canned prices and candles for loop tests.
type fakeAdapter struct {
	name   types.Exchange
	prices map[string]float64
	klines []types.Kline
	err    error
}

func (f *fakeAdapter) Name() types.Exchange { return f.name }

func (f *fakeAdapter) LastPrices(ctx context.Context, symbols []string, market types.Market, opts adapter.PriceOptions) (map[string]float64, error) {
	if f.err != nil {
		return nil, f.err
	}
	if len(symbols) == 0 {
		out := make(map[string]float64, len(f.prices))
		for k, v := range f.prices {
			out[k] = v
		}
		return out, nil
	}
	out := make(map[string]float64, len(symbols))
	for _, sym := range symbols {
		if p, ok := f.prices[sym]; ok {
			out[sym] = p
		} else if opts.Strict {
			return nil, adapter.ErrSymbolUnavailable
		}
	}
	return out, nil
}

func (f *fakeAdapter) ActiveSymbols(ctx context.Context, market types.Market) (map[string]struct{}, error) {
	out := make(map[string]struct{}, len(f.prices))
	for k := range f.prices {
		out[k] = struct{}{}
	}
	return out, nil
}

func (f *fakeAdapter) Klines(ctx context.Context, symbol string, market types.Market, interval string, limit int, before time.Time) ([]types.Kline, error) {
	return f.klines, f.err
}

func insertPriceAlert(t *testing.T, st *store.Store, symbol string, target float64, initial *float64, cond types.Condition) types.Alert {
	t.Helper()
	now := time.Now().UTC()
	a := types.Alert{
		ID:           uuid.New().String(),
		UserID:       "user-1",
		Name:         "test price alert",
		AlertType:    types.AlertTypePrice,
		Exchange:     types.ExchangeBinance,
		Market:       types.MarketFutures,
		Symbols:      []string{symbol},
		TargetValue:  &target,
		InitialPrice: initial,
		Condition:    cond,
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := st.InsertAlert(context.Background(), a); err != nil {
		t.Fatalf("insert price alert: %v", err)
	}
	return a
}

func insertComplexAlert(t *testing.T, st *store.Store, symbols []string, threshold float64, tf types.Timeframe, mode types.AlertForMode) types.Alert {
	t.Helper()
	now := time.Now().UTC()
	a := types.Alert{
		ID:        uuid.New().String(),
		UserID:    "user-1",
		Name:      "test complex alert",
		AlertType: types.AlertTypeComplex,
		Exchange:  types.ExchangeBinance,
		Market:    types.MarketFutures,
		Symbols:   symbols,
		Conditions: []types.AlertCondition{
			{Type: "pct_change", Value: threshold, Timeframe: tf},
		},
		NotificationOptions: &types.NotificationOptions{AlertForMode: mode},
		IsActive:            true,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	if err := st.InsertAlert(context.Background(), a); err != nil {
		t.Fatalf("insert complex alert: %v", err)
	}
	return a
}

func ptr(v float64) *float64 { return &v }
