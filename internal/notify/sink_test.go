package notify

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"

	"alertengine/internal/store"
	"alertengine/pkg/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func openStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func insertAlert(t *testing.T, st *store.Store, alertType types.AlertType) types.Alert {
	t.Helper()
	now := time.Now().UTC()
	target := 50_000.0
	a := types.Alert{
		ID:          uuid.New().String(),
		UserID:      "user-1",
		Name:        "sink test",
		AlertType:   alertType,
		Exchange:    types.ExchangeBinance,
		Market:      types.MarketFutures,
		Symbols:     []string{"BTCUSDT"},
		TargetValue: &target,
		IsActive:    true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if alertType == types.AlertTypeComplex {
		a.TargetValue = nil
		a.Conditions = []types.AlertCondition{{Type: "pct_change", Value: 5, Timeframe: types.Timeframe5m}}
	}
	if err := st.InsertAlert(context.Background(), a); err != nil {
		t.Fatal(err)
	}
	return a
}

func TestFirePriceDeletesOnce(t *testing.T) {
	t.Parallel()
	st := openStore(t)
	sink := NewSink(st, nil, nil, testLogger())
	ctx := context.Background()

	a := insertAlert(t, st, types.AlertTypePrice)
	at := time.Now().UTC()

	fired, err := sink.FirePrice(ctx, a, "BTCUSDT", 50_001, types.ConditionAbove, at)
	if err != nil || !fired {
		t.Fatalf("first fire = %v, %v", fired, err)
	}

	// The duplicate concurrent fire loses the delete race: no error, no emit.
	fired, err = sink.FirePrice(ctx, a, "BTCUSDT", 50_001, types.ConditionAbove, at)
	if err != nil || fired {
		t.Fatalf("second fire = %v, %v", fired, err)
	}

	if alert, _ := st.GetAlert(ctx, a.ID); alert != nil {
		t.Fatal("fired price alert must be gone")
	}
}

func TestFireComplexMarksTriggered(t *testing.T) {
	t.Parallel()
	st := openStore(t)
	sink := NewSink(st, nil, nil, testLogger())
	ctx := context.Background()

	a := insertAlert(t, st, types.AlertTypeComplex)
	at := time.Now().UTC()

	payload := types.ComplexPayload{
		AlertType:     types.AlertTypeComplex,
		Exchange:      a.Exchange,
		Market:        a.Market,
		Symbol:        "BTCUSDT",
		PctChange:     5.2,
		BaselinePrice: 60_000,
		CurrentPrice:  63_100,
		WindowSeconds: 300,
	}
	if err := sink.FireComplex(ctx, a, payload, at); err != nil {
		t.Fatal(err)
	}

	got, err := st.GetAlert(ctx, a.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !got.Triggered || !got.IsActive {
		t.Fatalf("triggered=%v active=%v, want both true", got.Triggered, got.IsActive)
	}
}
