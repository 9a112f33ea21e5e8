package feed

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"alertengine/pkg/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func event(prices map[string]float64) types.TickEvent {
	return types.TickEvent{
		Exchange: types.ExchangeBinance,
		Market:   types.MarketFutures,
		Prices:   prices,
		TS:       time.Now().UnixMilli(),
	}
}

func TestPublishFansOut(t *testing.T) {
	t.Parallel()
	f := New(nil, nil, time.Second, 8, testLogger())

	_, ch1 := f.Subscribe()
	_, ch2 := f.Subscribe()

	f.Publish(event(map[string]float64{"BTCUSDT": 100}))

	for i, ch := range []<-chan types.TickEvent{ch1, ch2} {
		select {
		case ev := <-ch:
			if ev.Prices["BTCUSDT"] != 100 {
				t.Fatalf("subscriber %d got %+v", i, ev)
			}
		case <-time.After(time.Second):
			t.Fatalf("subscriber %d did not receive the event", i)
		}
	}
}

func TestPublishSkipsEmptyEvents(t *testing.T) {
	t.Parallel()
	f := New(nil, nil, time.Second, 8, testLogger())
	_, ch := f.Subscribe()

	f.Publish(event(nil))

	select {
	case ev := <-ch:
		t.Fatalf("empty event delivered: %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestPriceMapKeepsLatest(t *testing.T) {
	t.Parallel()
	f := New(nil, nil, time.Second, 8, testLogger())

	f.Publish(event(map[string]float64{"BTCUSDT": 100}))
	f.Publish(event(map[string]float64{"BTCUSDT": 101}))

	got := f.PriceMap(types.ExchangeBinance, types.MarketFutures)
	if got["BTCUSDT"] != 101 {
		t.Fatalf("latest snapshot = %v", got)
	}
	if f.PriceMap(types.ExchangeBybit, types.MarketSpot) != nil {
		t.Fatal("unknown pair must have no snapshot")
	}
}

func TestSlowSubscriberDropsOldest(t *testing.T) {
	t.Parallel()
	f := New(nil, nil, time.Second, 1, testLogger())
	_, ch := f.Subscribe()

	// Mailbox size 1: the second publish evicts the first event.
	f.Publish(event(map[string]float64{"BTCUSDT": 100}))
	f.Publish(event(map[string]float64{"BTCUSDT": 200}))

	select {
	case ev := <-ch:
		if ev.Prices["BTCUSDT"] != 200 {
			t.Fatalf("kept event = %+v, want the newest", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("no event delivered")
	}
	if got := f.Drops(); got != 1 {
		t.Fatalf("drops = %d, want 1", got)
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	t.Parallel()
	f := New(nil, nil, time.Second, 8, testLogger())
	id, ch := f.Subscribe()

	f.Unsubscribe(id)
	if _, open := <-ch; open {
		t.Fatal("channel must be closed after unsubscribe")
	}

	// Publishing after unsubscribe is harmless.
	f.Publish(event(map[string]float64{"BTCUSDT": 100}))
}
