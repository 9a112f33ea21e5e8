package buffer

import (
	"testing"
	"time"

	"alertengine/pkg/types"
)

const (
	ex  = types.ExchangeBinance
	mkt = types.MarketFutures
)

func appendOne(s *Store, symbol string, ts int64, price float64) {
	s.Append(ex, mkt, map[string]float64{symbol: price}, ts, Retention)
}

func TestAppendDebounceKeepsTimestamp(t *testing.T) {
	t.Parallel()
	s := NewStore()
	base := time.Now().UnixMilli()

	appendOne(s, "BTCUSDT", base, 100)
	// Inside the debounce window: price refreshed, point count unchanged.
	appendOne(s, "BTCUSDT", base+1000, 101)
	if got := s.Len(ex, mkt, "BTCUSDT"); got != 1 {
		t.Fatalf("expected 1 point after debounced append, got %d", got)
	}

	st, ok := s.WindowStats(ex, mkt, "BTCUSDT", base+1000, 60)
	if ok {
		t.Fatalf("one point must not produce stats, got %+v", st)
	}

	// Past the debounce window a new point is stored.
	appendOne(s, "BTCUSDT", base+3000, 102)
	if got := s.Len(ex, mkt, "BTCUSDT"); got != 2 {
		t.Fatalf("expected 2 points, got %d", got)
	}
}

func TestAppendDropsBadPrices(t *testing.T) {
	t.Parallel()
	s := NewStore()
	base := time.Now().UnixMilli()

	s.Append(ex, mkt, map[string]float64{"BTCUSDT": 0, "ETHUSDT": -5}, base, Retention)
	if got := s.Len(ex, mkt, "BTCUSDT"); got != 0 {
		t.Fatalf("zero price must be dropped, got %d points", got)
	}
	if got := s.Len(ex, mkt, "ETHUSDT"); got != 0 {
		t.Fatalf("negative price must be dropped, got %d points", got)
	}
}

func TestAppendClockBackwards(t *testing.T) {
	t.Parallel()
	s := NewStore()
	base := time.Now().UnixMilli()

	appendOne(s, "BTCUSDT", base, 100)
	appendOne(s, "BTCUSDT", base+5000, 101)
	// Clock jumps backwards: the series stays monotonic, price refreshed.
	appendOne(s, "BTCUSDT", base+2000, 99)
	if got := s.Len(ex, mkt, "BTCUSDT"); got != 2 {
		t.Fatalf("expected 2 points after backwards append, got %d", got)
	}

	st, ok := s.WindowStats(ex, mkt, "BTCUSDT", base+5000, 60)
	if !ok {
		t.Fatal("expected stats")
	}
	if st.Current != 99 {
		t.Fatalf("current = %v, want refreshed 99", st.Current)
	}
}

func TestRetentionEviction(t *testing.T) {
	t.Parallel()
	s := NewStore()
	base := time.Now().UnixMilli()

	appendOne(s, "BTCUSDT", base-10*60*1000, 90) // beyond the 7m horizon
	appendOne(s, "BTCUSDT", base-30*1000, 99)
	appendOne(s, "BTCUSDT", base, 100)

	if got := s.Len(ex, mkt, "BTCUSDT"); got != 2 {
		t.Fatalf("expired point must be evicted, got %d points", got)
	}
}

func TestMaxPointsCap(t *testing.T) {
	t.Parallel()
	s := NewStore()
	base := time.Now().UnixMilli() - int64(MaxPoints+50)*3000

	for i := 0; i < MaxPoints+50; i++ {
		// Spaced past the debounce window, within a huge retention.
		s.Append(ex, mkt, map[string]float64{"BTCUSDT": float64(100 + i)}, base+int64(i)*3000, 24*time.Hour)
	}
	if got := s.Len(ex, mkt, "BTCUSDT"); got != MaxPoints {
		t.Fatalf("expected cap at %d points, got %d", MaxPoints, got)
	}
}

func TestWindowStatsSpan(t *testing.T) {
	t.Parallel()
	s := NewStore()
	now := time.Now().UnixMilli()

	// A 5m window that dipped to 60000 and recovered to 63100: the
	// peak-to-trough span is 5.1667%, the end-to-end move only 4.3%.
	appendOne(s, "SOLUSDT", now-240*1000, 60500)
	appendOne(s, "SOLUSDT", now-180*1000, 60000)
	appendOne(s, "SOLUSDT", now-60*1000, 62000)
	appendOne(s, "SOLUSDT", now, 63100)

	st, ok := s.WindowStats(ex, mkt, "SOLUSDT", now, 300)
	if !ok {
		t.Fatal("expected stats")
	}
	if st.Min != 60000 || st.Max != 63100 {
		t.Fatalf("min/max = %v/%v", st.Min, st.Max)
	}
	if st.Oldest != 60500 || st.Current != 63100 {
		t.Fatalf("oldest/current = %v/%v", st.Oldest, st.Current)
	}
	span := (st.Max - st.Min) / st.Min * 100
	if span < 5.16 || span > 5.17 {
		t.Fatalf("span = %v, want ~5.1667", span)
	}
}

func TestWindowStatsBridgePoint(t *testing.T) {
	t.Parallel()
	s := NewStore()
	now := time.Now().UnixMilli()

	// Only one in-window point; the most recent pre-window point bridges in
	// as the baseline.
	appendOne(s, "BTCUSDT", now-120*1000, 95)
	appendOne(s, "BTCUSDT", now-90*1000, 100)
	appendOne(s, "BTCUSDT", now, 105)

	st, ok := s.WindowStats(ex, mkt, "BTCUSDT", now, 60)
	if !ok {
		t.Fatal("expected stats via bridge point")
	}
	if st.Oldest != 100 {
		t.Fatalf("bridge baseline = %v, want 100", st.Oldest)
	}
	if st.Min != 100 || st.Max != 105 {
		t.Fatalf("min/max = %v/%v", st.Min, st.Max)
	}
	if st.Points != 2 {
		t.Fatalf("effective points = %d, want 2", st.Points)
	}
}

func TestWindowStatsInsufficient(t *testing.T) {
	t.Parallel()
	s := NewStore()
	now := time.Now().UnixMilli()

	if _, ok := s.WindowStats(ex, mkt, "NOPE", now, 60); ok {
		t.Fatal("unknown symbol must not produce stats")
	}
	appendOne(s, "BTCUSDT", now, 100)
	if _, ok := s.WindowStats(ex, mkt, "BTCUSDT", now, 60); ok {
		t.Fatal("a single point must not produce stats")
	}
}

func TestSymbols(t *testing.T) {
	t.Parallel()
	s := NewStore()
	now := time.Now().UnixMilli()

	s.Append(ex, mkt, map[string]float64{"ETHUSDT": 2, "BTCUSDT": 1}, now, Retention)
	s.Append(ex, types.MarketSpot, map[string]float64{"SOLUSDT": 3}, now, Retention)

	got := s.Symbols(ex, mkt)
	if len(got) != 2 || got[0] != "BTCUSDT" || got[1] != "ETHUSDT" {
		t.Fatalf("symbols = %v", got)
	}
	if got := s.Symbols(ex, types.MarketSpot); len(got) != 1 || got[0] != "SOLUSDT" {
		t.Fatalf("spot symbols = %v", got)
	}
}
