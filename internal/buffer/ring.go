// Package buffer maintains short-window price histories per
// (exchange, market, symbol).
//
// The fan-in appends last-price snapshots; the complex alert evaluators read
// window statistics back out. Series are bounded two ways: points older than
// the retention horizon are evicted, and length is capped at MaxPoints.
// Appends are debounced to one sample per SampleInterval; within the
// debounce window the last point's price is updated in place with its
// timestamp kept fixed, so a window always accumulates enough distinct
// samples to cover its timeframe.
package buffer

import (
	"math"
	"sort"
	"sync"
	"time"

	"alertengine/pkg/types"
)

const (
	// SampleInterval is the minimum spacing between stored points.
	SampleInterval = 3 * time.Second
	// Retention is the default horizon beyond which points are evicted.
	Retention = 7 * time.Minute
	// MaxPoints caps each series regardless of retention.
	MaxPoints = 180
	// MinPointsInWindow is the smallest effective sample count windowStats
	// will work with.
	MinPointsInWindow = 2

	// debounceSlack tolerates producer jitter just under SampleInterval.
	debounceSlack = 250 * time.Millisecond
)

// Stats summarizes the points of one symbol inside a lookback window.
// Oldest and Current are the prices at the window edges; Min and Max span
// every considered point, including a bridge point if one was used.
type Stats struct {
	Min     float64
	Max     float64
	Oldest  float64
	Current float64
	Points  int
}

// series is one symbol's bounded time-series. Each series has its own lock
// so one writer and many readers never contend across symbols.
type series struct {
	mu     sync.RWMutex
	points []types.PricePoint
}

// Store holds all series, keyed by "exchange|market|symbol".
type Store struct {
	mu     sync.RWMutex
	series map[string]*series
	// pairSymbols indexes the symbols seen per "exchange|market" so the
	// safety-net sweeper can iterate without scanning every key.
	pairSymbols map[string]map[string]struct{}
}

// NewStore creates an empty ring-buffer store.
func NewStore() *Store {
	return &Store{
		series:      make(map[string]*series),
		pairSymbols: make(map[string]map[string]struct{}),
	}
}

func seriesKey(ex types.Exchange, mkt types.Market, symbol string) string {
	return string(ex) + "|" + string(mkt) + "|" + symbol
}

func (s *Store) getOrCreate(ex types.Exchange, mkt types.Market, symbol string) *series {
	key := seriesKey(ex, mkt, symbol)

	s.mu.RLock()
	sr, ok := s.series[key]
	s.mu.RUnlock()
	if ok {
		return sr
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if sr, ok = s.series[key]; ok {
		return sr
	}
	sr = &series{}
	s.series[key] = sr

	pair := types.PairKey(ex, mkt)
	if s.pairSymbols[pair] == nil {
		s.pairSymbols[pair] = make(map[string]struct{})
	}
	s.pairSymbols[pair][symbol] = struct{}{}
	return sr
}

// Append stores one price map snapshot for a pair. Non-positive and
// non-finite prices are dropped. Each symbol's series is then trimmed to the
// retention horizon and MaxPoints.
func (s *Store) Append(ex types.Exchange, mkt types.Market, prices map[string]float64, nowMs int64, retention time.Duration) {
	retainMs := retention.Milliseconds()
	for symbol, price := range prices {
		if price <= 0 || math.IsInf(price, 0) || math.IsNaN(price) {
			continue
		}
		sr := s.getOrCreate(ex, mkt, symbol)
		sr.append(nowMs, price, retainMs)
	}
}

func (sr *series) append(nowMs int64, price float64, retainMs int64) {
	debounceMs := (SampleInterval - debounceSlack).Milliseconds()

	sr.mu.Lock()
	defer sr.mu.Unlock()

	n := len(sr.points)
	if n > 0 && nowMs-sr.points[n-1].TS < debounceMs {
		// Inside the debounce window: refresh the price, keep the timestamp.
		sr.points[n-1].Price = price
	} else if n > 0 && nowMs < sr.points[n-1].TS {
		// Clock went backwards; keep appends monotonic.
		sr.points[n-1].Price = price
	} else {
		sr.points = append(sr.points, types.PricePoint{TS: nowMs, Price: price})
	}

	// Evict expired points.
	cutoff := nowMs - retainMs
	idx := sort.Search(len(sr.points), func(i int) bool { return sr.points[i].TS >= cutoff })
	if idx > 0 {
		sr.points = append(sr.points[:0], sr.points[idx:]...)
	}

	// Cap length, dropping oldest.
	if over := len(sr.points) - MaxPoints; over > 0 {
		sr.points = append(sr.points[:0], sr.points[over:]...)
	}
}

// WindowStats computes min/max/oldest/current over the points of the last
// lookback seconds. If fewer than MinPointsInWindow points fall inside the
// window, the single most recent point older than the cutoff (if any) is
// bridged in as the oldest baseline. Returns false when there are still not
// enough effective points.
func (s *Store) WindowStats(ex types.Exchange, mkt types.Market, symbol string, nowMs int64, lookbackSec int64) (Stats, bool) {
	s.mu.RLock()
	sr, ok := s.series[seriesKey(ex, mkt, symbol)]
	s.mu.RUnlock()
	if !ok {
		return Stats{}, false
	}

	sr.mu.RLock()
	defer sr.mu.RUnlock()

	cutoff := nowMs - lookbackSec*1000
	idx := sort.Search(len(sr.points), func(i int) bool { return sr.points[i].TS >= cutoff })
	window := sr.points[idx:]

	var bridge *types.PricePoint
	if len(window) < MinPointsInWindow && idx > 0 {
		bridge = &sr.points[idx-1]
	}

	effective := len(window)
	if bridge != nil {
		effective++
	}
	if effective < MinPointsInWindow {
		return Stats{}, false
	}

	st := Stats{Min: math.Inf(1), Max: math.Inf(-1), Points: effective}
	consider := func(p types.PricePoint) {
		if p.Price < st.Min {
			st.Min = p.Price
		}
		if p.Price > st.Max {
			st.Max = p.Price
		}
	}
	if bridge != nil {
		consider(*bridge)
		st.Oldest = bridge.Price
	} else {
		st.Oldest = window[0].Price
	}
	for _, p := range window {
		consider(p)
	}
	if len(window) > 0 {
		st.Current = window[len(window)-1].Price
	} else {
		st.Current = st.Oldest
	}

	if st.Min <= 0 || math.IsInf(st.Min, 1) {
		return Stats{}, false
	}
	return st, true
}

// Symbols returns every symbol tracked for the pair. Used by the safety-net
// sweeper to evaluate symbols that did not appear in the latest tick.
func (s *Store) Symbols(ex types.Exchange, mkt types.Market) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	set := s.pairSymbols[types.PairKey(ex, mkt)]
	out := make([]string, 0, len(set))
	for sym := range set {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}

// Len returns the stored point count for one symbol (test helper).
func (s *Store) Len(ex types.Exchange, mkt types.Market, symbol string) int {
	s.mu.RLock()
	sr, ok := s.series[seriesKey(ex, mkt, symbol)]
	s.mu.RUnlock()
	if !ok {
		return 0
	}
	sr.mu.RLock()
	defer sr.mu.RUnlock()
	return len(sr.points)
}
