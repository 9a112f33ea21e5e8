// bybit.go implements the Adapter capability for Bybit spot and linear
// perpetuals via the unified v5 REST API:
//
//   - GET /v5/market/tickers          — last prices per category
//   - GET /v5/market/instruments-info — active symbol set
//   - GET /v5/market/kline            — OHLCV candles (newest first upstream)
package adapter

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"

	"alertengine/pkg/types"
)

const bybitBaseURL = "https://api.bybit.com"

// Bybit serves last prices, active symbols, and klines for Bybit spot and
// linear perpetual markets.
type Bybit struct {
	http    *resty.Client
	rl      *RateLimiter
	prices  *priceCache
	symbols *symbolCache
	logger  *slog.Logger
}

// NewBybit creates the Bybit adapter.
func NewBybit(logger *slog.Logger) *Bybit {
	return &Bybit{
		http:    newRESTClient(bybitBaseURL),
		rl:      NewRateLimiter(),
		prices:  newPriceCache(),
		symbols: newSymbolCache(),
		logger:  logger.With("component", "adapter_bybit"),
	}
}

// Name implements Adapter.
func (b *Bybit) Name() types.Exchange { return types.ExchangeBybit }

func bybitCategory(market types.Market) string {
	if market == types.MarketFutures {
		return "linear"
	}
	return "spot"
}

// bybitEnvelope is the common v5 response wrapper.
type bybitEnvelope[T any] struct {
	RetCode int    `json:"retCode"`
	RetMsg  string `json:"retMsg"`
	Result  T      `json:"result"`
}

// LastPrices implements Adapter. Bybit's tickers endpoint returns the whole
// category in one call, so per-symbol fresh fetches reuse it with a symbol
// filter upstream.
func (b *Bybit) LastPrices(ctx context.Context, symbols []string, market types.Market, opts PriceOptions) (map[string]float64, error) {
	all, err := b.snapshot(ctx, market, opts.FreshOnly)
	if err != nil {
		return nil, err
	}
	if len(symbols) == 0 {
		return all, nil
	}

	out := make(map[string]float64, len(symbols))
	for _, s := range symbols {
		key := NormalizeSymbol(s)
		p, ok := all[key]
		if !ok {
			if opts.Strict {
				return nil, fmt.Errorf("bybit %s %s: %w", market, key, ErrSymbolUnavailable)
			}
			continue
		}
		out[key] = p
	}
	return out, nil
}

func (b *Bybit) snapshot(ctx context.Context, market types.Market, skipCache bool) (map[string]float64, error) {
	cacheKey := types.PairKey(types.ExchangeBybit, market)
	if !skipCache {
		if cached, ok := b.prices.get(cacheKey); ok {
			return cached, nil
		}
	}

	if err := b.rl.Ticker.Wait(ctx); err != nil {
		return nil, err
	}

	var env bybitEnvelope[struct {
		List []struct {
			Symbol    string `json:"symbol"`
			LastPrice string `json:"lastPrice"`
		} `json:"list"`
	}]
	resp, err := b.http.R().
		SetContext(ctx).
		SetQueryParam("category", bybitCategory(market)).
		SetResult(&env).
		Get("/v5/market/tickers")
	if err != nil {
		return nil, fmt.Errorf("bybit tickers: %w", err)
	}
	if resp.StatusCode() != http.StatusOK || env.RetCode != 0 {
		return nil, fmt.Errorf("bybit tickers: status %d ret %d %s", resp.StatusCode(), env.RetCode, env.RetMsg)
	}

	out := make(map[string]float64, len(env.Result.List))
	for _, t := range env.Result.List {
		if p, ok := parsePrice(t.LastPrice); ok {
			out[NormalizeSymbol(t.Symbol)] = p
		}
	}
	b.prices.put(cacheKey, out)
	return out, nil
}

// ActiveSymbols implements Adapter. The set is cached for ~1h.
func (b *Bybit) ActiveSymbols(ctx context.Context, market types.Market) (map[string]struct{}, error) {
	cacheKey := types.PairKey(types.ExchangeBybit, market)
	if cached, ok := b.symbols.get(cacheKey); ok {
		return cached, nil
	}

	if err := b.rl.Symbols.Wait(ctx); err != nil {
		return nil, err
	}

	var env bybitEnvelope[struct {
		List []struct {
			Symbol string `json:"symbol"`
			Status string `json:"status"`
		} `json:"list"`
	}]
	resp, err := b.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"category": bybitCategory(market),
			"limit":    "1000",
		}).
		SetResult(&env).
		Get("/v5/market/instruments-info")
	if err != nil {
		return nil, fmt.Errorf("bybit instruments: %w", err)
	}
	if resp.StatusCode() != http.StatusOK || env.RetCode != 0 {
		return nil, fmt.Errorf("bybit instruments: status %d ret %d %s", resp.StatusCode(), env.RetCode, env.RetMsg)
	}

	out := make(map[string]struct{}, len(env.Result.List))
	for _, s := range env.Result.List {
		if s.Status != "Trading" {
			continue
		}
		out[NormalizeSymbol(s.Symbol)] = struct{}{}
	}
	b.symbols.put(cacheKey, out)
	return out, nil
}

// bybitInterval maps the shared interval notation onto Bybit's v5 values.
func bybitInterval(interval string) string {
	switch interval {
	case "1m":
		return "1"
	case "5m":
		return "5"
	case "15m":
		return "15"
	case "30m":
		return "30"
	case "1h":
		return "60"
	case "4h":
		return "240"
	case "1d":
		return "D"
	default:
		return "1"
	}
}

// Klines implements Adapter. Bybit returns rows newest first as string
// arrays [startMs, open, high, low, close, volume, turnover]; rows are
// reversed to chronological ascending and open candles dropped.
func (b *Bybit) Klines(ctx context.Context, symbol string, market types.Market, interval string, limit int, before time.Time) ([]types.Kline, error) {
	if err := b.rl.Klines.Wait(ctx); err != nil {
		return nil, err
	}

	req := b.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"category": bybitCategory(market),
			"symbol":   NormalizeSymbol(symbol),
			"interval": bybitInterval(interval),
			"limit":    strconv.Itoa(limit),
		})
	if !before.IsZero() {
		req.SetQueryParam("end", strconv.FormatInt(before.UnixMilli(), 10))
	}

	var env bybitEnvelope[struct {
		List [][]string `json:"list"`
	}]
	resp, err := req.SetResult(&env).Get("/v5/market/kline")
	if err != nil {
		return nil, fmt.Errorf("bybit klines %s: %w", symbol, err)
	}
	if resp.StatusCode() != http.StatusOK || env.RetCode != 0 {
		return nil, fmt.Errorf("bybit klines %s: status %d ret %d %s", symbol, resp.StatusCode(), env.RetCode, env.RetMsg)
	}

	intervalSec := intervalSeconds(interval)
	nowSec := time.Now().Unix()
	out := make([]types.Kline, 0, len(env.Result.List))
	for i := len(env.Result.List) - 1; i >= 0; i-- {
		row := env.Result.List[i]
		if len(row) < 6 {
			continue
		}
		startMs, err := strconv.ParseInt(row[0], 10, 64)
		if err != nil {
			continue
		}
		k := types.Kline{Time: startMs / 1000}
		if k.Time+intervalSec > nowSec {
			continue // still open
		}
		open, ok1 := parsePrice(row[1])
		high, ok2 := parsePrice(row[2])
		low, ok3 := parsePrice(row[3])
		closep, ok4 := parsePrice(row[4])
		if !ok1 || !ok2 || !ok3 || !ok4 {
			continue
		}
		k.Open, k.High, k.Low, k.Close = open, high, low, closep
		k.Volume, _ = strconv.ParseFloat(row[5], 64)
		out = append(out, k)
	}
	return out, nil
}

func intervalSeconds(interval string) int64 {
	if sec, err := types.Timeframe(interval).Seconds(); err == nil {
		return sec
	}
	return 60
}
