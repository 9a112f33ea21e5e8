// binance.go implements the Adapter capability for Binance spot and USD-M
// futures. Market data comes from the public REST API:
//
//   - GET /api/v3/ticker/price   (fapi/v1 on futures) — last prices, bulk or per symbol
//   - GET /api/v3/exchangeInfo   (fapi/v1 on futures) — active symbol set
//   - GET /api/v3/klines         (fapi/v1 on futures) — closed OHLCV candles
//
// Prices arrive as JSON strings and are parsed through decimal to avoid
// float round-trip artifacts before they enter the engine.
package adapter

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"

	"alertengine/pkg/types"
)

const (
	binanceSpotURL    = "https://api.binance.com"
	binanceFuturesURL = "https://fapi.binance.com"
)

// Binance serves last prices, active symbols, and klines for Binance spot
// and USD-M perpetual futures.
type Binance struct {
	spot    *resty.Client
	futures *resty.Client
	rl      *RateLimiter
	prices  *priceCache
	symbols *symbolCache
	logger  *slog.Logger
}

// NewBinance creates the Binance adapter with shared caches and rate limits.
func NewBinance(logger *slog.Logger) *Binance {
	return &Binance{
		spot:    newRESTClient(binanceSpotURL),
		futures: newRESTClient(binanceFuturesURL),
		rl:      NewRateLimiter(),
		prices:  newPriceCache(),
		symbols: newSymbolCache(),
		logger:  logger.With("component", "adapter_binance"),
	}
}

func newRESTClient(baseURL string) *resty.Client {
	return resty.New().
		SetBaseURL(baseURL).
		SetTimeout(10 * time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(500 * time.Millisecond).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() >= 500
		})
}

// Name implements Adapter.
func (b *Binance) Name() types.Exchange { return types.ExchangeBinance }

func (b *Binance) client(market types.Market) *resty.Client {
	if market == types.MarketFutures {
		return b.futures
	}
	return b.spot
}

func (b *Binance) tickerPath(market types.Market) string {
	if market == types.MarketFutures {
		return "/fapi/v1/ticker/price"
	}
	return "/api/v3/ticker/price"
}

// binanceTicker is the /ticker/price response shape (one element or an array).
type binanceTicker struct {
	Symbol string `json:"symbol"`
	Price  string `json:"price"`
}

// LastPrices implements Adapter. With no symbols it returns the full market
// snapshot (served from the shared 2s cache unless FreshOnly); with symbols
// it filters the snapshot, or fetches each symbol individually in FreshOnly
// mode.
func (b *Binance) LastPrices(ctx context.Context, symbols []string, market types.Market, opts PriceOptions) (map[string]float64, error) {
	if opts.FreshOnly && len(symbols) > 0 {
		return b.freshPrices(ctx, symbols, market, opts)
	}

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
				return nil, fmt.Errorf("binance %s %s: %w", market, key, ErrSymbolUnavailable)
			}
			continue
		}
		out[key] = p
	}
	return out, nil
}

func (b *Binance) snapshot(ctx context.Context, market types.Market, skipCache bool) (map[string]float64, error) {
	cacheKey := types.PairKey(types.ExchangeBinance, market)
	if !skipCache {
		if cached, ok := b.prices.get(cacheKey); ok {
			return cached, nil
		}
	}

	if err := b.rl.Ticker.Wait(ctx); err != nil {
		return nil, err
	}

	var tickers []binanceTicker
	resp, err := b.client(market).R().
		SetContext(ctx).
		SetResult(&tickers).
		Get(b.tickerPath(market))
	if err != nil {
		return nil, fmt.Errorf("binance tickers: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("binance tickers: status %d", resp.StatusCode())
	}

	out := make(map[string]float64, len(tickers))
	for _, t := range tickers {
		if p, ok := parsePrice(t.Price); ok {
			out[NormalizeSymbol(t.Symbol)] = p
		}
	}
	b.prices.put(cacheKey, out)
	return out, nil
}

func (b *Binance) freshPrices(ctx context.Context, symbols []string, market types.Market, opts PriceOptions) (map[string]float64, error) {
	out := make(map[string]float64, len(symbols))
	for _, s := range symbols {
		key := NormalizeSymbol(s)
		if err := b.rl.Ticker.Wait(ctx); err != nil {
			return nil, err
		}

		var t binanceTicker
		resp, err := b.client(market).R().
			SetContext(ctx).
			SetQueryParam("symbol", key).
			SetResult(&t).
			Get(b.tickerPath(market))
		if err != nil || resp.StatusCode() != http.StatusOK {
			if opts.Strict {
				return nil, fmt.Errorf("binance %s %s: %w", market, key, ErrSymbolUnavailable)
			}
			continue
		}
		if p, ok := parsePrice(t.Price); ok {
			out[key] = p
		} else if opts.Strict {
			return nil, fmt.Errorf("binance %s %s: %w", market, key, ErrSymbolUnavailable)
		}
	}
	return out, nil
}

// ActiveSymbols implements Adapter. The set is cached for ~1h.
func (b *Binance) ActiveSymbols(ctx context.Context, market types.Market) (map[string]struct{}, error) {
	cacheKey := types.PairKey(types.ExchangeBinance, market)
	if cached, ok := b.symbols.get(cacheKey); ok {
		return cached, nil
	}

	if err := b.rl.Symbols.Wait(ctx); err != nil {
		return nil, err
	}

	path := "/api/v3/exchangeInfo"
	if market == types.MarketFutures {
		path = "/fapi/v1/exchangeInfo"
	}

	var info struct {
		Symbols []struct {
			Symbol       string `json:"symbol"`
			Status       string `json:"status"`
			ContractType string `json:"contractType"`
		} `json:"symbols"`
	}
	resp, err := b.client(market).R().
		SetContext(ctx).
		SetResult(&info).
		Get(path)
	if err != nil {
		return nil, fmt.Errorf("binance exchange info: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("binance exchange info: status %d", resp.StatusCode())
	}

	out := make(map[string]struct{}, len(info.Symbols))
	for _, s := range info.Symbols {
		if s.Status != "TRADING" {
			continue
		}
		if market == types.MarketFutures && s.ContractType != "PERPETUAL" {
			continue
		}
		out[NormalizeSymbol(s.Symbol)] = struct{}{}
	}
	b.symbols.put(cacheKey, out)
	return out, nil
}

// Klines implements Adapter. Binance returns candles as positional arrays:
// [openTimeMs, open, high, low, close, volume, closeTimeMs, ...] with OHLCV
// as strings. Only closed candles are returned.
func (b *Binance) Klines(ctx context.Context, symbol string, market types.Market, interval string, limit int, before time.Time) ([]types.Kline, error) {
	if err := b.rl.Klines.Wait(ctx); err != nil {
		return nil, err
	}

	path := "/api/v3/klines"
	if market == types.MarketFutures {
		path = "/fapi/v1/klines"
	}

	req := b.client(market).R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"symbol":   NormalizeSymbol(symbol),
			"interval": interval,
			"limit":    strconv.Itoa(limit),
		})
	if !before.IsZero() {
		req.SetQueryParam("endTime", strconv.FormatInt(before.UnixMilli(), 10))
	}

	var raw [][]any
	resp, err := req.SetResult(&raw).Get(path)
	if err != nil {
		return nil, fmt.Errorf("binance klines %s: %w", symbol, err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("binance klines %s: status %d", symbol, resp.StatusCode())
	}

	nowMs := time.Now().UnixMilli()
	out := make([]types.Kline, 0, len(raw))
	for _, row := range raw {
		if len(row) < 7 {
			continue
		}
		openMs, ok1 := asFloat(row[0])
		closeMs, ok2 := asFloat(row[6])
		if !ok1 || !ok2 || int64(closeMs) > nowMs {
			continue // open candle or malformed row
		}
		k := types.Kline{Time: int64(openMs) / 1000}
		ohlc := []*float64{&k.Open, &k.High, &k.Low, &k.Close}
		valid := true
		for i, dst := range ohlc {
			s, ok := row[i+1].(string)
			if !ok {
				valid = false
				break
			}
			p, ok := parsePrice(s)
			if !ok {
				valid = false
				break
			}
			*dst = p
		}
		if !valid {
			continue
		}
		if s, ok := row[5].(string); ok {
			if d, err := decimal.NewFromString(s); err == nil {
				k.Volume = d.InexactFloat64()
			}
		}
		out = append(out, k)
	}
	return out, nil
}

func asFloat(v any) (float64, bool) {
	f, ok := v.(float64)
	return f, ok
}

// parsePrice converts an exchange price string to a positive finite float.
func parsePrice(s string) (float64, bool) {
	d, err := decimal.NewFromString(s)
	if err != nil || d.Sign() <= 0 {
		return 0, false
	}
	return d.InexactFloat64(), true
}
