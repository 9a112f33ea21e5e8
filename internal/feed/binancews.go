// binancews.go implements a push-mode fan-in producer over the Binance
// all-market miniTicker websocket stream.
//
// The stream emits an array of miniTicker objects roughly once per second
// covering every symbol that traded. Each batch becomes one TickEvent
// published into the fan-in. The connection auto-reconnects with exponential
// backoff (1s up to 30s) and a read deadline detects silent server failures.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"alertengine/internal/adapter"
	"alertengine/pkg/types"
)

const (
	wsReadTimeout      = 90 * time.Second
	wsMaxReconnectWait = 30 * time.Second
)

// BinanceStream feeds one Binance market's miniTicker stream into a FanIn.
type BinanceStream struct {
	url    string
	market types.Market
	fanin  *FanIn
	logger *slog.Logger
}

// NewBinanceStream creates a push producer for one Binance market.
func NewBinanceStream(url string, market types.Market, fanin *FanIn, logger *slog.Logger) *BinanceStream {
	return &BinanceStream{
		url:    url,
		market: market,
		fanin:  fanin,
		logger: logger.With("component", "ws_binance", "market", string(market)),
	}
}

// Market returns the market this stream covers.
func (s *BinanceStream) Market() types.Market {
	return s.market
}

// Run connects and maintains the stream with auto-reconnect.
// Blocks until ctx is cancelled.
func (s *BinanceStream) Run(ctx context.Context) error {
	backoff := time.Second

	for {
		err := s.connectAndRead(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		s.logger.Warn("websocket disconnected, reconnecting",
			"error", err,
			"backoff", backoff,
		)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > wsMaxReconnectWait {
			backoff = wsMaxReconnectWait
		}
	}
}

func (s *BinanceStream) connectAndRead(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	// The server pings; answering keeps the read deadline honest.
	conn.SetPingHandler(func(appData string) error {
		return conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(10*time.Second))
	})

	s.logger.Info("websocket connected")

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}

		s.handleBatch(msg)
	}
}

// miniTicker is one element of the !miniTicker@arr payload.
type miniTicker struct {
	Symbol string `json:"s"`
	Close  string `json:"c"`
}

func (s *BinanceStream) handleBatch(data []byte) {
	var batch []miniTicker
	if err := json.Unmarshal(data, &batch); err != nil {
		// Subscription acks and other control frames are not arrays.
		s.logger.Debug("ignoring non-ticker ws message")
		return
	}
	if len(batch) == 0 {
		return
	}

	prices := make(map[string]float64, len(batch))
	for _, t := range batch {
		d, err := decimal.NewFromString(t.Close)
		if err != nil || d.Sign() <= 0 {
			continue
		}
		prices[adapter.NormalizeSymbol(t.Symbol)] = d.InexactFloat64()
	}
	if len(prices) == 0 {
		return
	}

	s.fanin.Publish(types.TickEvent{
		Exchange: types.ExchangeBinance,
		Market:   s.market,
		Prices:   prices,
		TS:       time.Now().UnixMilli(),
	})
}
