// Package types defines shared data structures used across all packages.
//
// This package is the common vocabulary for the alert engine: alert records,
// price points, kline candles, fan-in tick events, and notification payloads.
// It has no dependencies on internal packages, so it can be imported by any
// layer.
package types

import (
	"fmt"
	"time"
)

// Exchange identifies a supported exchange. The set is small and closed;
// adapters register under these names.
type Exchange string

const (
	ExchangeBinance Exchange = "binance"
	ExchangeBybit   Exchange = "bybit"
)

// Market distinguishes the futures (perpetual) and spot markets of an exchange.
type Market string

const (
	MarketFutures Market = "futures"
	MarketSpot    Market = "spot"
)

// AlertType selects the evaluation path for an alert.
type AlertType string

const (
	// AlertTypePrice fires on touch or cross of a fixed target price and is
	// deleted once fired.
	AlertTypePrice AlertType = "price"
	// AlertTypeComplex fires when the peak-to-trough span of a symbol within
	// a rolling window exceeds a percentage threshold. It stays active after
	// firing and keeps evaluating under a cooldown.
	AlertTypeComplex AlertType = "complex"
)

// Condition is the legacy directional hint on price alerts. New alerts carry
// InitialPrice instead and rely on touch/cross detection.
type Condition string

const (
	ConditionAbove Condition = "above"
	ConditionBelow Condition = "below"
)

// AlertForMode scopes which symbols a complex alert watches.
type AlertForMode string

const (
	// AlertForAll watches every USDT pair on the alert's exchange/market.
	AlertForAll AlertForMode = "all"
	// AlertForWhitelist watches only the symbols listed on the alert.
	AlertForWhitelist AlertForMode = "whitelist"
)

// Timeframe is the rolling-window width for complex alert conditions.
type Timeframe string

const (
	Timeframe1m  Timeframe = "1m"
	Timeframe5m  Timeframe = "5m"
	Timeframe15m Timeframe = "15m"
	Timeframe30m Timeframe = "30m"
	Timeframe1h  Timeframe = "1h"
	Timeframe4h  Timeframe = "4h"
	Timeframe1d  Timeframe = "1d"
)

// Seconds returns the window width in seconds, or an error for unknown values.
func (tf Timeframe) Seconds() (int64, error) {
	switch tf {
	case Timeframe1m:
		return 60, nil
	case Timeframe5m:
		return 300, nil
	case Timeframe15m:
		return 900, nil
	case Timeframe30m:
		return 1800, nil
	case Timeframe1h:
		return 3600, nil
	case Timeframe4h:
		return 14400, nil
	case Timeframe1d:
		return 86400, nil
	default:
		return 0, fmt.Errorf("unknown timeframe %q", string(tf))
	}
}

// AlertCondition is one entry of a complex alert's conditions list.
// Only pct_change is defined today; Value is the threshold in percent.
type AlertCondition struct {
	Type      string    `json:"type"`
	Value     float64   `json:"value"`
	Timeframe Timeframe `json:"timeframe"`
}

// NotificationOptions carries per-alert delivery settings.
type NotificationOptions struct {
	AlertForMode AlertForMode `json:"alertForMode"`
}

// Alert is the persistent alert record. It is created, updated, and deleted
// by the external CRUD layer; the engine only reads it, marks complex alerts
// triggered, and deletes price alerts on fire.
type Alert struct {
	ID          string    `json:"id"`
	UserID      string    `json:"userId"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	AlertType   AlertType `json:"alertType"`
	Exchange    Exchange  `json:"exchange"`
	Market      Market    `json:"market"`

	// Symbols is an ordered list of canonical full symbols (e.g. BTCUSDT).
	// Price alerts use only the first entry.
	Symbols []string `json:"symbols"`

	TargetValue  *float64  `json:"targetValue,omitempty"`
	Condition    Condition `json:"condition,omitempty"`
	InitialPrice *float64  `json:"initialPrice,omitempty"`

	Conditions          []AlertCondition     `json:"conditions,omitempty"`
	NotificationOptions *NotificationOptions `json:"notificationOptions,omitempty"`

	IsActive    bool       `json:"isActive"`
	Triggered   bool       `json:"triggered"`
	TriggeredAt *time.Time `json:"triggeredAt,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

// FirstSymbol returns the first symbol of the alert, or "" if the list is empty.
func (a *Alert) FirstSymbol() string {
	if len(a.Symbols) == 0 {
		return ""
	}
	return a.Symbols[0]
}

// PricePoint is one sample in a symbol's ring buffer.
// TS is wall-clock milliseconds; Price is always positive and finite.
type PricePoint struct {
	TS    int64   `json:"ts"`
	Price float64 `json:"price"`
}

// Kline is a closed OHLCV candle as returned by exchange adapters.
// Time is the candle open time in seconds; candles are chronological ascending.
type Kline struct {
	Time   int64   `json:"time"`
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume float64 `json:"volume"`
}

// Contains reports whether the candle's [low, high] interval covers the price.
func (k Kline) Contains(price float64) bool {
	return k.Low <= price && price <= k.High
}

// TickEvent is one fan-in event: the latest known prices for all symbols of
// one (exchange, market) pair. Events carry absolute prices, never deltas.
type TickEvent struct {
	Exchange Exchange
	Market   Market
	Prices   map[string]float64
	TS       int64 // event time, milliseconds
}

// PayloadHeader is the shared header of every notification payload.
type PayloadHeader struct {
	ID          string    `json:"id"`
	AlertID     string    `json:"alertId"`
	UserID      string    `json:"userId"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Triggered   bool      `json:"triggered"`
	TriggeredAt time.Time `json:"triggeredAt"`
}

// PricePayload is emitted when a price alert fires.
type PricePayload struct {
	PayloadHeader
	AlertType    AlertType `json:"alertType"`
	Exchange     Exchange  `json:"exchange"`
	Market       Market    `json:"market"`
	Symbol       string    `json:"symbol"`
	CurrentPrice float64   `json:"currentPrice"`
	TargetValue  float64   `json:"targetValue"`
	Condition    Condition `json:"condition"`
}

// ComplexPayload is emitted when a complex alert fires for one symbol.
// PctChange is signed: positive when the window moved up, negative when down.
type ComplexPayload struct {
	PayloadHeader
	AlertType     AlertType `json:"alertType"`
	Exchange      Exchange  `json:"exchange"`
	Market        Market    `json:"market"`
	Symbol        string    `json:"symbol"`
	PctChange     float64   `json:"pctChange"`
	BaselinePrice float64   `json:"baselinePrice"`
	CurrentPrice  float64   `json:"currentPrice"`
	WindowSeconds int64     `json:"windowSeconds"`
}

// Lease is the cross-process single-worker lease row. Name is the primary
// key; at most one live owner exists per name at any wall-clock instant.
type Lease struct {
	Name       string `json:"name"`
	OwnerID    string `json:"ownerId"`
	AcquiredAt int64  `json:"acquiredAt"` // milliseconds
	RenewedAt  int64  `json:"renewedAt"`
	ExpiresAt  int64  `json:"expiresAt"`
	Meta       string `json:"meta,omitempty"`
}

// PairKey returns the "exchange|market" key used to index per-pair state.
func PairKey(ex Exchange, mkt Market) string {
	return string(ex) + "|" + string(mkt)
}
