// Package notify is the trigger sink: the single place a fired alert is
// committed and delivered.
//
// Per fire, in order: (1) the persistent state change — delete a price
// alert, mark a complex alert triggered; (2) an alertTriggered event on the
// user's realtime channel; (3) a short Telegram message when the user has a
// linked chat. Steps 2 and 3 are best effort; step 1 is the de-duplication
// barrier.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"alertengine/internal/realtime"
	"alertengine/internal/store"
	"alertengine/pkg/types"
)

// eventName is the realtime channel event for every fired alert.
const eventName = "alertTriggered"

// Sink commits and delivers fired alerts.
type Sink struct {
	store  *store.Store
	hub    *realtime.Hub
	tg     *Telegram
	logger *slog.Logger
}

// NewSink creates a sink. hub and tg may be nil (delivery disabled).
func NewSink(st *store.Store, hub *realtime.Hub, tg *Telegram, logger *slog.Logger) *Sink {
	return &Sink{
		store:  st,
		hub:    hub,
		tg:     tg,
		logger: logger.With("component", "sink", "scope", "alertEngine"),
	}
}

// FirePrice commits a price alert fire. The record is deleted under the
// primary-key guard; when another replica or loop got there first, the fire
// is silently abandoned and false returned.
func (s *Sink) FirePrice(ctx context.Context, a types.Alert, symbol string, currentPrice float64, direction types.Condition, at time.Time) (bool, error) {
	deleted, err := s.store.DeleteAlert(ctx, a.ID)
	if err != nil {
		return false, fmt.Errorf("fire price alert %s: %w", a.ID, err)
	}
	if !deleted {
		return false, nil // duplicate concurrent fire
	}

	var target float64
	if a.TargetValue != nil {
		target = *a.TargetValue
	}
	payload := types.PricePayload{
		PayloadHeader: s.header(a, at),
		AlertType:     types.AlertTypePrice,
		Exchange:      a.Exchange,
		Market:        a.Market,
		Symbol:        symbol,
		CurrentPrice:  currentPrice,
		TargetValue:   target,
		Condition:     direction,
	}

	s.logger.Info("trigger.price",
		"alert", a.ID, "user", a.UserID, "symbol", symbol,
		"price", currentPrice, "target", target, "direction", string(direction),
	)

	s.deliver(ctx, a.UserID, payload, fmt.Sprintf(
		"🔔 *%s*\n%s %s price %s reached target %s (%s)",
		a.Name, a.Exchange, symbol, fmtPrice(currentPrice), fmtPrice(target), direction,
	))
	return true, nil
}

// FireComplex commits a complex alert fire: the alert is marked triggered
// but stays active, then the payload is delivered. The payload header is
// filled here from the alert and fire time.
func (s *Sink) FireComplex(ctx context.Context, a types.Alert, p types.ComplexPayload, at time.Time) error {
	if err := s.store.MarkComplexTriggered(ctx, a.ID, at); err != nil {
		return fmt.Errorf("fire complex alert %s: %w", a.ID, err)
	}
	p.PayloadHeader = s.header(a, at)

	s.logger.Info("trigger.complex",
		"alert", a.ID, "user", a.UserID, "symbol", p.Symbol,
		"pct", p.PctChange, "window_sec", p.WindowSeconds,
	)

	s.deliver(ctx, a.UserID, p, fmt.Sprintf(
		"📈 *%s*\n%s %s moved %s within %s (from %s to %s)",
		a.Name, a.Exchange, p.Symbol, fmtPct(p.PctChange),
		(time.Duration(p.WindowSeconds) * time.Second).String(),
		fmtPrice(p.BaselinePrice), fmtPrice(p.CurrentPrice),
	))
	return nil
}

func (s *Sink) header(a types.Alert, at time.Time) types.PayloadHeader {
	return types.PayloadHeader{
		ID:          uuid.New().String(),
		AlertID:     a.ID,
		UserID:      a.UserID,
		Name:        a.Name,
		Description: a.Description,
		Triggered:   true,
		TriggeredAt: at,
	}
}

// deliver runs the best-effort legs: realtime emit then messenger dispatch.
// Failures are logged and never undo the committed state change.
func (s *Sink) deliver(ctx context.Context, userID string, payload any, message string) {
	if s.hub != nil {
		s.hub.Emit(userID, eventName, payload)
	}

	if !s.tg.Enabled() {
		return
	}
	chatID, linked, err := s.store.TelegramChatID(ctx, userID)
	if err != nil {
		s.logger.Warn("telegram chat lookup failed", "user", userID, "error", err)
		return
	}
	if !linked {
		return
	}
	if err := s.tg.SendMessage(ctx, chatID, message); err != nil {
		s.logger.Warn("telegram dispatch failed", "user", userID, "error", err)
	}
}
