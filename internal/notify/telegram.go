// telegram.go dispatches fired-alert messages through the Telegram Bot API.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
)

// Telegram sends short formatted messages to linked chats. A nil or
// tokenless Telegram silently drops everything, which is the configured-off
// state.
type Telegram struct {
	http   *resty.Client
	token  string
	logger *slog.Logger
}

// NewTelegram creates the sender. An empty token disables sending.
func NewTelegram(baseURL, token string, logger *slog.Logger) *Telegram {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(10 * time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(time.Second)

	return &Telegram{
		http:   client,
		token:  token,
		logger: logger.With("component", "telegram"),
	}
}

// Enabled reports whether a bot token is configured.
func (t *Telegram) Enabled() bool {
	return t != nil && t.token != ""
}

// SendMessage delivers one Markdown message to a chat.
func (t *Telegram) SendMessage(ctx context.Context, chatID, text string) error {
	if !t.Enabled() {
		return nil
	}

	resp, err := t.http.R().
		SetContext(ctx).
		SetBody(map[string]string{
			"chat_id":    chatID,
			"text":       text,
			"parse_mode": "Markdown",
		}).
		Post(fmt.Sprintf("/bot%s/sendMessage", t.token))
	if err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return fmt.Errorf("telegram send: status %d: %s", resp.StatusCode(), resp.String())
	}
	return nil
}

// fmtPrice renders a price without float artifacts or trailing zeros.
func fmtPrice(v float64) string {
	return decimal.NewFromFloat(v).Round(8).String()
}

// fmtPct renders a signed percentage with two decimals.
func fmtPct(v float64) string {
	d := decimal.NewFromFloat(v).Round(2)
	if d.Sign() > 0 {
		return "+" + d.String() + "%"
	}
	return d.String() + "%"
}
