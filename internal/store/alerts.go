package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"alertengine/pkg/types"
)

const alertColumns = `id, user_id, name, description, alert_type, exchange, market, symbols,
target_value, condition, initial_price, conditions, notification_options,
is_active, triggered, triggered_at, created_at, updated_at`

// ActivePriceAlerts returns every evaluable price alert: active, not yet
// triggered, with at least one symbol. A fired (deleted) alert can never
// reappear here.
func (s *Store) ActivePriceAlerts(ctx context.Context) ([]types.Alert, error) {
	return s.queryAlerts(ctx, `
SELECT `+alertColumns+` FROM alerts
WHERE is_active=1 AND triggered=0 AND alert_type=? AND symbols != '[]'
ORDER BY created_at
`, string(types.AlertTypePrice))
}

// ActiveComplexAlerts returns every active complex alert. Triggered complex
// alerts stay active and keep evaluating under cooldown.
func (s *Store) ActiveComplexAlerts(ctx context.Context) ([]types.Alert, error) {
	return s.queryAlerts(ctx, `
SELECT `+alertColumns+` FROM alerts
WHERE is_active=1 AND alert_type=?
ORDER BY created_at
`, string(types.AlertTypeComplex))
}

// GetAlert returns one alert by id, or nil when absent.
func (s *Store) GetAlert(ctx context.Context, id string) (*types.Alert, error) {
	alerts, err := s.queryAlerts(ctx, `SELECT `+alertColumns+` FROM alerts WHERE id=?`, id)
	if err != nil {
		return nil, err
	}
	if len(alerts) == 0 {
		return nil, nil
	}
	return &alerts[0], nil
}

// InsertAlert stores a new alert record. The CRUD surface lives outside the
// engine; this exists for that layer and for tests.
func (s *Store) InsertAlert(ctx context.Context, a types.Alert) error {
	symbols, err := json.Marshal(a.Symbols)
	if err != nil {
		return fmt.Errorf("marshal symbols: %w", err)
	}
	var conditions, notifOpts any
	if a.Conditions != nil {
		b, err := json.Marshal(a.Conditions)
		if err != nil {
			return fmt.Errorf("marshal conditions: %w", err)
		}
		conditions = string(b)
	}
	if a.NotificationOptions != nil {
		b, err := json.Marshal(a.NotificationOptions)
		if err != nil {
			return fmt.Errorf("marshal notification options: %w", err)
		}
		notifOpts = string(b)
	}

	var triggeredAt any
	if a.TriggeredAt != nil {
		triggeredAt = a.TriggeredAt.UTC().Format(time.RFC3339Nano)
	}

	_, err = s.db.ExecContext(ctx, `
INSERT INTO alerts (`+alertColumns+`)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
`,
		a.ID, a.UserID, a.Name, nullable(a.Description), string(a.AlertType),
		string(a.Exchange), string(a.Market), string(symbols),
		floatPtr(a.TargetValue), nullable(string(a.Condition)), floatPtr(a.InitialPrice),
		conditions, notifOpts,
		boolInt(a.IsActive), boolInt(a.Triggered), triggeredAt,
		a.CreatedAt.UTC().Format(time.RFC3339Nano), a.UpdatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert alert: %w", err)
	}
	return nil
}

// DeleteAlert removes a price alert on fire. The returned bool is the
// de-duplication barrier: only the caller that actually deleted the row may
// emit notifications; a concurrent duplicate fire harmlessly gets false.
func (s *Store) DeleteAlert(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM alerts WHERE id=?`, id)
	if err != nil {
		return false, fmt.Errorf("delete alert: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// MarkComplexTriggered flips a complex alert to triggered while keeping it
// active, so it continues to evaluate under cooldown. Idempotent.
func (s *Store) MarkComplexTriggered(ctx context.Context, id string, at time.Time) error {
	ts := at.UTC().Format(time.RFC3339Nano)
	_, err := s.db.ExecContext(ctx, `
UPDATE alerts SET triggered=1, triggered_at=?, is_active=1, updated_at=?
WHERE id=?
`, ts, ts, id)
	if err != nil {
		return fmt.Errorf("mark triggered: %w", err)
	}
	return nil
}

func (s *Store) queryAlerts(ctx context.Context, query string, args ...any) ([]types.Alert, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query alerts: %w", err)
	}
	defer rows.Close()

	var out []types.Alert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func scanAlert(rows *sql.Rows) (types.Alert, error) {
	var (
		a                               types.Alert
		description, condition          sql.NullString
		symbols                         string
		targetValue, initialPrice       sql.NullFloat64
		conditions, notifOpts           sql.NullString
		isActive, triggered             int
		triggeredAt                     sql.NullString
		createdAt, updatedAt            string
	)
	err := rows.Scan(
		&a.ID, &a.UserID, &a.Name, &description, (*string)(&a.AlertType),
		(*string)(&a.Exchange), (*string)(&a.Market), &symbols,
		&targetValue, &condition, &initialPrice, &conditions, &notifOpts,
		&isActive, &triggered, &triggeredAt, &createdAt, &updatedAt,
	)
	if err != nil {
		return a, fmt.Errorf("scan alert: %w", err)
	}

	a.Description = description.String
	a.Condition = types.Condition(condition.String)
	if err := json.Unmarshal([]byte(symbols), &a.Symbols); err != nil {
		return a, fmt.Errorf("alert %s: unparseable symbols: %w", a.ID, err)
	}
	if targetValue.Valid {
		v := targetValue.Float64
		a.TargetValue = &v
	}
	if initialPrice.Valid {
		v := initialPrice.Float64
		a.InitialPrice = &v
	}
	if conditions.Valid && conditions.String != "" {
		if err := json.Unmarshal([]byte(conditions.String), &a.Conditions); err != nil {
			return a, fmt.Errorf("alert %s: unparseable conditions: %w", a.ID, err)
		}
	}
	if notifOpts.Valid && notifOpts.String != "" {
		var opts types.NotificationOptions
		if err := json.Unmarshal([]byte(notifOpts.String), &opts); err != nil {
			return a, fmt.Errorf("alert %s: unparseable notification options: %w", a.ID, err)
		}
		a.NotificationOptions = &opts
	}
	a.IsActive = isActive != 0
	a.Triggered = triggered != 0
	if triggeredAt.Valid {
		if t, err := time.Parse(time.RFC3339Nano, triggeredAt.String); err == nil {
			a.TriggeredAt = &t
		}
	}
	a.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	a.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	return a, nil
}

func floatPtr(p *float64) any {
	if p == nil {
		return nil
	}
	return *p
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
