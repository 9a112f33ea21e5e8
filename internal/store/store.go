// Package store persists alerts, users, and the engine lease in SQLite.
//
// The database file is shared by every engine replica; the engine_lease row
// is the only cross-process critical section, mutated exclusively through
// conditional statements (see lease.go). All other access is plain reads
// plus the two fire-path writes: delete a price alert, mark a complex alert
// triggered.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Store wraps the shared SQLite database.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path and runs migrations.
// Pass ":memory:" for an ephemeral database in tests.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create store dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// SQLite has a single writer; one pooled connection sidesteps
	// SQLITE_BUSY between the engine's own goroutines.
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	stmts := []string{
		`PRAGMA journal_mode=WAL;`,
		`PRAGMA busy_timeout=5000;`,
		`
CREATE TABLE IF NOT EXISTS alerts (
  id TEXT PRIMARY KEY,
  user_id TEXT NOT NULL,
  name TEXT NOT NULL,
  description TEXT,
  alert_type TEXT NOT NULL,
  exchange TEXT NOT NULL,
  market TEXT NOT NULL,
  symbols TEXT NOT NULL DEFAULT '[]',
  target_value REAL,
  condition TEXT,
  initial_price REAL,
  conditions TEXT,
  notification_options TEXT,
  is_active INTEGER NOT NULL DEFAULT 1,
  triggered INTEGER NOT NULL DEFAULT 0,
  triggered_at TEXT,
  created_at TEXT NOT NULL,
  updated_at TEXT NOT NULL
);`,
		`CREATE INDEX IF NOT EXISTS idx_alerts_active_type ON alerts (is_active, triggered, alert_type);`,
		`
CREATE TABLE IF NOT EXISTS users (
  id TEXT PRIMARY KEY,
  telegram_chat_id TEXT
);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// TelegramChatID returns the linked Telegram chat id for a user, or ok=false
// when the user is unlinked or unknown.
func (s *Store) TelegramChatID(ctx context.Context, userID string) (string, bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT telegram_chat_id FROM users WHERE id=?`, userID)
	var chatID sql.NullString
	if err := row.Scan(&chatID); err != nil {
		if err == sql.ErrNoRows {
			return "", false, nil
		}
		return "", false, err
	}
	if !chatID.Valid || chatID.String == "" {
		return "", false, nil
	}
	return chatID.String, true, nil
}

// UpsertUser creates or updates a user row. Used by the account layer and by
// tests; the engine itself only reads users.
func (s *Store) UpsertUser(ctx context.Context, userID, telegramChatID string) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO users (id, telegram_chat_id) VALUES (?,?)
ON CONFLICT(id) DO UPDATE SET telegram_chat_id=excluded.telegram_chat_id
`, userID, nullable(telegramChatID))
	return err
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
