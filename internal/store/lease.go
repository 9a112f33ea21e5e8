package store

import (
	"context"
	"database/sql"
	"fmt"

	"alertengine/pkg/types"
)

// EnsureLeaseTable creates the engine_lease table if absent. Called during
// lease bootstrap; failure here puts the coordinator into its no-lease
// fallback.
func (s *Store) EnsureLeaseTable(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS engine_lease (
  name TEXT PRIMARY KEY,
  owner_id TEXT NOT NULL,
  acquired_at INTEGER NOT NULL,
  renewed_at INTEGER NOT NULL,
  expires_at INTEGER NOT NULL,
  meta TEXT
);`)
	if err != nil {
		return fmt.Errorf("create lease table: %w", err)
	}
	return nil
}

// ClaimLease atomically takes the lease if the existing row is expired or
// already owned by this instance, inserting the row when absent. Returns
// true when this instance holds the lease afterwards.
func (s *Store) ClaimLease(ctx context.Context, name, ownerID string, nowMs, expiresMs int64, meta string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
INSERT INTO engine_lease (name, owner_id, acquired_at, renewed_at, expires_at, meta)
VALUES (?,?,?,?,?,?)
ON CONFLICT(name) DO UPDATE SET
  owner_id=excluded.owner_id,
  acquired_at=excluded.acquired_at,
  renewed_at=excluded.renewed_at,
  expires_at=excluded.expires_at,
  meta=excluded.meta
WHERE engine_lease.expires_at <= ? OR engine_lease.owner_id = ?
`, name, ownerID, nowMs, nowMs, expiresMs, nullable(meta), nowMs, ownerID)
	if err != nil {
		return false, fmt.Errorf("claim lease: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// RenewLease extends the lease only while still owned and unexpired.
// Returns false when the lease was lost.
func (s *Store) RenewLease(ctx context.Context, name, ownerID string, nowMs, expiresMs int64) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
UPDATE engine_lease SET renewed_at=?, expires_at=?
WHERE name=? AND owner_id=? AND expires_at > ?
`, nowMs, expiresMs, name, ownerID, nowMs)
	if err != nil {
		return false, fmt.Errorf("renew lease: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ReleaseLease deletes the lease row if still owned by this instance.
func (s *Store) ReleaseLease(ctx context.Context, name, ownerID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM engine_lease WHERE name=? AND owner_id=?`, name, ownerID)
	if err != nil {
		return fmt.Errorf("release lease: %w", err)
	}
	return nil
}

// GetLease returns the current lease row, or nil when absent.
func (s *Store) GetLease(ctx context.Context, name string) (*types.Lease, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT name, owner_id, acquired_at, renewed_at, expires_at, COALESCE(meta, '')
FROM engine_lease WHERE name=?
`, name)
	var l types.Lease
	if err := row.Scan(&l.Name, &l.OwnerID, &l.AcquiredAt, &l.RenewedAt, &l.ExpiresAt, &l.Meta); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get lease: %w", err)
	}
	return &l, nil
}
