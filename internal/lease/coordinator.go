// Package lease elects a single firing worker across engine replicas.
//
// All replicas ingest prices and keep warm ring buffers, but only the holder
// of the shared lease row runs the firing loops. The row lives in the shared
// SQLite database and is mutated exclusively through conditional statements
// keyed on owner and expiry, so at most one replica holds an unexpired lease
// at any wall-clock instant (modulo clock skew below one heartbeat).
//
// If lease bootstrap itself fails the coordinator degrades to a no-lease
// always-owner mode so single-instance deployments still fire alerts.
package lease

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"alertengine/internal/store"
)

// Callbacks notify the engine of ownership transitions. Both are invoked
// from the coordinator's tick goroutine and must not block for long.
type Callbacks struct {
	OnAcquire func()
	OnLose    func()
}

// Coordinator claims and renews the lease on a fixed cadence.
type Coordinator struct {
	store   *store.Store
	name    string
	ownerID string
	ttl     time.Duration
	tick    time.Duration
	cb      Callbacks
	logger  *slog.Logger

	owner    atomic.Bool
	fallback atomic.Bool // no-lease mode after failed bootstrap
	inTick   atomic.Bool // non-reentrant tick guard
}

// New creates a coordinator. The tick period is min(heartbeat, retry).
func New(st *store.Store, name, ownerID string, ttl, heartbeat, retry time.Duration, cb Callbacks, logger *slog.Logger) *Coordinator {
	tick := heartbeat
	if retry < tick {
		tick = retry
	}
	return &Coordinator{
		store:   st,
		name:    name,
		ownerID: ownerID,
		ttl:     ttl,
		tick:    tick,
		cb:      cb,
		logger:  logger.With("component", "lease", "scope", "alertEngine", "lease", name, "owner", ownerID),
	}
}

// IsOwner reports whether this instance currently holds the lease (or is in
// no-lease fallback).
func (c *Coordinator) IsOwner() bool {
	return c.owner.Load()
}

// Bootstrap prepares the lease table and attempts a first claim. A failed
// table setup switches to the always-owner fallback rather than leaving the
// deployment mute.
func (c *Coordinator) Bootstrap(ctx context.Context) {
	if err := c.store.EnsureLeaseTable(ctx); err != nil {
		c.logger.Error("engine.start.fallback: lease bootstrap failed, running without lease", "error", err)
		c.fallback.Store(true)
		c.becomeOwner()
		return
	}
	c.step(ctx)
}

// Run drives the claim/renew cadence until ctx is cancelled.
func (c *Coordinator) Run(ctx context.Context) {
	if c.fallback.Load() {
		<-ctx.Done()
		return
	}

	ticker := time.NewTicker(c.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !c.inTick.CompareAndSwap(false, true) {
				continue // previous tick still in flight
			}
			c.step(ctx)
			c.inTick.Store(false)
		}
	}
}

func (c *Coordinator) step(ctx context.Context) {
	nowMs := time.Now().UnixMilli()
	expiresMs := nowMs + c.ttl.Milliseconds()

	if !c.owner.Load() {
		ok, err := c.store.ClaimLease(ctx, c.name, c.ownerID, nowMs, expiresMs, "")
		if err != nil {
			c.logger.Warn("lease.claim.error", "error", err)
			return
		}
		if !ok {
			c.logger.Debug("lease.claim.miss")
			return
		}
		c.logger.Info("lease.claim.success", "expires_in", c.ttl)
		c.becomeOwner()
		return
	}

	ok, err := c.store.RenewLease(ctx, c.name, c.ownerID, nowMs, expiresMs)
	if err != nil {
		c.logger.Warn("lease.renew.error", "error", err)
		return
	}
	if !ok {
		c.logger.Warn("lease.renew.lost")
		c.owner.Store(false)
		if c.cb.OnLose != nil {
			c.cb.OnLose()
		}
		return
	}
	c.logger.Debug("lease.renew.success")
}

func (c *Coordinator) becomeOwner() {
	c.owner.Store(true)
	if c.cb.OnAcquire != nil {
		c.cb.OnAcquire()
	}
}

// Release gives the lease back on shutdown if still held.
func (c *Coordinator) Release(ctx context.Context) {
	if c.fallback.Load() || !c.owner.Swap(false) {
		return
	}
	if err := c.store.ReleaseLease(ctx, c.name, c.ownerID); err != nil {
		c.logger.Error("lease.release.error", "error", err)
		return
	}
	c.logger.Info("lease.release")
}
