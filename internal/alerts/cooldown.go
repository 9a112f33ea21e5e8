package alerts

import (
	"sync"
	"time"
)

// Cooldown is the default minimum spacing between two fires of the same
// (alert, symbol).
const Cooldown = 30 * time.Second

// Cooldowns serializes fires per (alertID, symbol). The evaluators consult
// CanEmit cheaply during scanning; the fire path calls TryMark as the
// authoritative check-and-set.
type Cooldowns struct {
	mu   sync.Mutex
	last map[string]map[string]int64 // alertID -> symbol -> last fire ms
}

// NewCooldowns creates an empty cooldown map.
func NewCooldowns() *Cooldowns {
	return &Cooldowns{last: make(map[string]map[string]int64)}
}

// CanEmit reports whether a fire for (alertID, symbol) is allowed at nowMs.
func (c *Cooldowns) CanEmit(alertID, symbol string, nowMs int64, cooldown time.Duration) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	last, ok := c.last[alertID][symbol]
	return !ok || nowMs-last >= cooldown.Milliseconds()
}

// TryMark atomically re-checks the cooldown and, if clear, records nowMs as
// the last fire. Returns false when another fire won the race.
func (c *Cooldowns) TryMark(alertID, symbol string, nowMs int64, cooldown time.Duration) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if last, ok := c.last[alertID][symbol]; ok && nowMs-last < cooldown.Milliseconds() {
		return false
	}
	if c.last[alertID] == nil {
		c.last[alertID] = make(map[string]int64)
	}
	c.last[alertID][symbol] = nowMs
	return true
}

// Forget clears all state for an alert (deleted or no longer cached).
func (c *Cooldowns) Forget(alertID string) {
	c.mu.Lock()
	delete(c.last, alertID)
	c.mu.Unlock()
}
