package alerts

import (
	"testing"
	"time"
)

func TestCooldownSpacing(t *testing.T) {
	t.Parallel()
	c := NewCooldowns()
	now := time.Now().UnixMilli()

	if !c.CanEmit("a1", "BTCUSDT", now, Cooldown) {
		t.Fatal("fresh pair must be emittable")
	}
	if !c.TryMark("a1", "BTCUSDT", now, Cooldown) {
		t.Fatal("first mark must succeed")
	}
	if c.TryMark("a1", "BTCUSDT", now+1000, Cooldown) {
		t.Fatal("mark inside cooldown must fail")
	}
	if c.CanEmit("a1", "BTCUSDT", now+29_000, Cooldown) {
		t.Fatal("29s after fire is still cooling")
	}
	if !c.CanEmit("a1", "BTCUSDT", now+30_000, Cooldown) {
		t.Fatal("30s after fire must be emittable again")
	}
}

func TestCooldownIsPerSymbol(t *testing.T) {
	t.Parallel()
	c := NewCooldowns()
	now := time.Now().UnixMilli()

	c.TryMark("a1", "BTCUSDT", now, Cooldown)
	if !c.CanEmit("a1", "ETHUSDT", now, Cooldown) {
		t.Fatal("cooldown must not leak across symbols")
	}
	if !c.CanEmit("a2", "BTCUSDT", now, Cooldown) {
		t.Fatal("cooldown must not leak across alerts")
	}
}

func TestCooldownForget(t *testing.T) {
	t.Parallel()
	c := NewCooldowns()
	now := time.Now().UnixMilli()

	c.TryMark("a1", "BTCUSDT", now, Cooldown)
	c.Forget("a1")
	if !c.CanEmit("a1", "BTCUSDT", now, Cooldown) {
		t.Fatal("forgotten alert must be emittable immediately")
	}
}
