package adapter

import (
	"context"
	"testing"
	"time"
)

func TestTokenBucketBurst(t *testing.T) {
	t.Parallel()
	tb := NewTokenBucket(3, 1000)
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 3; i++ {
		if err := tb.Wait(ctx); err != nil {
			t.Fatalf("wait %d: %v", i, err)
		}
	}
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Fatalf("burst within capacity took %v", elapsed)
	}
}

func TestTokenBucketHonorsCancel(t *testing.T) {
	t.Parallel()
	// Drained bucket with a glacial refill: Wait must return on cancel.
	tb := NewTokenBucket(1, 0.001)
	ctx := context.Background()
	if err := tb.Wait(ctx); err != nil {
		t.Fatal(err)
	}

	cancelled, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	if err := tb.Wait(cancelled); err == nil {
		t.Fatal("expected context error from drained bucket")
	}
}

func TestParsePrice(t *testing.T) {
	t.Parallel()
	if p, ok := parsePrice("50000.10"); !ok || p != 50000.10 {
		t.Fatalf("parsePrice = %v, %v", p, ok)
	}
	for _, s := range []string{"0", "-1", "", "abc"} {
		if _, ok := parsePrice(s); ok {
			t.Errorf("parsePrice(%q) accepted", s)
		}
	}
}
