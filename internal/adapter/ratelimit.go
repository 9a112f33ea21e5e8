// ratelimit.go implements token-bucket rate limiting for exchange REST APIs.
//
// Public market-data endpoints on Binance and Bybit enforce per-minute weight
// budgets. The buckets refill continuously rather than in per-minute bursts
// so a busy fast loop degrades smoothly instead of hitting hard 429s.
//
// Three buckets are maintained per adapter:
//   - Ticker:  bulk and per-symbol last-price reads (the fast loop's hot path)
//   - Klines:  candle history reads (the 2-minute sweep)
//   - Symbols: exchange-info reads (served from a 1h cache, so nearly idle)
package adapter

import (
	"context"
	"sync"
	"time"
)

// TokenBucket is a continuous-refill token bucket. Callers block in Wait()
// until a token is available or the context is cancelled.
type TokenBucket struct {
	mu       sync.Mutex
	tokens   float64   // current available tokens (fractional allowed)
	capacity float64   // maximum burst size
	rate     float64   // tokens refilled per second
	lastTime time.Time // last time tokens were recalculated
}

// NewTokenBucket creates a rate limiter with the given capacity and refill rate.
func NewTokenBucket(capacity, ratePerSecond float64) *TokenBucket {
	return &TokenBucket{
		tokens:   capacity,
		capacity: capacity,
		rate:     ratePerSecond,
		lastTime: time.Now(),
	}
}

// Wait blocks until a token is available or ctx is cancelled.
func (tb *TokenBucket) Wait(ctx context.Context) error {
	for {
		tb.mu.Lock()
		now := time.Now()
		elapsed := now.Sub(tb.lastTime).Seconds()
		tb.tokens += elapsed * tb.rate
		if tb.tokens > tb.capacity {
			tb.tokens = tb.capacity
		}
		tb.lastTime = now

		if tb.tokens >= 1 {
			tb.tokens--
			tb.mu.Unlock()
			return nil
		}

		wait := time.Duration((1 - tb.tokens) / tb.rate * float64(time.Second))
		tb.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
			// retry
		}
	}
}

// RateLimiter groups token buckets by endpoint category.
type RateLimiter struct {
	Ticker  *TokenBucket
	Klines  *TokenBucket
	Symbols *TokenBucket
}

// NewRateLimiter creates buckets tuned for public market-data budgets.
// Both exchanges allow far more than this; the caps keep one misbehaving
// loop from starving the others.
func NewRateLimiter() *RateLimiter {
	return &RateLimiter{
		Ticker:  NewTokenBucket(60, 10),
		Klines:  NewTokenBucket(30, 5),
		Symbols: NewTokenBucket(5, 0.5),
	}
}
