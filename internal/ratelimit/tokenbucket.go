// Package ratelimit implements a continuously-refilling token bucket for
// gating venue REST calls, grounded on the exchange rate limiter this
// module's teacher carries for its own CLOB API.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// TokenBucket refills continuously rather than in discrete bursts, so a
// caller never sees a sudden reset at a window boundary.
type TokenBucket struct {
	mu       sync.Mutex
	tokens   float64
	capacity float64
	rate     float64 // tokens per second
	lastTime time.Time
}

// New creates a bucket with the given burst capacity and refill rate.
func New(capacity, ratePerSecond float64) *TokenBucket {
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
		}
	}
}

// Venue groups the buckets a single venue's REST backend draws from. Order
// and cancel calls each draw from a 100-token bucket refilled at 20/s;
// status calls draw from a larger 200-token bucket refilled at 40/s.
type Venue struct {
	Order  *TokenBucket
	Cancel *TokenBucket
	Status *TokenBucket
}

// NewVenue creates a rate limiter set with conservative defaults suitable
// for a perpetual futures venue REST API.
func NewVenue() *Venue {
	return &Venue{
		Order:  New(100, 20),
		Cancel: New(100, 20),
		Status: New(200, 40),
	}
}
