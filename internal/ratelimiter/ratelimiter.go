package ratelimiter

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// OpsLimiter caps the rate of metadata operations using a token bucket.
//
// Byte throttling on the read/write path is handled by the throttle
// package; this limiter exists for the cheap-but-numerous operations
// (getattr, lookup, readdir, ...) that bypass byte accounting entirely.
// An unthrottled metadata storm can still saturate the backing
// filesystem, so operators may cap it here.
//
// The limiter wraps golang.org/x/time/rate:
//  1. Tokens are added to the bucket at a constant rate (ops per second)
//  2. Each operation consumes one token
//  3. When the bucket is empty, Wait blocks until a token arrives
//  4. Burst capacity (one second's worth) absorbs short spikes
//
// Thread safety:
// All methods are safe for concurrent use.
type OpsLimiter struct {
	limiter *rate.Limiter
}

// New creates an OpsLimiter allowing opsPerSecond sustained operations
// with a burst capacity of one second's worth.
//
// Special cases:
//   - opsPerSecond = 0: no limiting (effectively unlimited)
//
// Returns a configured OpsLimiter.
func New(opsPerSecond uint) *OpsLimiter {
	if opsPerSecond == 0 {
		// Unlimited rate: use a very high limit
		// rate.Inf would be ideal but has edge cases, so use a large value
		opsPerSecond = 1_000_000_000
	}

	return &OpsLimiter{
		limiter: rate.NewLimiter(rate.Limit(opsPerSecond), int(opsPerSecond)),
	}
}

// Allow reports whether one operation may proceed right now, consuming
// a token if so. This is the non-blocking fast path.
//
// Thread safety:
// Safe to call concurrently.
func (l *OpsLimiter) Allow() bool {
	return l.limiter.Allow()
}

// Wait blocks until a token is available or the context is cancelled.
//
// Returns nil once a token was acquired, or the context error if the
// context was cancelled first.
//
// Thread safety:
// Safe to call concurrently.
func (l *OpsLimiter) Wait(ctx context.Context) error {
	return l.limiter.Wait(ctx)
}

// AllowN reports whether n operations may proceed right now, consuming
// n tokens if so. No tokens are consumed when fewer than n are
// available.
//
// Thread safety:
// Safe to call concurrently.
func (l *OpsLimiter) AllowN(n uint) bool {
	return l.limiter.AllowN(time.Now(), int(n))
}

// Tokens returns the current number of available tokens. Primarily
// useful for monitoring and debugging; the value may change immediately
// after this call.
//
// Thread safety:
// Safe to call concurrently.
func (l *OpsLimiter) Tokens() float64 {
	return l.limiter.Tokens()
}
