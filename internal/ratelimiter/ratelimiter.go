package ratelimiter

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"
)

// RateLimiter throttles requests sent to the tracker.
//
// Every command executed by a moji client costs one token. The limiter keeps
// a client at a sustained rate while still allowing short bursts.
//
// The zero-rate configuration disables throttling entirely: Wait and Allow
// return immediately without touching the token bucket.
//
// Thread safety:
// All methods are safe for concurrent use.
type RateLimiter struct {
	limiter   *rate.Limiter
	unlimited bool
}

// New creates a limiter allowing requestsPerSecond sustained requests with
// bursts of up to burst requests.
//
// Special cases:
//   - requestsPerSecond = 0: no throttling
//   - burst = 0: burst defaults to requestsPerSecond
func New(requestsPerSecond, burst uint) *RateLimiter {
	if requestsPerSecond == 0 {
		return &RateLimiter{
			limiter:   rate.NewLimiter(rate.Inf, 0),
			unlimited: true,
		}
	}

	if burst == 0 {
		burst = requestsPerSecond
	}

	return &RateLimiter{
		limiter: rate.NewLimiter(rate.Limit(requestsPerSecond), int(burst)),
	}
}

// Unlimited reports whether the limiter was created without a rate.
func (r *RateLimiter) Unlimited() bool {
	return r.unlimited
}

// Allow consumes a token if one is available and reports whether it did.
func (r *RateLimiter) Allow() bool {
	if r.unlimited {
		return true
	}
	return r.limiter.Allow()
}

// Wait blocks until a token is available or ctx is done.
func (r *RateLimiter) Wait(ctx context.Context) error {
	if r.unlimited {
		return ctx.Err()
	}
	if err := r.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("tracker rate limit wait: %w", err)
	}
	return nil
}

// Tokens returns the number of tokens currently in the bucket.
func (r *RateLimiter) Tokens() float64 {
	return r.limiter.Tokens()
}
