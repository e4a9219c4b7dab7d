// Package limiter provides rate limiting for model API calls with a token
// bucket plus a bounded concurrency gate.
package limiter

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// ErrRateLimit is returned when the token bucket cannot cover a reservation.
var ErrRateLimit = fmt.Errorf("rate limit exceeded")

// Limiter enforces tokens-per-minute and in-flight-call limits for one model
// backend. Token reservations are non-blocking; callers treat ErrRateLimit
// as a transient failure and retry with backoff. Slot acquisition blocks
// until a slot frees or the context ends.
type Limiter struct {
	mu                 sync.Mutex
	maxTokensPerMinute int
	currentTokens      int
	lastRefill         time.Time

	slots chan struct{}
}

// New creates a limiter with the given per-minute token budget and
// concurrency ceiling. Non-positive values disable the respective limit.
func New(maxTokensPerMinute, maxConcurrent int) *Limiter {
	l := &Limiter{
		maxTokensPerMinute: maxTokensPerMinute,
		currentTokens:      maxTokensPerMinute,
		lastRefill:         time.Now(),
	}
	if maxConcurrent > 0 {
		l.slots = make(chan struct{}, maxConcurrent)
	}
	return l
}

// Reserve withdraws tokens from the bucket, refilling for elapsed minutes
// first. Returns ErrRateLimit when the bucket cannot cover the reservation.
func (l *Limiter) Reserve(tokens int) error {
	if l.maxTokensPerMinute <= 0 {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.refill()
	if l.currentTokens < tokens {
		return ErrRateLimit
	}
	l.currentTokens -= tokens
	return nil
}

// Acquire blocks until an in-flight slot is available or ctx ends.
func (l *Limiter) Acquire(ctx context.Context) error {
	if l.slots == nil {
		return nil
	}
	select {
	case l.slots <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for model slot: %w", ctx.Err())
	}
}

// Release frees a slot taken by Acquire.
func (l *Limiter) Release() {
	if l.slots == nil {
		return
	}
	select {
	case <-l.slots:
	default:
		// Release without a matching Acquire is a programming error but
		// must not deadlock the caller.
	}
}

// Available returns the tokens currently in the bucket.
func (l *Limiter) Available() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.refill()
	return l.currentTokens
}

func (l *Limiter) refill() {
	now := time.Now()
	elapsed := now.Sub(l.lastRefill)
	if elapsed < time.Minute {
		return
	}

	minutes := int(elapsed / time.Minute)
	l.currentTokens += minutes * l.maxTokensPerMinute
	if l.currentTokens > l.maxTokensPerMinute {
		l.currentTokens = l.maxTokensPerMinute
	}
	l.lastRefill = l.lastRefill.Add(time.Duration(minutes) * time.Minute)
}
