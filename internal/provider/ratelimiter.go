package provider

import (
	"context"
	"sync"
	"time"
)

// RateLimiter is a token bucket guarding an upstream request budget. Each
// provider owns one sized to its documented quota; Wait blocks the caller
// until the bucket can spare a token.
type RateLimiter struct {
	mu       sync.Mutex
	capacity int
	tokens   int
	interval time.Duration
	last     time.Time
	now      func() time.Time
}

// NewRateLimiter allows capacity calls per interval, with bursts up to
// capacity after idle periods.
func NewRateLimiter(capacity int, interval time.Duration) *RateLimiter {
	return &RateLimiter{
		capacity: capacity,
		tokens:   capacity,
		interval: interval,
		last:     time.Now(),
		now:      time.Now,
	}
}

// Wait takes a token, blocking until one is available or ctx is done.
func (r *RateLimiter) Wait(ctx context.Context) error {
	for {
		if r.take() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(r.interval):
		}
	}
}

func (r *RateLimiter) take() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	elapsed := r.now().Sub(r.last)
	if refilled := int(elapsed / r.interval); refilled > 0 {
		r.tokens += refilled
		if r.tokens > r.capacity {
			r.tokens = r.capacity
		}
		r.last = r.last.Add(time.Duration(refilled) * r.interval)
	}

	if r.tokens > 0 {
		r.tokens--
		return true
	}
	return false
}
