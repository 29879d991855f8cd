package provider

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"
)

// ErrRateLimited marks an upstream 429 so callers can back off.
var ErrRateLimited = errors.New("rate limited by upstream")

// statusError carries a non-200 HTTP status through the retry logic.
type statusError struct {
	status int
	body   string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("upstream status %d: %s", e.status, e.body)
}

// retryable reports whether an error is worth another attempt: rate
// limits, timeouts, transient network failures and 5xx responses.
func retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrRateLimited) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		return true
	}
	var serr *statusError
	if errors.As(err, &serr) {
		return serr.status == 429 || serr.status >= 500
	}
	return false
}

// WithRetry runs fn up to maxAttempts times, sleeping baseDelay, 2*baseDelay,
// 4*baseDelay... between attempts. Non-retryable errors and ctx cancellation
// stop immediately.
func WithRetry(ctx context.Context, maxAttempts int, baseDelay time.Duration, fn func(context.Context) error) error {
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var lastErr error
	delay := baseDelay
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if !retryable(lastErr) || attempt == maxAttempts {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
	return lastErr
}
