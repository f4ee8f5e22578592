// Retry with exponential backoff.
//
// Information Hiding:
// - Backoff algorithm hidden
// - Error classification logic hidden: only transport faults are retried

package tools

import (
	"context"
	"errors"
	"time"
)

// RetryPolicy retries transient network failures.
// The zero value makes 3 attempts starting at 200ms.
type RetryPolicy struct {
	Attempts  int
	BaseDelay time.Duration
	MaxDelay  time.Duration
}

func (p RetryPolicy) attempts() int {
	if p.Attempts <= 0 {
		return 3
	}
	return p.Attempts
}

// backoff returns the delay before the given attempt (1-based retries).
func (p RetryPolicy) backoff(attempt int) time.Duration {
	base, max := p.BaseDelay, p.MaxDelay
	if base <= 0 {
		base = 200 * time.Millisecond
	}
	if max <= 0 {
		max = 5 * time.Second
	}
	delay := base * time.Duration(1<<attempt)
	if delay > max {
		delay = max
	}
	return delay
}

// Do calls fn until it succeeds, returns a non-retryable error, or the
// attempts are used up. The last error is returned.
func (p RetryPolicy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 0; attempt < p.attempts(); attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return lastErr
			case <-time.After(p.backoff(attempt - 1)):
			}
		}
		lastErr = fn(ctx)
		if lastErr == nil || !shouldRetry(lastErr) {
			return lastErr
		}
	}
	return lastErr
}

// shouldRetry determines if an error is retryable.
func shouldRetry(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return errors.Is(err, ErrTransportFault)
}
