package infra

import (
	"context"
	"fmt"
	"time"
)

// RetryPolicy bounds the retry loop. One policy instance is shared by every
// external call site so retry behavior is tuned in exactly one place.
type RetryPolicy struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	Multiplier float64
}

// Classifier decides whether a failed attempt is worth retrying. Permanent
// failures (auth, validation, not-found) must return false so they fail fast.
type Classifier func(err error) bool

// Retry executes op up to MaxRetries+1 times, waiting a jittered exponential
// delay between attempts. It returns nil on the first success, the context
// error if the wait was interrupted, or the last attempt error once the
// ceiling is reached or the classifier marks the error permanent.
func Retry(ctx context.Context, policy RetryPolicy, retryable Classifier, op func(ctx context.Context) error) error {
	backoff := NewBackoff(policy.BaseDelay, policy.MaxDelay, policy.Multiplier)

	var lastErr error
	for attempt := 0; attempt <= policy.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff.Next()):
			}
		}

		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}
		if !retryable(lastErr) {
			return lastErr
		}
	}

	return fmt.Errorf("exhausted %d retries: %w", policy.MaxRetries, lastErr)
}
