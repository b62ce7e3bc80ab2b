package resilience

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	DefaultMaxAttempts  = 3
	DefaultInitialDelay = 500 * time.Millisecond

	maxRetryDelay = 10 * time.Second
)

// Retry runs operation up to maxAttempts times, sleeping
// initialDelay * 2^(attempt-1) between attempts, capped at 10s. No jitter.
// The last attempt's error is returned unchanged.
func Retry(ctx context.Context, operation func() error, maxAttempts int, initialDelay time.Duration) error {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	if initialDelay <= 0 {
		initialDelay = DefaultInitialDelay
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = initialDelay
	policy.Multiplier = 2
	policy.RandomizationFactor = 0
	policy.MaxInterval = maxRetryDelay
	policy.MaxElapsedTime = 0

	wrapped := func() error {
		err := operation()

		// Rate limits are surfaced immediately so the caller can back off
		// harder than the standard retry schedule. Permanent conditions
		// (not-found, missing credentials) will not improve with retries.
		if IsRateLimit(err) || IsPermanent(err) {
			return backoff.Permanent(err)
		}

		return err
	}

	return backoff.Retry(wrapped, backoff.WithContext(backoff.WithMaxRetries(policy, uint64(maxAttempts-1)), ctx))
}

// RetryResult is Retry for operations that produce a value.
func RetryResult[T any](ctx context.Context, operation func() (T, error), maxAttempts int, initialDelay time.Duration) (T, error) {
	var result T

	err := Retry(ctx, func() error {
		var opErr error
		result, opErr = operation()
		return opErr
	}, maxAttempts, initialDelay)

	if err != nil {
		var empty T
		return empty, err
	}

	return result, nil
}
