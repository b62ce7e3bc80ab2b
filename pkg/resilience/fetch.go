package resilience

import (
	"context"
	"fmt"
	"time"
)

// FetchOptions describe how one external call should be protected. Endpoint
// selects the circuit breaker, Key the throttle deduplication bucket.
type FetchOptions struct {
	Endpoint string
	Key      string

	MaxAttempts  int
	InitialDelay time.Duration

	SkipThrottle bool
	SkipBreaker  bool
	SkipRetry    bool
}

// Do is the single chokepoint every external transit and geocoding call goes
// through: throttle -> circuit breaker -> retry -> raw call. Each layer can
// be bypassed for low priority or already-cached paths.
func Do[T any](ctx context.Context, options FetchOptions, fn func(context.Context) (T, error)) (T, error) {
	if options.MaxAttempts <= 0 {
		options.MaxAttempts = DefaultMaxAttempts
	}
	if options.InitialDelay <= 0 {
		options.InitialDelay = DefaultInitialDelay
	}
	if options.Key == "" {
		options.Key = options.Endpoint
	}

	retried := func() (T, error) {
		if options.SkipRetry {
			return fn(ctx)
		}

		return RetryResult(ctx, func() (T, error) {
			return fn(ctx)
		}, options.MaxAttempts, options.InitialDelay)
	}

	guarded := retried
	if !options.SkipBreaker {
		guarded = func() (T, error) {
			var result T

			err := BreakerFor(options.Endpoint).Execute(func() error {
				var callErr error
				result, callErr = retried()
				return callErr
			})

			return result, err
		}
	}

	if options.SkipThrottle {
		return guarded()
	}

	var empty T
	value, err := GlobalThrottle().Call(ctx, options.Key, func() (any, error) {
		return guarded()
	})
	if err != nil {
		return empty, err
	}

	result, ok := value.(T)
	if !ok {
		// Two call sites sharing a dedup key with different result types.
		return empty, fmt.Errorf("deduplicated call for key %q produced a %T, not the expected type", options.Key, value)
	}

	return result, nil
}
