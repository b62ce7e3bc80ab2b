package resilience

import (
	"errors"
	"fmt"
	"time"
)

// CircuitOpenError is returned when a call is rejected because the endpoint's
// circuit is open. The underlying call is never attempted.
type CircuitOpenError struct {
	Endpoint   string
	RetryAfter time.Duration
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("circuit open for %s, retry in %s", e.Endpoint, e.RetryAfter.Round(time.Second))
}

func IsCircuitOpen(err error) bool {
	var circuitOpen *CircuitOpenError
	return errors.As(err, &circuitOpen)
}

// RateLimitError marks an upstream 429. It is counted by the circuit breaker
// like any failure but is never retried within the same resilient call.
type RateLimitError struct {
	Endpoint   string
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("%s is rate limiting us, retry in %s", e.Endpoint, e.RetryAfter.Round(time.Second))
	}
	return fmt.Sprintf("%s is rate limiting us", e.Endpoint)
}

func IsRateLimit(err error) bool {
	var rateLimit *RateLimitError
	return errors.As(err, &rateLimit)
}

// PermanentError is implemented by error types that retrying cannot fix,
// such as not-found conditions and missing feed credentials.
type PermanentError interface {
	error
	Permanent() bool
}

func IsPermanent(err error) bool {
	var permanent PermanentError
	return errors.As(err, &permanent) && permanent.Permanent()
}
