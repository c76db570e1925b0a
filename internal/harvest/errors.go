package harvest

import (
	"errors"
	"fmt"
	"time"
)

// RateLimitedError reports a throttled request (HTTP 429 class). RetryAfter
// is the server-suggested wait, zero when the server gave none.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("rate limited, retry after %s", e.RetryAfter)
	}
	return "rate limited"
}

// AuthError reports rejected credentials (HTTP 401/403 class).
type AuthError struct {
	StatusCode int
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("authentication rejected (status %d)", e.StatusCode)
}

// StatusError reports any other non-2xx response.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d", e.StatusCode)
}

// DiscoveryError reports that category discovery failed; it is fatal for the
// whole job.
type DiscoveryError struct {
	Reason string
	Err    error
}

func (e *DiscoveryError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("category discovery failed: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("category discovery failed: %s", e.Reason)
}

func (e *DiscoveryError) Unwrap() error { return e.Err }

// CapacityError reports that the supervisor is at its concurrent-job limit.
type CapacityError struct {
	Limit int
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("maximum concurrent jobs reached (%d)", e.Limit)
}

// IsRateLimited reports whether err is (or wraps) a throttle response.
func IsRateLimited(err error) bool {
	var rl *RateLimitedError
	return errors.As(err, &rl)
}

// IsAuthError reports whether err is (or wraps) a credential rejection.
func IsAuthError(err error) bool {
	var ae *AuthError
	return errors.As(err, &ae)
}
