package resilience

import (
	"fmt"
	"time"
)

// RateLimitError is returned by source adapters when the upstream asks the
// caller to slow down. RetryAfter is zero when no hint was given.
type RateLimitError struct {
	RetryAfter time.Duration
	Message    string
}

func (e *RateLimitError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("rate limited (retry after %s)", e.RetryAfter)
	}
	return fmt.Sprintf("rate limited: %s (retry after %s)", e.Message, e.RetryAfter)
}

// NewRateLimitError builds a RateLimitError from a Retry-After header value
func NewRateLimitError(retryAfterHeader, message string) *RateLimitError {
	d, _ := ParseRetryAfter(retryAfterHeader, time.Now())
	return &RateLimitError{RetryAfter: d, Message: message}
}

// ExhaustedError is returned when an operation kept failing transiently past
// the retry bound. It escalates a transient error to a fatal one.
type ExhaustedError struct {
	Op       string
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("%s: giving up after %d attempts: %v", e.Op, e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error {
	return e.Err
}
