package domain

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrAuthExpired means the provider rejected our credential. The caller
	// must not retry until the user re-authenticates.
	ErrAuthExpired = errors.New("provider credential expired")

	// ErrRateLimited means the provider (or our own limiter) refused the
	// call. Deferred to the next scheduler window, never retried inline and
	// never charged against the retry budget.
	ErrRateLimited = errors.New("rate limited")

	// ErrValidation marks a request rejected before any state mutation
	ErrValidation = errors.New("validation failed")

	// ErrCacheUnavailable marks a backing-store failure. Callers must never
	// treat it as "no value": a false negative would let provider truth
	// overwrite user intent.
	ErrCacheUnavailable = errors.New("cache backend unavailable")
)

// TransientError wraps a provider failure worth retrying with backoff
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return fmt.Sprintf("transient provider error: %v", e.Err) }
func (e *TransientError) Unwrap() error { return e.Err }

// Transient wraps err as retryable
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Err: err}
}

// IsTransient reports whether err should be retried with backoff. Timeouts
// count as transient: a timed-out provider call is treated identically to a
// provider failure.
func IsTransient(err error) bool {
	var te *TransientError
	if errors.As(err, &te) {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}
