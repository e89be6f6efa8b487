package dispatch

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrQueueFull is returned by Enqueue when the target queue is at capacity.
	ErrQueueFull = errors.New("dispatch queue full")
	// ErrRetriesExhausted wraps the last error once every attempt has failed.
	ErrRetriesExhausted = errors.New("exceeded send retries")
)

// RateLimitedError reports that the platform asked the caller to back off.
type RateLimitedError struct {
	RetryAfter time.Duration
	Err        error
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited (retry after %s): %v", e.RetryAfter, e.Err)
}

func (e *RateLimitedError) Unwrap() error { return e.Err }

// TransientError reports a network or server failure worth retrying.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient delivery error: %v", e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// PermanentError reports a protocol error that retrying cannot fix.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string {
	return fmt.Sprintf("permanent delivery error: %v", e.Err)
}

func (e *PermanentError) Unwrap() error { return e.Err }

// IsPermanent reports whether err is a non-retryable delivery failure.
func IsPermanent(err error) bool {
	var perm *PermanentError
	return errors.As(err, &perm)
}
