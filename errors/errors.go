// Package errors provides the error taxonomy for the task queue.
//
// Processors classify their own failures as retryable or non-retryable;
// the queue never inspects error content to decide whether to retry.
package errors

import (
	"errors"
	"fmt"
)

// Sentinel errors for common conditions
var (
	ErrNotConnected   = errors.New("store not connected")
	ErrNotFound       = errors.New("job not found")
	ErrNotPending     = errors.New("job is not pending")
	ErrNotProcessing  = errors.New("job is not processing")
	ErrNoProcessor    = errors.New("no processor registered for job type")
	ErrUnknownJobType = errors.New("unknown job type")
	ErrNilProcessor   = errors.New("processor cannot be nil")
	ErrJobTimeout     = errors.New("job processing timed out")
	ErrInvalidConfig  = errors.New("invalid configuration")
)

// RetryableError marks a transient failure (network blip, temporary
// resource contention). A job failing with one re-enters the queue until
// its retry budget is exhausted.
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string { return fmt.Sprintf("retryable: %v", e.Err) }
func (e *RetryableError) Unwrap() error { return e.Err }

// NonRetryableError marks a permanent failure (malformed parameters,
// 4xx-class downstream rejection). The job transitions straight to failed.
type NonRetryableError struct {
	Err error
}

func (e *NonRetryableError) Error() string { return fmt.Sprintf("non-retryable: %v", e.Err) }
func (e *NonRetryableError) Unwrap() error { return e.Err }

// Retryable wraps err as a transient failure.
func Retryable(err error) error {
	return &RetryableError{Err: err}
}

// NonRetryable wraps err as a permanent failure.
func NonRetryable(err error) error {
	return &NonRetryableError{Err: err}
}

// Retryablef wraps a formatted transient failure.
func Retryablef(format string, args ...any) error {
	return &RetryableError{Err: fmt.Errorf(format, args...)}
}

// NonRetryablef wraps a formatted permanent failure.
func NonRetryablef(format string, args ...any) error {
	return &NonRetryableError{Err: fmt.Errorf(format, args...)}
}

// IsRetryable reports whether err is explicitly marked retryable.
func IsRetryable(err error) bool {
	var r *RetryableError
	return errors.As(err, &r)
}

// IsNonRetryable reports whether err is explicitly marked non-retryable.
func IsNonRetryable(err error) bool {
	var n *NonRetryableError
	return errors.As(err, &n)
}

// StoreError represents a shared-store operation failure. Store
// connectivity failures are surfaced to the caller of any queue API,
// never swallowed.
type StoreError struct {
	Op  string // operation being performed
	Key string // store key (if applicable)
	Err error  // underlying error
}

func (e *StoreError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("store %s on %s: %v", e.Op, e.Key, e.Err)
	}
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// NewStoreError creates a new store error.
func NewStoreError(op, key string, err error) error {
	return &StoreError{Op: op, Key: key, Err: err}
}

// ConnectionError represents a connection-level failure against the store
// or a downstream broker.
type ConnectionError struct {
	URI string // connection URI (may be redacted)
	Err error  // underlying error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection to %s: %v", e.URI, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

func (e *ConnectionError) Timeout() bool {
	if t, ok := e.Err.(interface{ Timeout() bool }); ok {
		return t.Timeout()
	}
	return false
}

// NewConnectionError creates a new connection error.
func NewConnectionError(uri string, err error) error {
	return &ConnectionError{URI: uri, Err: err}
}
