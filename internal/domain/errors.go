package domain

import (
	"errors"
	"time"
)

// Common domain errors
var (
	ErrInvalidTree        = errors.New("invalid input tree")
	ErrRedirectPage       = errors.New("response looks like a redirect page, not file content")
	ErrIntegrity          = errors.New("merged file is smaller than the advertised size")
	ErrRangeNotSupported  = errors.New("server does not support range requests")
	ErrGatewayUnavailable = errors.New("remote gateway is unavailable")
	ErrNoArtifact         = errors.New("source resolver produced no artifact")
)

// RetryableError marks an error as transient: the node that hit it stays
// failed in the ledger and is eligible for retry on the next run.
type RetryableError struct {
	Err        error
	RetryAfter time.Duration
}

// Error returns the error message
func (e *RetryableError) Error() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return "retryable error"
}

// Unwrap returns the underlying error
func (e *RetryableError) Unwrap() error {
	return e.Err
}

// NewRetryableError creates a new retryable error
func NewRetryableError(err error, retryAfter time.Duration) *RetryableError {
	return &RetryableError{Err: err, RetryAfter: retryAfter}
}

// IsRetryable returns true if the error should be retried
func IsRetryable(err error) bool {
	var re *RetryableError
	return errors.As(err, &re)
}

// SkippableError represents a per-node error that is logged and skipped;
// processing continues with the next node.
type SkippableError struct {
	Err     error
	Context string
}

// Error returns the error message
func (e *SkippableError) Error() string {
	if e.Context != "" {
		if e.Err != nil {
			return e.Context + ": " + e.Err.Error()
		}
		return e.Context
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return "skippable error"
}

// Unwrap returns the underlying error
func (e *SkippableError) Unwrap() error {
	return e.Err
}

// NewSkippableError creates a new skippable error
func NewSkippableError(err error, context string) *SkippableError {
	return &SkippableError{Err: err, Context: context}
}

// IsSkippable returns true if the error can be skipped
func IsSkippable(err error) bool {
	var se *SkippableError
	return errors.As(err, &se)
}
