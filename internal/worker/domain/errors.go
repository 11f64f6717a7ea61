package domain

import "errors"

// ErrInvalidPayload is returned when a persisted job cannot be rebuilt from its kind and payload
var ErrInvalidPayload = errors.New("invalid job payload")

// RetryableError wraps transient errors that should trigger a requeue
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string {
	return "retryable error: " + e.Err.Error()
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

// NewRetryableError creates a new retryable error
func NewRetryableError(err error) error {
	return &RetryableError{Err: err}
}
