package reconcile

import (
	"errors"
	"fmt"
)

var (
	// ErrRecordNotFound is returned by loaders when a key does not exist
	ErrRecordNotFound = errors.New("record not found")

	// ErrAlreadyExists is returned by stores when creating a key that exists
	ErrAlreadyExists = errors.New("record already exists")

	// ErrStaleReference marks a record that vanished between snapshot and execution
	ErrStaleReference = errors.New("stale record reference")

	// ErrBlocked marks validation failures that must abort a conversion before any write
	ErrBlocked = errors.New("conversion blocked")
)

// TransientError wraps communication failures that may succeed on retry
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return "transient error: " + e.Err.Error()
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// Code classifies the error for job exceptions
func (e *TransientError) Code() string {
	return "communication"
}

// NewTransientError wraps err as retryable
func NewTransientError(err error) error {
	return &TransientError{Err: err}
}

// StaleReferenceError reports a key missing from the store it was expected in
type StaleReferenceError struct {
	Side string
	Key  string
}

func (e *StaleReferenceError) Error() string {
	return fmt.Sprintf("%s record %s no longer exists", e.Side, e.Key)
}

// Is implements errors.Is support
func (e *StaleReferenceError) Is(target error) bool {
	return target == ErrStaleReference
}

// Code classifies the error for job exceptions
func (e *StaleReferenceError) Code() string {
	return "stale_reference"
}

// IdentityConflictError reports a proposed identity that belongs to a different record
type IdentityConflictError struct {
	Field    string
	Value    string
	Key      string
	OwnerKey string
}

func (e *IdentityConflictError) Error() string {
	return fmt.Sprintf("%s %q proposed for %s already belongs to %s", e.Field, e.Value, e.Key, e.OwnerKey)
}

// Is implements errors.Is support
func (e *IdentityConflictError) Is(target error) bool {
	return target == ErrBlocked
}

// Code classifies the error for job exceptions
func (e *IdentityConflictError) Code() string {
	return "identity_conflict"
}

// BlockingProblemError aborts a conversion because of a blocking Problem
type BlockingProblemError struct {
	Key      string
	Problems []Problem
}

func (e *BlockingProblemError) Error() string {
	msg := fmt.Sprintf("conversion of %s blocked", e.Key)
	for _, p := range e.Problems {
		msg += "; " + Describe(p)
	}
	return msg
}

// Is implements errors.Is support
func (e *BlockingProblemError) Is(target error) bool {
	return target == ErrBlocked
}

// Code classifies the error for job exceptions
func (e *BlockingProblemError) Code() string {
	return "invalid_value"
}

// retryable is the retry policy shared by conversion behaviors: stale
// references, blocked conversions and strict duplicates never improve on retry.
func retryable(err error) bool {
	return !errors.Is(err, ErrStaleReference) &&
		!errors.Is(err, ErrBlocked) &&
		!errors.Is(err, ErrAlreadyExists)
}
