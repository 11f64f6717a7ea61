package job

import "errors"

var (
	// ErrJobNotFound is returned when a job cannot be found by its ID
	ErrJobNotFound = errors.New("job not found")

	// ErrInvalidTransition is returned when a status change is not allowed by the state machine
	ErrInvalidTransition = errors.New("invalid job status transition")

	// ErrUnknownKind is returned when no factory is registered for a persisted job kind
	ErrUnknownKind = errors.New("unknown job kind")
)
