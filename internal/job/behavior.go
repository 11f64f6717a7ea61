package job

import "context"

// Behavior supplies what a Job does. A Job holds exactly one Behavior, chosen
// at construction, instead of specializing through a type hierarchy.
//
// Behaviors are persisted with encoding/json: exported fields carry the
// parameters, injected collaborators stay unexported and are supplied again by
// the Factory registered for Kind.
type Behavior interface {
	// Kind names the behavior in the Registry.
	Kind() string

	// Execute runs one invocation. It returns true when the job is incomplete
	// and must run again.
	Execute(ctx context.Context, j *Job) (incomplete bool, err error)

	// ShouldRetry reports whether err may be retried at all.
	ShouldRetry(err error) bool

	// String is a short human-readable description for logs and batch UI.
	String() string
}

// RetryAlways is embedded by behaviors that accept the default retry policy.
type RetryAlways struct{}

// ShouldRetry always allows a retry.
func (RetryAlways) ShouldRetry(error) bool { return true }
