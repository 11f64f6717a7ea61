package job

import "fmt"

// Status is the lifecycle state of a Job.
type Status string

// Job status constants
const (
	StatusIdle        Status = "IDLE"
	StatusRescheduled Status = "RESCHEDULED"
	StatusSelected    Status = "SELECTED"
	StatusRunning     Status = "RUNNING"
	StatusFailed      Status = "FAILED"
	StatusFinished    Status = "FINISHED"
)

// transitions lists the allowed target states for every state.
// Only the executor drives these transitions.
var transitions = map[Status][]Status{
	StatusIdle:        {StatusSelected},
	StatusSelected:    {StatusRunning},
	StatusRunning:     {StatusFinished, StatusFailed, StatusRescheduled},
	StatusRescheduled: {StatusIdle},
}

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s == StatusFinished || s == StatusFailed
}

// Runnable reports whether an executor may select a job in this state.
func (s Status) Runnable() bool {
	return s == StatusIdle
}

// CanTransition reports whether s may move to next.
func (s Status) CanTransition(next Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// ParseStatus converts a persisted status string.
func ParseStatus(s string) (Status, error) {
	switch st := Status(s); st {
	case StatusIdle, StatusRescheduled, StatusSelected, StatusRunning, StatusFailed, StatusFinished:
		return st, nil
	default:
		return "", fmt.Errorf("unknown job status %q", s)
	}
}
