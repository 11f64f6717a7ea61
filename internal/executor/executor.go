// Package executor persists, selects and runs jobs.
package executor

import (
	"errors"
	"time"

	"github.com/cuongbtq/dirsync/internal/job"
)

var (
	// ErrJobAlreadyClaimed is returned when a job is no longer idle when a worker tries to claim it
	ErrJobAlreadyClaimed = errors.New("job already claimed or not in IDLE status")

	// ErrUnrestorable is returned when a persisted job cannot be rebuilt from its kind and payload
	ErrUnrestorable = errors.New("job cannot be restored")
)

// Observer is notified after every job invocation, before a rescheduled job is requeued
type Observer func(j *job.Job, elapsed time.Duration)

// Filter selects one page of jobs, newest first
type Filter struct {
	Tag      string
	Status   job.Status
	PageSize int
	Cursor   *Cursor
}

// Cursor marks the last job of the previous page
type Cursor struct {
	CreatedAt time.Time
	JobID     string
}

// after reports whether j sorts after the cursor in newest-first order
func (c *Cursor) after(j *job.Job) bool {
	if c == nil {
		return true
	}
	if !j.CreatedAt().Equal(c.CreatedAt) {
		return j.CreatedAt().Before(c.CreatedAt)
	}
	return j.ID() < c.JobID
}
