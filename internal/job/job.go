package job

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// DefaultRetryBudget is used when a job is created without an explicit budget
const DefaultRetryBudget = 3

// Job is a unit of work with an identity, a status, a retry budget and the
// exceptions and messages recorded by its invocations.
//
// A Job never mutates another Job; it only creates new ones.
type Job struct {
	id          string
	tag         string
	status      Status
	retryBudget int
	exceptions  []Exception
	messages    []string
	behavior    Behavior
	createdAt   time.Time
	updatedAt   time.Time
}

// Option configures a new Job
type Option func(*Job)

// WithRetryBudget sets the number of retries the job may consume
func WithRetryBudget(budget int) Option {
	return func(j *Job) {
		if budget < 0 {
			budget = 0
		}
		j.retryBudget = budget
	}
}

// New creates an idle job for behavior under tag
func New(tag string, behavior Behavior, opts ...Option) *Job {
	now := time.Now().UTC()
	j := &Job{
		id:          uuid.New().String(),
		tag:         tag,
		status:      StatusIdle,
		retryBudget: DefaultRetryBudget,
		behavior:    behavior,
		createdAt:   now,
		updatedAt:   now,
	}

	for _, opt := range opts {
		opt(j)
	}

	return j
}

// ID returns the immutable job identifier
func (j *Job) ID() string { return j.id }

// Tag returns the grouping key shared by jobs of one reconciliation run
func (j *Job) Tag() string { return j.tag }

// Status returns the current lifecycle state
func (j *Job) Status() Status { return j.status }

// RetryBudget returns the retries left
func (j *Job) RetryBudget() int { return j.retryBudget }

// Behavior returns the strategy this job runs
func (j *Job) Behavior() Behavior { return j.behavior }

// Kind returns the behavior kind
func (j *Job) Kind() string { return j.behavior.Kind() }

// CreatedAt returns the creation time
func (j *Job) CreatedAt() time.Time { return j.createdAt }

// UpdatedAt returns the time of the last status change or record
func (j *Job) UpdatedAt() time.Time { return j.updatedAt }

// Exceptions returns a copy of the recorded exceptions, oldest first
func (j *Job) Exceptions() []Exception {
	out := make([]Exception, len(j.exceptions))
	copy(out, j.exceptions)
	return out
}

// Messages returns a copy of the recorded messages, oldest first
func (j *Job) Messages() []string {
	out := make([]string, len(j.messages))
	copy(out, j.messages)
	return out
}

// Execute runs the behavior once. true means the job is incomplete.
func (j *Job) Execute(ctx context.Context) (bool, error) {
	return j.behavior.Execute(ctx, j)
}

// ShouldRetry delegates to the behavior's retry policy
func (j *Job) ShouldRetry(err error) bool {
	return j.behavior.ShouldRetry(err)
}

// ConsumeRetry decrements the budget and returns true while budget remains.
// Once it returns false the executor must fail the job instead of rescheduling it.
func (j *Job) ConsumeRetry() bool {
	if j.retryBudget <= 0 {
		return false
	}
	j.retryBudget--
	j.touch()
	return true
}

// RecordException captures err on the job
func (j *Job) RecordException(err error) Exception {
	ex := NewException(err)
	j.exceptions = append(j.exceptions, ex)
	j.touch()
	return ex
}

// RecordMessage appends a human-readable outcome
func (j *Job) RecordMessage(format string, args ...any) {
	j.messages = append(j.messages, fmt.Sprintf(format, args...))
	j.touch()
}

// Transition moves the job to next if the state machine allows it
func (j *Job) Transition(next Status) error {
	if !j.status.CanTransition(next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, j.status, next)
	}
	j.status = next
	j.touch()
	return nil
}

// Requeue returns a rescheduled job to idle so it can be selected again
func (j *Job) Requeue() error {
	return j.Transition(StatusIdle)
}

func (j *Job) touch() {
	j.updatedAt = time.Now().UTC()
}

// String renders a one-line summary for logs
func (j *Job) String() string {
	return fmt.Sprintf("%s [%s] %s (tag=%s, retries=%d)", j.id, j.status, j.behavior, j.tag, j.retryBudget)
}

// Summary is the human-readable view of a job for batch UI.
type Summary struct {
	ID          string   `json:"id"`
	Tag         string   `json:"tag"`
	Kind        string   `json:"kind"`
	Description string   `json:"description"`
	Status      Status   `json:"status"`
	RetryBudget int      `json:"retry_budget"`
	Messages    []string `json:"messages"`
	Exceptions  []string `json:"exceptions"`
}

// Summarize renders the job for batch UI and logs
func (j *Job) Summarize() Summary {
	exceptions := make([]string, len(j.exceptions))
	for i, ex := range j.exceptions {
		exceptions[i] = ex.String()
	}

	return Summary{
		ID:          j.id,
		Tag:         j.tag,
		Kind:        j.Kind(),
		Description: j.behavior.String(),
		Status:      j.status,
		RetryBudget: j.retryBudget,
		Messages:    j.Messages(),
		Exceptions:  exceptions,
	}
}

// Record is the persisted shape of a Job
type Record struct {
	ID          string          `json:"id" db:"job_id"`
	Tag         string          `json:"tag" db:"tag"`
	Kind        string          `json:"kind" db:"kind"`
	Payload     json.RawMessage `json:"payload" db:"payload"`
	Status      Status          `json:"status" db:"status"`
	RetryBudget int             `json:"retry_budget" db:"retry_budget"`
	Exceptions  []Exception     `json:"exceptions" db:"-"`
	Messages    []string        `json:"messages" db:"-"`
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at" db:"updated_at"`
}

// Record serializes the job and its behavior parameters
func (j *Job) Record() (*Record, error) {
	payload, err := json.Marshal(j.behavior)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s payload: %w", j.Kind(), err)
	}

	return &Record{
		ID:          j.id,
		Tag:         j.tag,
		Kind:        j.Kind(),
		Payload:     payload,
		Status:      j.status,
		RetryBudget: j.retryBudget,
		Exceptions:  j.Exceptions(),
		Messages:    j.Messages(),
		CreatedAt:   j.createdAt,
		UpdatedAt:   j.updatedAt,
	}, nil
}

// restore rebuilds a job from its persisted record and a behavior
func restore(rec *Record, behavior Behavior) *Job {
	return &Job{
		id:          rec.ID,
		tag:         rec.Tag,
		status:      rec.Status,
		retryBudget: rec.RetryBudget,
		exceptions:  append([]Exception(nil), rec.Exceptions...),
		messages:    append([]string(nil), rec.Messages...),
		behavior:    behavior,
		createdAt:   rec.CreatedAt,
		updatedAt:   rec.UpdatedAt,
	}
}
