package job

import (
	"context"
	"fmt"
	"log/slog"
)

// Scheduler enqueues jobs for eventual execution
type Scheduler interface {
	// Cast persists j and enqueues it without waiting for it to run.
	Cast(ctx context.Context, j *Job) error
}

// Executor persists, selects and runs jobs. It owns every status transition.
type Executor interface {
	Scheduler

	// Save persists the current state of j.
	Save(ctx context.Context, j *Job) error

	// Select claims the next runnable job for tag, moving it to Selected.
	// It returns nil and no error when the tag has no runnable job.
	Select(ctx context.Context, tag string) (*Job, error)

	// Call executes j once and persists the result.
	Call(ctx context.Context, j *Job) error

	// CountJobs counts the jobs of tag in any of statuses; no statuses counts all.
	CountJobs(ctx context.Context, tag string, statuses ...Status) (int, error)
}

// Run executes a selected job once and applies the resulting transition:
// Finished when complete, Rescheduled when incomplete or when a retryable
// error still has budget, Failed otherwise. The returned error only reports
// state machine violations; execution errors are recorded on the job.
func Run(ctx context.Context, j *Job, logger *slog.Logger) error {
	if err := j.Transition(StatusRunning); err != nil {
		return err
	}

	incomplete, execErr := execute(ctx, j)

	if execErr != nil {
		ex := j.RecordException(execErr)
		logger.Error("Job execution failed",
			slog.String("job_id", j.ID()),
			slog.String("tag", j.Tag()),
			slog.String("kind", j.Kind()),
			slog.String("code", ex.Code),
			slog.String("origin", ex.Origin),
			slog.String("error", ex.Message),
			slog.String("stack", ex.Stack),
		)

		if j.ShouldRetry(execErr) && j.ConsumeRetry() {
			logger.Info("Job will be retried",
				slog.String("job_id", j.ID()),
				slog.Int("retry_budget", j.RetryBudget()),
			)
			return j.Transition(StatusRescheduled)
		}

		logger.Warn("Job failed permanently",
			slog.String("job_id", j.ID()),
			slog.String("tag", j.Tag()),
		)
		return j.Transition(StatusFailed)
	}

	if incomplete {
		logger.Debug("Job incomplete, rescheduling",
			slog.String("job_id", j.ID()),
			slog.String("kind", j.Kind()),
		)
		return j.Transition(StatusRescheduled)
	}

	logger.Info("Job finished",
		slog.String("job_id", j.ID()),
		slog.String("tag", j.Tag()),
		slog.String("kind", j.Kind()),
	)
	return j.Transition(StatusFinished)
}

// execute converts a panic in the behavior into an error
func execute(ctx context.Context, j *Job) (incomplete bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			incomplete = false
			err = fmt.Errorf("job panicked: %v", r)
		}
	}()
	return j.Execute(ctx)
}

// Drain selects and calls jobs of tag until none is runnable. It returns the
// number of invocations performed.
func Drain(ctx context.Context, exec Executor, tag string) (int, error) {
	calls := 0
	for {
		if err := ctx.Err(); err != nil {
			return calls, err
		}

		j, err := exec.Select(ctx, tag)
		if err != nil {
			return calls, fmt.Errorf("failed to select job: %w", err)
		}
		if j == nil {
			return calls, nil
		}

		if err := exec.Call(ctx, j); err != nil {
			return calls, fmt.Errorf("failed to call job %s: %w", j.ID(), err)
		}
		calls++
	}
}

// Progress is the completion state of one tag
type Progress struct {
	Tag      string `json:"tag"`
	Total    int    `json:"total"`
	Finished int    `json:"finished"`
	Failed   int    `json:"failed"`
}

// Done returns the number of jobs in a terminal state
func (p Progress) Done() int {
	return p.Finished + p.Failed
}

// Ratio returns the share of terminal jobs; an empty tag is complete
func (p Progress) Ratio() float64 {
	if p.Total == 0 {
		return 1
	}
	return float64(p.Done()) / float64(p.Total)
}

// ProgressOf counts the persisted job statuses of tag
func ProgressOf(ctx context.Context, exec Executor, tag string) (Progress, error) {
	p := Progress{Tag: tag}

	var err error
	if p.Total, err = exec.CountJobs(ctx, tag); err != nil {
		return p, err
	}
	if p.Finished, err = exec.CountJobs(ctx, tag, StatusFinished); err != nil {
		return p, err
	}
	if p.Failed, err = exec.CountJobs(ctx, tag, StatusFailed); err != nil {
		return p, err
	}

	return p, nil
}
