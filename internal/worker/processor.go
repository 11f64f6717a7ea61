package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/cuongbtq/dirsync/internal/executor"
	"github.com/cuongbtq/dirsync/internal/worker/domain"
)

// processJob claims the announced job and invokes it once under the job timeout
func (w *Worker) processJob(ctx context.Context, msg *domain.JobMessage) error {
	j, err := w.runner.Claim(ctx, msg.JobID)
	if err != nil {
		switch {
		case errors.Is(err, executor.ErrJobAlreadyClaimed):
			// another worker owns it; the message is settled
			w.logger.Warn("Job already claimed, skipping",
				slog.String("job_id", msg.JobID),
			)
			return nil

		case errors.Is(err, executor.ErrUnrestorable):
			if markErr := w.runner.MarkFailed(ctx, msg.JobID, err); markErr != nil {
				w.logger.Error("Failed to mark unrestorable job failed",
					slog.String("job_id", msg.JobID),
					slog.String("error", markErr.Error()),
				)
			}
			return fmt.Errorf("%w: %v", domain.ErrInvalidPayload, err)

		default:
			// database errors are usually transient
			return domain.NewRetryableError(fmt.Errorf("failed to claim job: %w", err))
		}
	}

	jobCtx := ctx
	if w.jobTimeout > 0 {
		var cancel context.CancelFunc
		jobCtx, cancel = context.WithTimeout(ctx, w.jobTimeout)
		defer cancel()
	}

	w.logger.Info("Processing job",
		slog.String("job_id", j.ID()),
		slog.String("tag", j.Tag()),
		slog.String("kind", j.Kind()),
		slog.String("worker_id", w.workerID),
	)

	// a failed Call leaves the job selected; redelivery could not claim it again
	if err := w.runner.Call(jobCtx, j); err != nil {
		return fmt.Errorf("failed to call job %s: %w", j.ID(), err)
	}

	w.logger.Info("Job invocation finished",
		slog.String("job_id", j.ID()),
		slog.String("status", string(j.Status())),
	)
	return nil
}
