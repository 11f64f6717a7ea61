package worker

import (
	"context"
	"errors"
	"log/slog"
	"strconv"

	"github.com/cuongbtq/dirsync/internal/worker/domain"
)

// spawnWorkerPool starts one runner per unit of concurrency; each drains
// jobsChan until stop or ctx ends.
func (w *Worker) spawnWorkerPool(ctx context.Context) {
	w.logger.Info("Starting job runners",
		slog.String("worker_id", w.workerID),
		slog.Int("runners", w.concurrency),
	)

	w.wg.Add(w.concurrency)
	for i := range w.concurrency {
		go w.runJobs(ctx, w.logger.With(slog.String("runner", w.workerID+"-"+strconv.Itoa(i))))
	}
}

func (w *Worker) runJobs(ctx context.Context, log *slog.Logger) {
	defer w.wg.Done()

	for {
		select {
		case <-w.stopChan:
			log.Debug("Runner stopped")
			return
		case <-ctx.Done():
			log.Debug("Runner canceled", slog.Any("cause", context.Cause(ctx)))
			return
		case msg := <-w.jobsChan:
			w.settle(log, msg, w.processJob(ctx, msg))
		}
	}
}

// settle acks the delivery once the executor has recorded the outcome of
// one job step, and nacks it otherwise.
func (w *Worker) settle(log *slog.Logger, msg *domain.JobMessage, err error) {
	if err == nil {
		if ackErr := w.broker.Ack(msg.DeliveryTag); ackErr != nil {
			log.Error("Job step recorded but delivery ack failed",
				slog.String("job_id", msg.JobID),
				slog.Uint64("delivery_tag", msg.DeliveryTag),
				slog.Any("error", ackErr),
			)
		}
		return
	}

	requeue := requeueOnFailure(err)
	log.Warn("Job step not recorded",
		slog.String("job_id", msg.JobID),
		slog.String("tag", msg.Tag),
		slog.Bool("requeue", requeue),
		slog.Any("error", err),
	)
	w.nack(msg, msg.DeliveryTag, requeue)
}

// requeueOnFailure reports whether a delivery whose step failed before the
// executor recorded it should go back to the queue. Job-level retries get
// a fresh message from the executor instead.
func requeueOnFailure(err error) bool {
	if errors.Is(err, domain.ErrInvalidPayload) {
		return false
	}

	var retryable *domain.RetryableError
	return errors.As(err, &retryable)
}
