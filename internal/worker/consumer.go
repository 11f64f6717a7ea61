package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/cuongbtq/dirsync/internal/executor"
	"github.com/cuongbtq/dirsync/internal/worker/domain"
)

// setupConsumer starts consuming with the worker ID as consumer tag
func (w *Worker) setupConsumer() (<-chan amqp.Delivery, error) {
	deliveries, err := w.broker.Consume(w.workerID, w.prefetchCount)
	if err != nil {
		return nil, fmt.Errorf("failed to start consuming: %w", err)
	}

	w.logger.Info("RabbitMQ consumer started",
		slog.String("consumer_tag", w.workerID),
		slog.Int("prefetch_count", w.prefetchCount),
	)

	return deliveries, nil
}

// startMessageDispatcher hands deliveries to the worker pool until ctx is
// canceled. It reports whether the delivery channel was closed.
func (w *Worker) startMessageDispatcher(ctx context.Context, deliveries <-chan amqp.Delivery) bool {
	w.logger.Info("Message dispatcher started",
		slog.String("worker_id", w.workerID),
	)

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Message dispatcher stopped - context canceled")
			return false

		case delivery, ok := <-deliveries:
			if !ok {
				w.logger.Warn("RabbitMQ delivery channel closed")
				return true
			}

			msg, err := parseMessage(delivery)
			if err != nil {
				w.logger.Error("Rejecting malformed job message",
					slog.String("error", err.Error()),
					slog.String("body", string(delivery.Body)),
				)
				// malformed messages go to the dead letter queue
				w.nack(msg, delivery.DeliveryTag, false)
				continue
			}

			select {
			case w.jobsChan <- msg:
				w.logger.Debug("Job dispatched to worker pool",
					slog.String("job_id", msg.JobID),
					slog.String("tag", msg.Tag),
					slog.Uint64("delivery_tag", msg.DeliveryTag),
				)
			case <-ctx.Done():
				w.logger.Info("Message dispatcher stopped while dispatching job")
				w.nack(msg, msg.DeliveryTag, true)
				return false
			}
		}
	}
}

// parseMessage decodes a delivery and validates its job id
func parseMessage(delivery amqp.Delivery) (*domain.JobMessage, error) {
	var body executor.Message
	if err := json.Unmarshal(delivery.Body, &body); err != nil {
		return nil, fmt.Errorf("invalid message JSON: %w", err)
	}

	if _, err := uuid.Parse(body.JobID); err != nil {
		return nil, fmt.Errorf("invalid job_id %q: %w", body.JobID, err)
	}

	return &domain.JobMessage{
		JobID:       body.JobID,
		Tag:         body.Tag,
		DeliveryTag: delivery.DeliveryTag,
	}, nil
}

func (w *Worker) nack(msg *domain.JobMessage, deliveryTag uint64, requeue bool) {
	if err := w.broker.Nack(deliveryTag, requeue); err != nil {
		attrs := []any{
			slog.Uint64("delivery_tag", deliveryTag),
			slog.String("error", err.Error()),
		}
		if msg != nil {
			attrs = append(attrs, slog.String("job_id", msg.JobID))
		}
		w.logger.Error("Failed to NACK message", attrs...)
		return
	}

	w.logger.Info("Message NACKed",
		slog.Uint64("delivery_tag", deliveryTag),
		slog.Bool("requeue", requeue),
	)
}
