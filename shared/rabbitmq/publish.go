package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	defaultPublishRetries = 3
	defaultPublishDelay   = 100 * time.Millisecond
	defaultBackoffMult    = 2.0
)

var errNotConfirmed = errors.New("broker did not confirm message")

// PublishWithRetry publishes a persistent message and waits for the broker
// confirm, retrying with exponential backoff
func (c *Client) PublishWithRetry(ctx context.Context, body []byte, contentType string) error {
	retries := c.config.PublishRetries
	if retries <= 0 {
		retries = defaultPublishRetries
	}
	delay := c.config.PublishRetryDelay
	if delay <= 0 {
		delay = defaultPublishDelay
	}
	mult := c.config.PublishBackoffMult
	if mult <= 0 {
		mult = defaultBackoffMult
	}

	var err error
	for attempt := 0; attempt <= retries; attempt++ {
		if err = c.publish(ctx, body, contentType); err == nil {
			c.logger.Debug("Message published",
				slog.Int("attempt", attempt+1),
				slog.Int("body_size", len(body)),
			)
			return nil
		}

		if attempt == retries {
			break
		}

		wait := time.Duration(float64(delay) * math.Pow(mult, float64(attempt)))
		c.logger.Warn("Publish failed, retrying",
			slog.Int("attempt", attempt+1),
			slog.Int("max_retries", retries),
			slog.Duration("retry_after", wait),
			slog.Any("error", err),
		)

		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return fmt.Errorf("publish canceled after %d attempts: %w", attempt+1, ctx.Err())
		}
	}

	c.logger.Error("Publish failed after all retries",
		slog.Int("attempts", retries+1),
		slog.Any("error", err),
	)
	return fmt.Errorf("failed to publish message after %d attempts: %w", retries+1, err)
}

// publish sends one message and blocks until it is confirmed
func (c *Client) publish(ctx context.Context, body []byte, contentType string) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}

	confirm, err := c.channel.PublishWithDeferredConfirmWithContext(
		ctx,
		c.config.ExchangeName,
		c.config.RoutingKey,
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  contentType,
			Body:         body,
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now(),
		},
	)
	if err != nil {
		return err
	}

	acked, err := confirm.WaitContext(ctx)
	if err != nil {
		return err
	}
	if !acked {
		return errNotConfirmed
	}
	return nil
}
