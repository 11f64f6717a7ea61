package rabbitmq

import (
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// deadQueueName is where rejected job messages are parked for inspection
func deadQueueName(queue string) string {
	return queue + ".dead"
}

// declareTopology declares the job exchange and queue and, when configured,
// the dead letter exchange with its parking queue
func declareTopology(ch *amqp.Channel, cfg *Config) error {
	if err := ch.ExchangeDeclare(
		cfg.ExchangeName,
		cfg.ExchangeType,
		cfg.ExchangeDurable,
		cfg.ExchangeAutoDelete,
		false, // internal
		false, // no-wait
		nil,
	); err != nil {
		return fmt.Errorf("failed to declare exchange %s: %w", cfg.ExchangeName, err)
	}

	var args amqp.Table
	if cfg.DeadLetterExchange != "" {
		if err := declareDeadLetter(ch, cfg); err != nil {
			return err
		}
		args = amqp.Table{"x-dead-letter-exchange": cfg.DeadLetterExchange}
	}

	if _, err := ch.QueueDeclare(
		cfg.QueueName,
		cfg.QueueDurable,
		cfg.QueueAutoDelete,
		cfg.QueueExclusive,
		false, // no-wait
		args,
	); err != nil {
		return fmt.Errorf("failed to declare queue %s: %w", cfg.QueueName, err)
	}

	if err := ch.QueueBind(cfg.QueueName, cfg.RoutingKey, cfg.ExchangeName, false, nil); err != nil {
		return fmt.Errorf("failed to bind queue %s: %w", cfg.QueueName, err)
	}

	return nil
}

// declareDeadLetter declares a fanout exchange and a durable queue that keeps
// every message it receives
func declareDeadLetter(ch *amqp.Channel, cfg *Config) error {
	if err := ch.ExchangeDeclare(cfg.DeadLetterExchange, amqp.ExchangeFanout, true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare dead letter exchange %s: %w", cfg.DeadLetterExchange, err)
	}

	dead := deadQueueName(cfg.QueueName)
	if _, err := ch.QueueDeclare(dead, true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare dead letter queue %s: %w", dead, err)
	}

	if err := ch.QueueBind(dead, "", cfg.DeadLetterExchange, false, nil); err != nil {
		return fmt.Errorf("failed to bind dead letter queue %s: %w", dead, err)
	}

	return nil
}
