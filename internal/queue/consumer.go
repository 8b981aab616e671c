package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// RabbitMQConsumer follows an events queue. A failed handler call is
// requeued once; a second failure, malformed JSON, or an invalid event is
// rejected into the dead-letter queue.
type RabbitMQConsumer struct {
	client   *RabbitMQ
	prefetch int
	logger   *zap.Logger
}

func NewRabbitMQConsumer(client *RabbitMQ, prefetch int, logger *zap.Logger) *RabbitMQConsumer {
	if prefetch < 1 {
		prefetch = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &RabbitMQConsumer{
		client:   client,
		prefetch: prefetch,
		logger:   logger,
	}
}

// Consume delivers events to handler until ctx ends, reopening the channel
// with backoff whenever the broker drops it. It returns nil on cancellation.
func (c *RabbitMQConsumer) Consume(ctx context.Context, queue string, handler EventHandler) error {
	if c == nil || c.client == nil {
		return fmt.Errorf("consumer is not initialized")
	}
	queue = strings.TrimSpace(queue)
	if queue == "" {
		return fmt.Errorf("queue name is required")
	}
	if handler == nil {
		return fmt.Errorf("event handler is required")
	}

	wait := retryBase
	for {
		handled, err := c.session(ctx, queue, handler)
		if ctx.Err() != nil {
			return nil
		}
		if handled > 0 {
			wait = retryBase
		}

		c.logger.Warn("event consumer interrupted, reconnecting",
			zap.String("queue", queue),
			zap.Int("handled", handled),
			zap.Duration("backoff", wait),
			zap.Error(err),
		)
		if !sleepContext(ctx, wait) {
			return nil
		}
		wait = nextBackoff(wait)
	}
}

// session consumes on one channel until it closes or ctx ends.
func (c *RabbitMQConsumer) session(ctx context.Context, queue string, handler EventHandler) (int, error) {
	ch, err := c.client.openChannel(ctx, queue, false)
	if err != nil {
		return 0, err
	}
	defer ch.Close() //nolint:errcheck

	if err := ch.Qos(c.prefetch, 0, false); err != nil {
		return 0, fmt.Errorf("failed to set qos: %w", err)
	}

	closed := ch.NotifyClose(make(chan *amqp.Error, 1))
	deliveries, err := ch.ConsumeWithContext(ctx, queue, "", false, false, false, false, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to consume queue %q: %w", queue, err)
	}

	handled := 0
	for {
		select {
		case <-ctx.Done():
			return handled, nil
		case amqpErr := <-closed:
			return handled, fmt.Errorf("channel closed: %v", amqpErr)
		case d, ok := <-deliveries:
			if !ok {
				return handled, fmt.Errorf("delivery stream for %q ended", queue)
			}
			if err := c.handleDelivery(ctx, d, handler); err != nil {
				return handled, err
			}
			handled++
		}
	}
}

func (c *RabbitMQConsumer) handleDelivery(ctx context.Context, d amqp.Delivery, handler EventHandler) error {
	var event DeliveryEvent
	if err := json.Unmarshal(d.Body, &event); err != nil {
		return c.deadLetter(d, "malformed event", zap.Error(err), zap.String("messageId", d.MessageId))
	}
	if err := event.Validate(); err != nil {
		return c.deadLetter(d, "invalid event", zap.Error(err), zap.String("eventId", event.EventID))
	}

	if err := handler(ctx, event); err != nil {
		if d.Redelivered {
			return c.deadLetter(d, "event handler failed twice", zap.Error(err), zap.String("eventId", event.EventID))
		}
		if nackErr := d.Nack(false, true); nackErr != nil {
			return fmt.Errorf("failed to requeue event %s: %w", event.EventID, nackErr)
		}
		return nil
	}

	if err := d.Ack(false); err != nil {
		return fmt.Errorf("failed to ack event %s: %w", event.EventID, err)
	}
	return nil
}

func (c *RabbitMQConsumer) deadLetter(d amqp.Delivery, reason string, fields ...zap.Field) error {
	c.logger.Warn("dead-lettering event: "+reason, fields...)
	if err := d.Reject(false); err != nil {
		return fmt.Errorf("failed to reject %s: %w", reason, err)
	}
	return nil
}

func (c *RabbitMQConsumer) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}
