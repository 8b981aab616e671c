package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

const defaultConfirmTimeout = 5 * time.Second

// RabbitMQPublisher publishes events as persistent JSON messages and waits
// for the broker to confirm each one. It keeps one confirm-mode channel per
// queue for the life of a run.
type RabbitMQPublisher struct {
	client         *RabbitMQ
	confirmTimeout time.Duration

	mu       sync.Mutex
	channels map[string]*amqp.Channel
}

func NewRabbitMQPublisher(client *RabbitMQ) *RabbitMQPublisher {
	return &RabbitMQPublisher{
		client:         client,
		confirmTimeout: defaultConfirmTimeout,
		channels:       make(map[string]*amqp.Channel),
	}
}

func (p *RabbitMQPublisher) Publish(ctx context.Context, queue string, event DeliveryEvent) error {
	if p == nil || p.client == nil {
		return fmt.Errorf("publisher is not initialized")
	}
	queue = strings.TrimSpace(queue)
	if queue == "" {
		return fmt.Errorf("queue name is required")
	}
	if err := event.Validate(); err != nil {
		return fmt.Errorf("invalid delivery event: %w", err)
	}

	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal delivery event: %w", err)
	}

	ch, err := p.channelFor(ctx, queue)
	if err != nil {
		return err
	}

	confirm, err := ch.PublishWithDeferredConfirmWithContext(ctx, "", queue, false, false, amqp.Publishing{
		ContentType:   "application/json",
		DeliveryMode:  amqp.Persistent,
		Timestamp:     event.OccurredAt,
		Type:          event.Type,
		MessageId:     event.EventID,
		CorrelationId: event.RunID,
		AppId:         connectionName,
		Body:          body,
	})
	if err != nil {
		p.dropChannel(queue, ch)
		return fmt.Errorf("failed to publish %s event to %q: %w", event.Type, queue, err)
	}
	if confirm == nil {
		return nil
	}

	waitCtx, cancel := context.WithTimeout(ctx, p.confirmTimeout)
	defer cancel()

	acked, err := confirm.WaitContext(waitCtx)
	if err != nil {
		return fmt.Errorf("broker did not confirm event %s: %w", event.EventID, err)
	}
	if !acked {
		return fmt.Errorf("broker rejected event %s", event.EventID)
	}
	return nil
}

func (p *RabbitMQPublisher) channelFor(ctx context.Context, queue string) (*amqp.Channel, error) {
	p.mu.Lock()
	ch := p.channels[queue]
	p.mu.Unlock()
	if ch != nil && !ch.IsClosed() {
		return ch, nil
	}

	ch, err := p.client.openChannel(ctx, queue, true)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	p.channels[queue] = ch
	p.mu.Unlock()
	return ch, nil
}

func (p *RabbitMQPublisher) dropChannel(queue string, ch *amqp.Channel) {
	p.mu.Lock()
	if p.channels[queue] == ch {
		delete(p.channels, queue)
	}
	p.mu.Unlock()
	_ = ch.Close()
}

// Close closes the cached channels and the broker connection.
func (p *RabbitMQPublisher) Close() error {
	if p == nil || p.client == nil {
		return nil
	}

	p.mu.Lock()
	for queue, ch := range p.channels {
		_ = ch.Close()
		delete(p.channels, queue)
	}
	p.mu.Unlock()

	return p.client.Close()
}
