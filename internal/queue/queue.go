package queue

import (
	"context"
)

const (
	// EventTypeDelivery marks an event carrying one terminal outcome.
	EventTypeDelivery = "delivery"
	// EventTypeSummary marks the end-of-run event.
	EventTypeSummary = "summary"

	dlxExchangeName = "bulkmail.dlx"
)

// Publisher publishes delivery events to a queue.
type Publisher interface {
	Publish(ctx context.Context, queue string, event DeliveryEvent) error
	Close() error
}

// EventHandler handles a consumed delivery event.
type EventHandler func(ctx context.Context, event DeliveryEvent) error

// Consumer consumes delivery events from a queue.
type Consumer interface {
	Consume(ctx context.Context, queue string, handler EventHandler) error
	Close() error
}

// DLQName returns the dead-letter queue for an event queue, e.g.
// bulkmail.delivery_events.dlq.
func DLQName(queue string) string {
	return queue + ".dlq"
}
