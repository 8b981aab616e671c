package queue

import (
	"context"
	"fmt"
	"strings"

	"github.com/kursadbilgin/bulkmail-engine/internal/audit"
	"github.com/kursadbilgin/bulkmail-engine/internal/domain"
)

// EventPublisher is an audit sink that mirrors every entry and the run
// summary onto a broker queue.
type EventPublisher struct {
	publisher Publisher
	queue     string
}

var _ audit.Sink = (*EventPublisher)(nil)

func NewEventPublisher(publisher Publisher, queue string) (*EventPublisher, error) {
	if publisher == nil {
		return nil, fmt.Errorf("publisher is required")
	}
	queue = strings.TrimSpace(queue)
	if queue == "" {
		return nil, fmt.Errorf("queue name is required")
	}

	return &EventPublisher{publisher: publisher, queue: queue}, nil
}

func (p *EventPublisher) Record(ctx context.Context, entry audit.Entry) error {
	return p.publisher.Publish(ctx, p.queue, EventFromEntry(entry))
}

func (p *EventPublisher) Summary(ctx context.Context, summary domain.RunSummary) error {
	return p.publisher.Publish(ctx, p.queue, EventFromSummary(summary))
}

func (p *EventPublisher) Close() error {
	return p.publisher.Close()
}
