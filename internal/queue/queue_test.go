package queue

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/kursadbilgin/bulkmail-engine/internal/audit"
	"github.com/kursadbilgin/bulkmail-engine/internal/domain"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

func TestDLQName(t *testing.T) {
	if got := DLQName("bulkmail.delivery_events"); got != "bulkmail.delivery_events.dlq" {
		t.Fatalf("DLQName = %s, want bulkmail.delivery_events.dlq", got)
	}
}

func TestEventFromEntry(t *testing.T) {
	at := time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)
	event := EventFromEntry(audit.Entry{
		RunID: "run-1",
		At:    at,
		Outcome: domain.Outcome{
			Identifier: 100000,
			Address:    "100000@qq.com",
			Kind:       domain.OutcomeFailedRefused,
			Message:    "mailbox unavailable",
		},
	})

	if event.EventID == "" {
		t.Fatal("EventID should be generated")
	}
	if event.Type != EventTypeDelivery || event.RunID != "run-1" || event.Identifier != "100000" {
		t.Fatalf("unexpected event: %+v", event)
	}
	if event.Outcome != domain.OutcomeFailedRefused || !event.OccurredAt.Equal(at) {
		t.Fatalf("unexpected event: %+v", event)
	}
	if err := event.Validate(); err != nil {
		t.Fatalf("Validate() unexpected error: %v", err)
	}
}

func TestEventFromSummary(t *testing.T) {
	event := EventFromSummary(domain.RunSummary{
		RunID:   "run-1",
		Planned: 3,
		Stats:   domain.RunStats{Attempted: 3, Succeeded: 1, Failed: 1, Skipped: 1},
		Aborted: "interrupted",
	})

	if event.Type != EventTypeSummary || event.Stats == nil {
		t.Fatalf("unexpected event: %+v", event)
	}
	if event.Stats.Attempted != 3 || event.Stats.Skipped != 1 || event.Stats.Aborted != "interrupted" {
		t.Fatalf("unexpected stats: %+v", event.Stats)
	}
	if event.OccurredAt.IsZero() {
		t.Fatal("OccurredAt should default to now")
	}
	if err := event.Validate(); err != nil {
		t.Fatalf("Validate() unexpected error: %v", err)
	}
}

func TestDeliveryEventValidate(t *testing.T) {
	tests := []struct {
		name  string
		event DeliveryEvent
	}{
		{name: "missing id", event: DeliveryEvent{Type: EventTypeDelivery, Identifier: "100000", Outcome: domain.OutcomeSent}},
		{name: "unknown type", event: DeliveryEvent{EventID: "e1", Type: "other"}},
		{name: "missing identifier", event: DeliveryEvent{EventID: "e1", Type: EventTypeDelivery, Outcome: domain.OutcomeSent}},
		{name: "invalid outcome", event: DeliveryEvent{EventID: "e1", Type: EventTypeDelivery, Identifier: "100000", Outcome: "BOUNCED"}},
		{name: "summary without stats", event: DeliveryEvent{EventID: "e1", Type: EventTypeSummary}},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.event.Validate(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

type fakePublisher struct {
	publishFn func(ctx context.Context, queue string, event DeliveryEvent) error
	closed    bool
}

func (f *fakePublisher) Publish(ctx context.Context, queue string, event DeliveryEvent) error {
	if f.publishFn != nil {
		return f.publishFn(ctx, queue, event)
	}
	return nil
}

func (f *fakePublisher) Close() error {
	f.closed = true
	return nil
}

func TestEventPublisherForwardsEntriesAndSummary(t *testing.T) {
	var published []DeliveryEvent
	publisher := &fakePublisher{
		publishFn: func(_ context.Context, queue string, event DeliveryEvent) error {
			if queue != "events" {
				t.Fatalf("queue = %s, want events", queue)
			}
			published = append(published, event)
			return nil
		},
	}

	sink, err := NewEventPublisher(publisher, " events ")
	if err != nil {
		t.Fatalf("NewEventPublisher() error = %v", err)
	}

	entry := audit.Entry{RunID: "run-1", Outcome: domain.Outcome{Identifier: 100000, Kind: domain.OutcomeSent}}
	if err := sink.Record(context.Background(), entry); err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	if err := sink.Summary(context.Background(), domain.RunSummary{RunID: "run-1"}); err != nil {
		t.Fatalf("Summary() error = %v", err)
	}
	if err := sink.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	if len(published) != 2 {
		t.Fatalf("published = %d, want 2", len(published))
	}
	if published[0].Type != EventTypeDelivery || published[1].Type != EventTypeSummary {
		t.Fatalf("event types = %s,%s", published[0].Type, published[1].Type)
	}
	if !publisher.closed {
		t.Fatal("publisher should be closed")
	}
}

func TestEventPublisherPropagatesPublishError(t *testing.T) {
	publishErr := errors.New("broker down")
	sink, err := NewEventPublisher(&fakePublisher{
		publishFn: func(context.Context, string, DeliveryEvent) error { return publishErr },
	}, "events")
	if err != nil {
		t.Fatalf("NewEventPublisher() error = %v", err)
	}

	if err := sink.Record(context.Background(), audit.Entry{}); !errors.Is(err, publishErr) {
		t.Fatalf("Record() error = %v, want %v", err, publishErr)
	}
}

func TestNewEventPublisherValidation(t *testing.T) {
	if _, err := NewEventPublisher(nil, "events"); err == nil {
		t.Fatal("expected error for nil publisher")
	}
	if _, err := NewEventPublisher(&fakePublisher{}, " "); err == nil {
		t.Fatal("expected error for empty queue")
	}
}

type fakeAcknowledger struct {
	acked    int
	nacked   int
	rejected int
	requeued bool
}

func (f *fakeAcknowledger) Ack(uint64, bool) error {
	f.acked++
	return nil
}

func (f *fakeAcknowledger) Nack(_ uint64, _ bool, requeue bool) error {
	f.nacked++
	f.requeued = requeue
	return nil
}

func (f *fakeAcknowledger) Reject(uint64, bool) error {
	f.rejected++
	return nil
}

func TestConsumerHandleDelivery(t *testing.T) {
	valid, err := json.Marshal(EventFromEntry(audit.Entry{
		RunID:   "run-1",
		Outcome: domain.Outcome{Identifier: 100000, Kind: domain.OutcomeSent},
	}))
	if err != nil {
		t.Fatalf("failed to marshal event: %v", err)
	}
	invalidPayload, err := json.Marshal(DeliveryEvent{EventID: "e1", Type: "other"})
	if err != nil {
		t.Fatalf("failed to marshal event: %v", err)
	}

	tests := []struct {
		name       string
		body       []byte
		handlerErr error
		redeliver  bool
		wantAck    int
		wantNack   int
		wantReject int
	}{
		{name: "valid event is acked", body: valid, wantAck: 1},
		{name: "handler failure is requeued", body: valid, handlerErr: errors.New("busy"), wantNack: 1},
		{name: "second handler failure is dead-lettered", body: valid, handlerErr: errors.New("busy"), redeliver: true, wantReject: 1},
		{name: "invalid json is rejected", body: []byte("{"), wantReject: 1},
		{name: "invalid payload is rejected", body: invalidPayload, wantReject: 1},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			consumer := NewRabbitMQConsumer(nil, 0, zap.NewNop())
			ack := &fakeAcknowledger{}

			handled := 0
			err := consumer.handleDelivery(context.Background(), amqp.Delivery{Acknowledger: ack, Body: tt.body, Redelivered: tt.redeliver}, func(_ context.Context, event DeliveryEvent) error {
				handled++
				if event.RunID != "run-1" {
					t.Fatalf("RunID = %q, want run-1", event.RunID)
				}
				return tt.handlerErr
			})
			if err != nil {
				t.Fatalf("handleDelivery() error = %v", err)
			}

			if ack.acked != tt.wantAck || ack.nacked != tt.wantNack || ack.rejected != tt.wantReject {
				t.Fatalf("ack/nack/reject = %d/%d/%d, want %d/%d/%d",
					ack.acked, ack.nacked, ack.rejected, tt.wantAck, tt.wantNack, tt.wantReject)
			}
			if tt.wantNack > 0 && !ack.requeued {
				t.Fatal("handler failure should requeue")
			}
			if tt.wantReject > 0 && !tt.redeliver && handled != 0 {
				t.Fatal("handler should not run for rejected messages")
			}
		})
	}
}
