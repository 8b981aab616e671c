package queue

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/bulkmail-engine/internal/audit"
	"github.com/kursadbilgin/bulkmail-engine/internal/domain"
)

// SummaryStats is the counter block of a summary event.
type SummaryStats struct {
	Planned   uint64 `json:"planned"`
	Attempted int    `json:"attempted"`
	Succeeded int    `json:"succeeded"`
	Failed    int    `json:"failed"`
	Skipped   int    `json:"skipped"`
	Aborted   string `json:"aborted,omitempty"`
}

// DeliveryEvent is the broker payload for one audit entry or run summary.
type DeliveryEvent struct {
	EventID    string             `json:"eventId"`
	Type       string             `json:"type"`
	RunID      string             `json:"runId,omitempty"`
	Identifier string             `json:"identifier,omitempty"`
	Address    string             `json:"address,omitempty"`
	Outcome    domain.OutcomeKind `json:"outcome,omitempty"`
	Message    string             `json:"message,omitempty"`
	Stats      *SummaryStats      `json:"stats,omitempty"`
	OccurredAt time.Time          `json:"occurredAt"`
}

func EventFromEntry(entry audit.Entry) DeliveryEvent {
	at := entry.At
	if at.IsZero() {
		at = time.Now()
	}

	return DeliveryEvent{
		EventID:    uuid.NewString(),
		Type:       EventTypeDelivery,
		RunID:      entry.RunID,
		Identifier: entry.Outcome.Identifier.String(),
		Address:    entry.Outcome.Address,
		Outcome:    entry.Outcome.Kind,
		Message:    entry.Outcome.Message,
		OccurredAt: at.UTC(),
	}
}

func EventFromSummary(summary domain.RunSummary) DeliveryEvent {
	at := summary.FinishedAt
	if at.IsZero() {
		at = time.Now()
	}

	return DeliveryEvent{
		EventID: uuid.NewString(),
		Type:    EventTypeSummary,
		RunID:   summary.RunID,
		Stats: &SummaryStats{
			Planned:   summary.Planned,
			Attempted: summary.Stats.Attempted,
			Succeeded: summary.Stats.Succeeded,
			Failed:    summary.Stats.Failed,
			Skipped:   summary.Stats.Skipped,
			Aborted:   summary.Aborted,
		},
		OccurredAt: at.UTC(),
	}
}

func (e DeliveryEvent) Validate() error {
	if strings.TrimSpace(e.EventID) == "" {
		return fmt.Errorf("eventId is required")
	}

	switch e.Type {
	case EventTypeDelivery:
		if strings.TrimSpace(e.Identifier) == "" {
			return fmt.Errorf("identifier is required")
		}
		if !e.Outcome.IsValid() {
			return fmt.Errorf("invalid outcome %q", e.Outcome)
		}
	case EventTypeSummary:
		if e.Stats == nil {
			return fmt.Errorf("summary event requires stats")
		}
	default:
		return fmt.Errorf("invalid event type %q", e.Type)
	}

	return nil
}
