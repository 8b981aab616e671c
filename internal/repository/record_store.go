package repository

import (
	"context"

	"github.com/kursadbilgin/bulkmail-engine/internal/domain"
)

// RecordStore persists at most one delivery record per identifier.
type RecordStore interface {
	// HasRecord reports whether any record exists for id, whatever its status.
	HasRecord(ctx context.Context, id domain.Identifier) (bool, error)
	// Upsert inserts the record or replaces the existing one for the same identifier.
	Upsert(ctx context.Context, record domain.DeliveryRecord) error
	// LastIdentifier returns the identifier with the newest timestamp, ties
	// broken by the highest identifier. ok is false when the store is empty.
	LastIdentifier(ctx context.Context) (id domain.Identifier, ok bool, err error)
	Get(ctx context.Context, id domain.Identifier) (*domain.DeliveryRecord, error)
	Ping(ctx context.Context) error
	// Close releases the underlying connection. Calling it twice is safe.
	Close() error
}
