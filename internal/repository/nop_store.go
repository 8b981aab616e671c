package repository

import (
	"context"

	"github.com/kursadbilgin/bulkmail-engine/internal/domain"
)

var _ RecordStore = NopStore{}

// NopStore records nothing. With it every identifier is always sent and a run
// never resumes.
type NopStore struct{}

func (NopStore) HasRecord(context.Context, domain.Identifier) (bool, error) { return false, nil }

func (NopStore) Upsert(context.Context, domain.DeliveryRecord) error { return nil }

func (NopStore) LastIdentifier(context.Context) (domain.Identifier, bool, error) {
	return 0, false, nil
}

func (NopStore) Get(context.Context, domain.Identifier) (*domain.DeliveryRecord, error) {
	return nil, domain.ErrNotFound
}

func (NopStore) Ping(context.Context) error { return nil }

func (NopStore) Close() error { return nil }
