package service

import (
	"context"
	"sync"
	"time"

	"github.com/kursadbilgin/bulkmail-engine/internal/audit"
	"github.com/kursadbilgin/bulkmail-engine/internal/domain"
	"github.com/kursadbilgin/bulkmail-engine/internal/provider"
)

type memoryStore struct {
	mu      sync.Mutex
	records map[domain.Identifier]domain.DeliveryRecord
	upserts int
	closed  int

	hasRecordErr error
	upsertErr    error
	lastErr      error
}

func newMemoryStore() *memoryStore {
	return &memoryStore{records: map[domain.Identifier]domain.DeliveryRecord{}}
}

func (s *memoryStore) HasRecord(_ context.Context, id domain.Identifier) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.hasRecordErr != nil {
		return false, s.hasRecordErr
	}
	_, ok := s.records[id]
	return ok, nil
}

func (s *memoryStore) Upsert(_ context.Context, record domain.DeliveryRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.upsertErr != nil {
		return s.upsertErr
	}
	s.upserts++
	s.records[record.Identifier] = record
	return nil
}

func (s *memoryStore) LastIdentifier(context.Context) (domain.Identifier, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastErr != nil {
		return 0, false, s.lastErr
	}

	var (
		last  domain.DeliveryRecord
		found bool
	)
	for _, r := range s.records {
		if !found || r.SentAt.After(last.SentAt) || (r.SentAt.Equal(last.SentAt) && r.Identifier > last.Identifier) {
			last = r
			found = true
		}
	}
	return last.Identifier, found, nil
}

func (s *memoryStore) Get(_ context.Context, id domain.Identifier) (*domain.DeliveryRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &r, nil
}

func (s *memoryStore) Ping(context.Context) error { return nil }

func (s *memoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed++
	return nil
}

func (s *memoryStore) put(id domain.Identifier, status domain.RecordStatus, at time.Time) {
	s.records[id] = domain.DeliveryRecord{Identifier: id, Address: id.Address("qq.com"), Status: status, SentAt: at}
}

type fakeRenderer struct {
	renderFn func(id domain.Identifier, address string) (string, error)
}

func (f *fakeRenderer) Render(id domain.Identifier, address string) (string, error) {
	if f.renderFn != nil {
		return f.renderFn(id, address)
	}
	return "<p>" + id.String() + "</p>", nil
}

type fakeProvider struct {
	mu        sync.Mutex
	deliverFn func(ctx context.Context, envelope provider.Envelope) provider.Result
	calls     []provider.Envelope
}

func (f *fakeProvider) Deliver(ctx context.Context, envelope provider.Envelope) provider.Result {
	f.mu.Lock()
	f.calls = append(f.calls, envelope)
	f.mu.Unlock()

	if f.deliverFn != nil {
		return f.deliverFn(ctx, envelope)
	}
	return provider.Delivered()
}

func (f *fakeProvider) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type recordingSink struct {
	mu        sync.Mutex
	entries   []audit.Entry
	summaries []domain.RunSummary
}

func (s *recordingSink) Record(_ context.Context, entry audit.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entry)
	return nil
}

func (s *recordingSink) Summary(_ context.Context, summary domain.RunSummary) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.summaries = append(s.summaries, summary)
	return nil
}

func (s *recordingSink) Close() error { return nil }

type fakeOneSender struct {
	sendFn func(ctx context.Context, id domain.Identifier) (domain.Outcome, error)
	ids    []domain.Identifier
}

func (f *fakeOneSender) SendOne(ctx context.Context, id domain.Identifier) (domain.Outcome, error) {
	f.ids = append(f.ids, id)
	if f.sendFn != nil {
		return f.sendFn(ctx, id)
	}
	return domain.Outcome{Identifier: id, Kind: domain.OutcomeSent}, nil
}

type fakePacer struct {
	waitFn func(ctx context.Context) error
	waits  int
}

func (f *fakePacer) Wait(ctx context.Context) error {
	f.waits++
	if f.waitFn != nil {
		return f.waitFn(ctx)
	}
	return nil
}

// steppingClock returns a clock that advances one second per call.
func steppingClock() func() time.Time {
	var mu sync.Mutex
	current := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		current = current.Add(time.Second)
		return current
	}
}
