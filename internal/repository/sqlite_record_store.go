package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/kursadbilgin/bulkmail-engine/internal/domain"
)

// sqliteTimeLayout is fixed width so that text ordering matches time ordering.
const sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z"

var _ RecordStore = (*SQLiteRecordStore)(nil)

// SQLiteRecordStore keeps delivery records in a single embedded database file.
type SQLiteRecordStore struct {
	db        *sql.DB
	closeOnce sync.Once
	closeErr  error
}

// NewSQLiteRecordStore wraps an opened database whose schema has been
// initialised by sqlite.InitSchema.
func NewSQLiteRecordStore(db *sql.DB) *SQLiteRecordStore {
	return &SQLiteRecordStore{db: db}
}

func (s *SQLiteRecordStore) HasRecord(ctx context.Context, id domain.Identifier) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sent_emails WHERE identifier = ?`, int64(id)).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (s *SQLiteRecordStore) Upsert(ctx context.Context, record domain.DeliveryRecord) error {
	if err := record.Validate(); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sent_emails (identifier, address, status, sent_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(identifier) DO UPDATE SET
		   address=excluded.address, status=excluded.status, sent_at=excluded.sent_at`,
		int64(record.Identifier), record.Address, record.Status.String(),
		record.SentAt.UTC().Format(sqliteTimeLayout))
	return err
}

func (s *SQLiteRecordStore) LastIdentifier(ctx context.Context) (domain.Identifier, bool, error) {
	var id int64
	err := s.db.QueryRowContext(ctx,
		`SELECT identifier FROM sent_emails
		 ORDER BY sent_at DESC, identifier DESC
		 LIMIT 1`).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return domain.Identifier(id), true, nil
}

func (s *SQLiteRecordStore) Get(ctx context.Context, id domain.Identifier) (*domain.DeliveryRecord, error) {
	var (
		identifier int64
		address    string
		status     string
		sentAt     string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT identifier, address, status, sent_at FROM sent_emails WHERE identifier = ?`,
		int64(id)).Scan(&identifier, &address, &status, &sentAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	parsedStatus, err := domain.ParseRecordStatus(status)
	if err != nil {
		return nil, err
	}
	parsedAt, err := time.Parse(sqliteTimeLayout, sentAt)
	if err != nil {
		return nil, fmt.Errorf("invalid sent_at %q: %w", sentAt, err)
	}

	return &domain.DeliveryRecord{
		Identifier: domain.Identifier(identifier),
		Address:    address,
		Status:     parsedStatus,
		SentAt:     parsedAt,
	}, nil
}

func (s *SQLiteRecordStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteRecordStore) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.db.Close()
	})
	return s.closeErr
}
