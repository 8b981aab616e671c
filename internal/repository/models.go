package repository

import (
	"time"

	"github.com/kursadbilgin/bulkmail-engine/internal/domain"
)

// RecordsTable is shared by every SQL backend.
const RecordsTable = "sent_emails"

// DeliveryRecordModel is the persistence model for the sent_emails table.
type DeliveryRecordModel struct {
	ID         uint64              `gorm:"primaryKey;autoIncrement"`
	Identifier int64               `gorm:"not null;uniqueIndex:idx_sent_emails_identifier"`
	Address    string              `gorm:"type:varchar(100);not null"`
	Status     domain.RecordStatus `gorm:"type:varchar(20);not null"`
	SentAt     time.Time           `gorm:"not null;index:idx_sent_emails_sent_at"`
}

func (DeliveryRecordModel) TableName() string {
	return RecordsTable
}

func recordModelFromDomain(r *domain.DeliveryRecord) *DeliveryRecordModel {
	if r == nil {
		return nil
	}

	return &DeliveryRecordModel{
		Identifier: int64(r.Identifier),
		Address:    r.Address,
		Status:     r.Status,
		SentAt:     r.SentAt.UTC(),
	}
}

func recordModelToDomain(m *DeliveryRecordModel) *domain.DeliveryRecord {
	if m == nil {
		return nil
	}

	return &domain.DeliveryRecord{
		Identifier: domain.Identifier(m.Identifier),
		Address:    m.Address,
		Status:     m.Status,
		SentAt:     m.SentAt.UTC(),
	}
}
