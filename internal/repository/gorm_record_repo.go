package repository

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/kursadbilgin/bulkmail-engine/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var _ RecordStore = (*GormRecordRepo)(nil)

// GormRecordRepo stores delivery records in a networked relational database
// (PostgreSQL or MySQL) through gorm.
type GormRecordRepo struct {
	db        *gorm.DB
	closeOnce sync.Once
	closeErr  error
}

func NewGormRecordRepo(db *gorm.DB) *GormRecordRepo {
	return &GormRecordRepo{db: db}
}

func (r *GormRecordRepo) HasRecord(ctx context.Context, id domain.Identifier) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&DeliveryRecordModel{}).
		Where("identifier = ?", int64(id)).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *GormRecordRepo) Upsert(ctx context.Context, record domain.DeliveryRecord) error {
	if err := record.Validate(); err != nil {
		return err
	}

	model := recordModelFromDomain(&record)
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "identifier"}},
			DoUpdates: clause.AssignmentColumns([]string{"address", "status", "sent_at"}),
		}).
		Create(model).Error
}

func (r *GormRecordRepo) LastIdentifier(ctx context.Context) (domain.Identifier, bool, error) {
	var model DeliveryRecordModel
	err := r.db.WithContext(ctx).
		Order("sent_at DESC").
		Order("identifier DESC").
		Take(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return domain.Identifier(model.Identifier), true, nil
}

func (r *GormRecordRepo) Get(ctx context.Context, id domain.Identifier) (*domain.DeliveryRecord, error) {
	var model DeliveryRecordModel
	err := r.db.WithContext(ctx).First(&model, "identifier = ?", int64(id)).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return recordModelToDomain(&model), nil
}

func (r *GormRecordRepo) Ping(ctx context.Context) error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	return sqlDB.PingContext(ctx)
}

func (r *GormRecordRepo) Close() error {
	r.closeOnce.Do(func() {
		sqlDB, err := r.db.DB()
		if err != nil {
			r.closeErr = fmt.Errorf("failed to get underlying sql.DB: %w", err)
			return
		}
		r.closeErr = sqlDB.Close()
	})
	return r.closeErr
}
