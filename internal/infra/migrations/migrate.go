package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/kursadbilgin/bulkmail-engine/internal/repository"
	"gorm.io/gorm"
)

// Migrate brings a PostgreSQL or MySQL database up to the current records schema.
func Migrate(db *gorm.DB) error {
	m := gormigrate.New(db, gormigrate.DefaultOptions, []*gormigrate.Migration{
		createSentEmailsTable(),
	})

	return m.Migrate()
}

func createSentEmailsTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000001_create_sent_emails",
		Migrate: func(tx *gorm.DB) error {
			return tx.AutoMigrate(&repository.DeliveryRecordModel{})
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.DeliveryRecordModel{})
		},
	}
}
