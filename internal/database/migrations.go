package database

import (
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/coauthorhq/coauthor/backend/internal/documents"
)

const migrationBackfillLatestVersionPointers = "2026-08-12_backfill_latest_version_pointers"

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name  string
	apply func(*gorm.DB) error
}

func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	migrations := []migrationDefinition{
		{name: migrationBackfillLatestVersionPointers, apply: backfillLatestVersionPointers},
	}

	for _, migration := range migrations {
		var record migrationRecord
		err := db.Where("name = ?", migration.name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err := migration.apply(db); err != nil {
			return err
		}
		appliedAt := time.Now().UTC().Unix()
		if err := db.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error; err != nil {
			return err
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

// backfillLatestVersionPointers repairs documents whose latest_version_id is
// empty even though version rows exist. Early builds only wrote the pointer
// on create, not on restore.
func backfillLatestVersionPointers(db *gorm.DB) error {
	var orphaned []documents.Document
	if err := db.
		Where("latest_version_id = '' OR latest_version_id IS NULL").
		Find(&orphaned).Error; err != nil {
		return err
	}
	for _, document := range orphaned {
		var newest documents.Version
		err := db.
			Where("document_id = ?", document.ID).
			Order("created_at DESC").
			Take(&newest).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			continue
		}
		if err != nil {
			return err
		}
		if err := db.Model(&documents.Document{}).
			Where("id = ?", document.ID).
			Update("latest_version_id", newest.ID).Error; err != nil {
			return err
		}
	}
	return nil
}
