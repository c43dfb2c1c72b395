package documents

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// LoadDocument returns the current content and a best-effort version hint for
// the realtime core. The hint is the number of stored version snapshots; a
// document with no snapshots yet reports 1 so joining clients see a non-zero
// baseline, matching the behavior the editor expects.
func (s *Service) LoadDocument(ctx context.Context, documentID string) (string, int64, error) {
	docID, err := validateID(documentID)
	if err != nil {
		return "", 0, err
	}

	var doc Document
	err = s.db.WithContext(ctx).Where("id = ?", docID).Take(&doc).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", 0, ErrNotFound
	}
	if err != nil {
		return "", 0, fmt.Errorf("documents: load: %w", err)
	}

	var versionCount int64
	if err := s.db.WithContext(ctx).Model(&Version{}).
		Where("document_id = ?", docID).
		Count(&versionCount).Error; err != nil {
		return "", 0, fmt.Errorf("documents: count versions: %w", err)
	}
	if versionCount == 0 {
		versionCount = 1
	}
	return doc.Content, versionCount, nil
}

// SaveDocument persists flushed live-editing content. It intentionally skips
// version snapshotting: flushes happen every debounce window and would bury
// the explicit-save history.
func (s *Service) SaveDocument(ctx context.Context, documentID, content string, updatedAt time.Time) error {
	docID, err := validateID(documentID)
	if err != nil {
		return err
	}
	result := s.db.WithContext(ctx).Model(&Document{}).
		Where("id = ?", docID).
		Updates(map[string]interface{}{
			"content":    content,
			"updated_at": updatedAt.UTC(),
		})
	if result.Error != nil {
		return fmt.Errorf("documents: save: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
