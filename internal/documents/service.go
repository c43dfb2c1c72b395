package documents

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
	noOpLogger           = zap.NewNop()
)

// IDProvider issues identifiers for documents and versions.
type IDProvider interface {
	NewID() (string, error)
}

// ServiceConfig describes the dependencies for the document service.
type ServiceConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider IDProvider
	Logger     *zap.Logger
}

// Service owns durable document and version state. It also implements the
// realtime core's document store contract (LoadDocument/SaveDocument).
type Service struct {
	db         *gorm.DB
	clock      func() time.Time
	idProvider IDProvider
	logger     *zap.Logger
}

// NewService constructs the document service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, errMissingDatabase
	}
	if cfg.IDProvider == nil {
		return nil, errMissingIDProvider
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Service{
		db:         cfg.Database,
		clock:      clock,
		idProvider: cfg.IDProvider,
		logger:     logger,
	}, nil
}

// CreateRequest carries document creation input.
type CreateRequest struct {
	WorkspaceID string
	Title       string
	Content     string
	AuthorID    string
	ParentID    string
	Tags        []string
}

// Create stores a new document along with its first version snapshot.
func (s *Service) Create(ctx context.Context, req CreateRequest) (Document, Version, error) {
	workspaceID, err := validateID(req.WorkspaceID)
	if err != nil {
		return Document{}, Version{}, err
	}
	title := req.Title
	if title == "" {
		return Document{}, Version{}, ErrMissingTitle
	}

	docID, err := s.idProvider.NewID()
	if err != nil {
		return Document{}, Version{}, fmt.Errorf("documents: generate id: %w", err)
	}
	versionID, err := s.idProvider.NewID()
	if err != nil {
		return Document{}, Version{}, fmt.Errorf("documents: generate id: %w", err)
	}

	now := s.clock().UTC()
	doc := Document{
		ID:          docID,
		WorkspaceID: workspaceID,
		Title:       title,
		Content:     req.Content,
		AuthorID:    req.AuthorID,
		ParentID:    req.ParentID,
		TagsCSV:     joinTags(req.Tags),
		UpdatedAt:   now,
	}
	version := Version{
		ID:         versionID,
		DocumentID: docID,
		Title:      title,
		Content:    req.Content,
		AuthorID:   req.AuthorID,
	}

	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&doc).Error; err != nil {
			return err
		}
		if err := tx.Create(&version).Error; err != nil {
			return err
		}
		doc.LatestVersionID = versionID
		return tx.Model(&Document{}).Where("id = ?", docID).
			Update("latest_version_id", versionID).Error
	})
	if txErr != nil {
		s.logger.Error("document create failed", zap.String("workspace_id", workspaceID), zap.Error(txErr))
		return Document{}, Version{}, fmt.Errorf("documents: create: %w", txErr)
	}
	return doc, version, nil
}

// Get fetches a document by id.
func (s *Service) Get(ctx context.Context, id string) (Document, error) {
	docID, err := validateID(id)
	if err != nil {
		return Document{}, err
	}
	var doc Document
	err = s.db.WithContext(ctx).Where("id = ?", docID).Take(&doc).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Document{}, ErrNotFound
	}
	if err != nil {
		return Document{}, fmt.Errorf("documents: get: %w", err)
	}
	return doc, nil
}

// ListByWorkspace returns the documents in a workspace, newest first.
func (s *Service) ListByWorkspace(ctx context.Context, workspaceID string) ([]Document, error) {
	id, err := validateID(workspaceID)
	if err != nil {
		return nil, err
	}
	var docs []Document
	if err := s.db.WithContext(ctx).
		Where("workspace_id = ?", id).
		Order("updated_at DESC").
		Find(&docs).Error; err != nil {
		return nil, fmt.Errorf("documents: list: %w", err)
	}
	return docs, nil
}

// UpdateRequest carries a REST document update.
type UpdateRequest struct {
	Title    *string
	Content  *string
	Tags     []string
	AuthorID string
}

// Update applies the provided fields and snapshots a new version.
func (s *Service) Update(ctx context.Context, id string, req UpdateRequest) (Document, Version, error) {
	doc, err := s.Get(ctx, id)
	if err != nil {
		return Document{}, Version{}, err
	}

	if req.Title != nil {
		doc.Title = *req.Title
	}
	if req.Content != nil {
		doc.Content = *req.Content
	}
	if req.Tags != nil {
		doc.TagsCSV = joinTags(req.Tags)
	}
	doc.UpdatedAt = s.clock().UTC()

	versionID, err := s.idProvider.NewID()
	if err != nil {
		return Document{}, Version{}, fmt.Errorf("documents: generate id: %w", err)
	}
	version := Version{
		ID:         versionID,
		DocumentID: doc.ID,
		Title:      doc.Title,
		Content:    doc.Content,
		AuthorID:   req.AuthorID,
	}

	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&version).Error; err != nil {
			return err
		}
		doc.LatestVersionID = versionID
		return tx.Save(&doc).Error
	})
	if txErr != nil {
		return Document{}, Version{}, fmt.Errorf("documents: update: %w", txErr)
	}
	return doc, version, nil
}

// ListVersions returns a document's version history, newest first.
func (s *Service) ListVersions(ctx context.Context, documentID string) ([]Version, error) {
	docID, err := validateID(documentID)
	if err != nil {
		return nil, err
	}
	var versions []Version
	if err := s.db.WithContext(ctx).
		Where("document_id = ?", docID).
		Order("created_at DESC").
		Find(&versions).Error; err != nil {
		return nil, fmt.Errorf("documents: list versions: %w", err)
	}
	return versions, nil
}

// RestoreVersion copies an old version's title/content back onto the document
// and snapshots the restore as a fresh version.
func (s *Service) RestoreVersion(ctx context.Context, documentID, versionID, authorID string) (Document, Version, error) {
	doc, err := s.Get(ctx, documentID)
	if err != nil {
		return Document{}, Version{}, err
	}

	var old Version
	err = s.db.WithContext(ctx).
		Where("id = ? AND document_id = ?", versionID, doc.ID).
		Take(&old).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Document{}, Version{}, ErrVersionNotFound
	}
	if err != nil {
		return Document{}, Version{}, fmt.Errorf("documents: get version: %w", err)
	}

	title := old.Title
	content := old.Content
	return s.Update(ctx, doc.ID, UpdateRequest{
		Title:    &title,
		Content:  &content,
		AuthorID: authorID,
	})
}

// Delete removes a document and its version history.
func (s *Service) Delete(ctx context.Context, id string) error {
	docID, err := validateID(id)
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Where("id = ?", docID).Delete(&Document{})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return ErrNotFound
		}
		return tx.Where("document_id = ?", docID).Delete(&Version{}).Error
	})
}
