// Package comments stores per-document discussion threads and notifies the
// document author when someone else comments.
package comments

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/coauthorhq/coauthor/backend/internal/documents"
	"github.com/coauthorhq/coauthor/backend/internal/notifications"
)

var (
	// ErrEmptyText indicates a comment with no text.
	ErrEmptyText = errors.New("comment text is required")
	// ErrNotFound indicates the comment does not exist.
	ErrNotFound = errors.New("comment not found")
	// ErrNotAuthor indicates the caller does not own the comment.
	ErrNotAuthor = errors.New("comment belongs to another user")

	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
	errMissingDocuments  = errors.New("document directory is required")
)

// Comment is one entry in a document's discussion thread.
type Comment struct {
	ID          string    `gorm:"column:id;primaryKey;size:190;not null"`
	WorkspaceID string    `gorm:"column:workspace_id;size:190;not null;index"`
	DocumentID  string    `gorm:"column:document_id;size:190;not null;index:idx_comments_doc_created,priority:1"`
	AuthorID    string    `gorm:"column:author_id;size:190;not null"`
	AuthorName  string    `gorm:"column:author_name;size:320;not null;default:''"`
	Text        string    `gorm:"column:text;type:text;not null"`
	CreatedAt   time.Time `gorm:"column:created_at;autoCreateTime;index:idx_comments_doc_created,priority:2"`
	UpdatedAt   time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName provides the explicit table binding for GORM.
func (Comment) TableName() string {
	return "comments"
}

// IDProvider issues identifiers for comment rows.
type IDProvider interface {
	NewID() (string, error)
}

// DocumentDirectory resolves a comment's document to its workspace and
// author.
type DocumentDirectory interface {
	Get(ctx context.Context, id string) (documents.Document, error)
}

// Notifier receives the author notification for new comments. Optional.
type Notifier interface {
	Create(ctx context.Context, input notifications.CreateInput) (notifications.Notification, error)
}

// UsageRecorder receives the comment counter bump. Optional.
type UsageRecorder interface {
	RecordComment(ctx context.Context, workspaceID, userID, documentID string) error
}

// ServiceConfig describes the dependencies for the comments service.
type ServiceConfig struct {
	Database   *gorm.DB
	IDProvider IDProvider
	Documents  DocumentDirectory
	Notifier   Notifier
	Usage      UsageRecorder
	Logger     *zap.Logger
}

// Service creates and lists document comments.
type Service struct {
	db         *gorm.DB
	idProvider IDProvider
	documents  DocumentDirectory
	notifier   Notifier
	usage      UsageRecorder
	logger     *zap.Logger
}

// NewService constructs the comments service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, errMissingDatabase
	}
	if cfg.IDProvider == nil {
		return nil, errMissingIDProvider
	}
	if cfg.Documents == nil {
		return nil, errMissingDocuments
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		db:         cfg.Database,
		idProvider: cfg.IDProvider,
		documents:  cfg.Documents,
		notifier:   cfg.Notifier,
		usage:      cfg.Usage,
		logger:     logger,
	}, nil
}

// Create appends a comment to a document's thread. The document's author gets
// a notification unless they wrote the comment themselves; notification and
// counter failures are logged, never surfaced.
func (s *Service) Create(ctx context.Context, documentID, authorID, authorName, text string) (Comment, error) {
	if strings.TrimSpace(text) == "" {
		return Comment{}, ErrEmptyText
	}
	document, err := s.documents.Get(ctx, documentID)
	if err != nil {
		return Comment{}, fmt.Errorf("comments: resolve document: %w", err)
	}
	id, err := s.idProvider.NewID()
	if err != nil {
		return Comment{}, fmt.Errorf("comments: id: %w", err)
	}

	comment := Comment{
		ID:          id,
		WorkspaceID: document.WorkspaceID,
		DocumentID:  document.ID,
		AuthorID:    authorID,
		AuthorName:  authorName,
		Text:        text,
	}
	if err := s.db.WithContext(ctx).Create(&comment).Error; err != nil {
		return Comment{}, fmt.Errorf("comments: create: %w", err)
	}

	if s.notifier != nil && document.AuthorID != "" && document.AuthorID != authorID {
		actor := authorName
		if actor == "" {
			actor = "Someone"
		}
		if _, err := s.notifier.Create(ctx, notifications.CreateInput{
			WorkspaceID: document.WorkspaceID,
			DocumentID:  document.ID,
			ActorID:     authorID,
			RecipientID: document.AuthorID,
			Type:        notifications.TypeComment,
			Title:       "New comment on your document",
			Body:        actor + ": " + text,
			Meta:        map[string]string{"comment_id": comment.ID},
		}); err != nil {
			s.logger.Warn("comment notification failed",
				zap.String("comment_id", comment.ID), zap.Error(err))
		}
	}
	if s.usage != nil {
		if err := s.usage.RecordComment(ctx, document.WorkspaceID, authorID, document.ID); err != nil {
			s.logger.Warn("comment counter failed",
				zap.String("comment_id", comment.ID), zap.Error(err))
		}
	}
	return comment, nil
}

// ListByDocument returns a document's comments oldest first.
func (s *Service) ListByDocument(ctx context.Context, documentID string) ([]Comment, error) {
	var list []Comment
	if err := s.db.WithContext(ctx).
		Where("document_id = ?", documentID).
		Order("created_at ASC").
		Find(&list).Error; err != nil {
		return nil, fmt.Errorf("comments: list: %w", err)
	}
	return list, nil
}

// Delete removes a comment. Only its author may delete it.
func (s *Service) Delete(ctx context.Context, commentID, userID string) error {
	var comment Comment
	err := s.db.WithContext(ctx).Take(&comment, "id = ?", commentID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("comments: load: %w", err)
	}
	if comment.AuthorID != userID {
		return ErrNotAuthor
	}
	if err := s.db.WithContext(ctx).Delete(&Comment{}, "id = ?", commentID).Error; err != nil {
		return fmt.Errorf("comments: delete: %w", err)
	}
	return nil
}
