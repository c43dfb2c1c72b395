// Package notifications persists the notification feed and handles delivery:
// live push to connected recipients first, email fallback otherwise.
package notifications

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/coauthorhq/coauthor/backend/internal/realtime"
	"github.com/coauthorhq/coauthor/backend/internal/users"
)

var (
	// ErrNotFound indicates the notification does not exist or belongs to a
	// different recipient.
	ErrNotFound = errors.New("notification not found")
	// ErrMissingFields indicates recipient or type was absent.
	ErrMissingFields = errors.New("recipient id and type are required")

	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
)

// IDProvider issues identifiers for notification rows.
type IDProvider interface {
	NewID() (string, error)
}

// LiveChannel is the realtime fanout used for immediate delivery.
type LiveChannel interface {
	Publish(message realtime.UserMessage)
	Connected(userID string) bool
}

// EmailSender delivers the fallback email when the recipient has no live
// connection.
type EmailSender interface {
	Send(ctx context.Context, to, subject, textBody, htmlBody string) error
}

// UserDirectory resolves recipients to their email addresses.
type UserDirectory interface {
	GetByID(ctx context.Context, id string) (users.User, error)
}

// ServiceConfig describes the dependencies for the notifications service.
type ServiceConfig struct {
	Database   *gorm.DB
	IDProvider IDProvider
	Live       LiveChannel
	Email      EmailSender
	Users      UserDirectory
	Clock      func() time.Time
	Logger     *zap.Logger
}

// Service creates, lists and marks notifications. Delivery failures never
// fail creation; the row is the source of truth and delivery flags record
// what actually happened.
type Service struct {
	db         *gorm.DB
	idProvider IDProvider
	live       LiveChannel
	email      EmailSender
	users      UserDirectory
	clock      func() time.Time
	logger     *zap.Logger
}

// NewService constructs the notifications service.
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
		logger = zap.NewNop()
	}
	return &Service{
		db:         cfg.Database,
		idProvider: cfg.IDProvider,
		live:       cfg.Live,
		email:      cfg.Email,
		users:      cfg.Users,
		clock:      clock,
		logger:     logger,
	}, nil
}

// CreateInput describes a notification to create and deliver.
type CreateInput struct {
	WorkspaceID string
	DocumentID  string
	ActorID     string
	RecipientID string
	Type        string
	Title       string
	Body        string
	Meta        map[string]string
}

// Create persists the notification, attempts live delivery and falls back to
// email when the recipient has no connection.
func (s *Service) Create(ctx context.Context, input CreateInput) (Notification, error) {
	if input.RecipientID == "" || input.Type == "" {
		return Notification{}, ErrMissingFields
	}
	id, err := s.idProvider.NewID()
	if err != nil {
		return Notification{}, fmt.Errorf("notifications: id: %w", err)
	}
	metaJSON := ""
	if len(input.Meta) > 0 {
		encoded, err := json.Marshal(input.Meta)
		if err != nil {
			return Notification{}, fmt.Errorf("notifications: encode meta: %w", err)
		}
		metaJSON = string(encoded)
	}

	notification := Notification{
		ID:          id,
		WorkspaceID: input.WorkspaceID,
		DocumentID:  input.DocumentID,
		ActorID:     input.ActorID,
		RecipientID: input.RecipientID,
		Type:        input.Type,
		Title:       input.Title,
		Body:        input.Body,
		MetaJSON:    metaJSON,
	}
	if err := s.db.WithContext(ctx).Create(&notification).Error; err != nil {
		return Notification{}, fmt.Errorf("notifications: create: %w", err)
	}

	if s.deliverLive(notification, input.Meta) {
		notification.DeliveredToClient = true
	} else if s.deliverEmail(ctx, notification) {
		notification.Emailed = true
	}
	if notification.DeliveredToClient || notification.Emailed {
		if err := s.db.WithContext(ctx).Model(&Notification{}).
			Where("id = ?", notification.ID).
			Updates(map[string]any{
				"delivered_to_client": notification.DeliveredToClient,
				"emailed":             notification.Emailed,
			}).Error; err != nil {
			s.logger.Warn("notification delivery flag update failed",
				zap.String("notification_id", notification.ID), zap.Error(err))
		}
	}
	return notification, nil
}

func (s *Service) deliverLive(notification Notification, meta map[string]string) bool {
	if s.live == nil || !s.live.Connected(notification.RecipientID) {
		return false
	}
	s.live.Publish(realtime.UserMessage{
		UserID:      notification.RecipientID,
		Type:        notification.Type,
		Title:       notification.Title,
		Body:        notification.Body,
		DocumentID:  notification.DocumentID,
		WorkspaceID: notification.WorkspaceID,
		Meta:        meta,
		CreatedAt:   s.clock().UTC(),
	})
	return true
}

func (s *Service) deliverEmail(ctx context.Context, notification Notification) bool {
	if s.email == nil || s.users == nil {
		return false
	}
	recipient, err := s.users.GetByID(ctx, notification.RecipientID)
	if err != nil || recipient.Email == "" {
		if err != nil {
			s.logger.Warn("notification recipient lookup failed",
				zap.String("recipient_id", notification.RecipientID), zap.Error(err))
		}
		return false
	}
	subject := notification.Title
	if subject == "" {
		subject = "New notification: " + notification.Type
	}
	html := fmt.Sprintf("<p>%s</p>", notification.Body)
	if err := s.email.Send(ctx, recipient.Email, subject, notification.Body, html); err != nil {
		s.logger.Warn("notification email fallback failed",
			zap.String("recipient_id", notification.RecipientID), zap.Error(err))
		return false
	}
	return true
}

// ListForUser returns the newest notifications for a recipient.
func (s *Service) ListForUser(ctx context.Context, userID string, limit int) ([]Notification, error) {
	if limit <= 0 {
		limit = 50
	}
	var list []Notification
	if err := s.db.WithContext(ctx).
		Where("recipient_id = ?", userID).
		Order("created_at DESC").
		Limit(limit).
		Find(&list).Error; err != nil {
		return nil, fmt.Errorf("notifications: list: %w", err)
	}
	return list, nil
}

// MarkRead flags a notification as read. Recipient scoping prevents marking
// someone else's notification.
func (s *Service) MarkRead(ctx context.Context, notificationID, userID string) (Notification, error) {
	result := s.db.WithContext(ctx).Model(&Notification{}).
		Where("id = ? AND recipient_id = ?", notificationID, userID).
		Update("read", true)
	if result.Error != nil {
		return Notification{}, fmt.Errorf("notifications: mark read: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return Notification{}, ErrNotFound
	}
	var notification Notification
	if err := s.db.WithContext(ctx).Take(&notification, "id = ?", notificationID).Error; err != nil {
		return Notification{}, fmt.Errorf("notifications: reload: %w", err)
	}
	return notification, nil
}
