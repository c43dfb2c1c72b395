package workspaces

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

// IDProvider issues identifiers for new workspaces.
type IDProvider interface {
	NewID() (string, error)
}

// ServiceConfig describes the dependencies for the workspace service.
type ServiceConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider IDProvider
	Logger     *zap.Logger
}

// Service manages workspaces and role-based memberships.
type Service struct {
	db         *gorm.DB
	clock      func() time.Time
	idProvider IDProvider
	logger     *zap.Logger
}

// NewService constructs the workspace service.
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
	return &Service{db: cfg.Database, clock: clock, idProvider: cfg.IDProvider, logger: logger}, nil
}

// Create stores a workspace and enrolls the owner as Admin.
func (s *Service) Create(ctx context.Context, name, description, ownerID string) (Workspace, error) {
	trimmed := normalize(name)
	if trimmed == "" {
		return Workspace{}, ErrMissingName
	}

	id, err := s.idProvider.NewID()
	if err != nil {
		return Workspace{}, fmt.Errorf("workspaces: generate id: %w", err)
	}

	workspace := Workspace{
		ID:          id,
		Name:        trimmed,
		Description: normalize(description),
		OwnerID:     ownerID,
	}
	membership := Membership{
		WorkspaceID: id,
		UserID:      ownerID,
		Role:        RoleAdmin,
	}

	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&workspace).Error; err != nil {
			return err
		}
		return tx.Create(&membership).Error
	})
	if txErr != nil {
		s.logger.Error("workspace create failed", zap.String("owner_id", ownerID), zap.Error(txErr))
		return Workspace{}, fmt.Errorf("workspaces: create: %w", txErr)
	}
	return workspace, nil
}

// Get fetches a workspace by id.
func (s *Service) Get(ctx context.Context, id string) (Workspace, error) {
	var workspace Workspace
	err := s.db.WithContext(ctx).Where("id = ?", id).Take(&workspace).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Workspace{}, ErrNotFound
	}
	if err != nil {
		return Workspace{}, fmt.Errorf("workspaces: get: %w", err)
	}
	return workspace, nil
}

// ListForUser returns every workspace the user belongs to.
func (s *Service) ListForUser(ctx context.Context, userID string) ([]Workspace, error) {
	var workspaces []Workspace
	err := s.db.WithContext(ctx).
		Joins("JOIN workspace_memberships ON workspace_memberships.workspace_id = workspaces.id").
		Where("workspace_memberships.user_id = ?", userID).
		Order("workspaces.created_at DESC").
		Find(&workspaces).Error
	if err != nil {
		return nil, fmt.Errorf("workspaces: list: %w", err)
	}
	return workspaces, nil
}

// MemberRole returns the caller's role in the workspace, or ErrNotMember.
func (s *Service) MemberRole(ctx context.Context, workspaceID, userID string) (string, error) {
	var membership Membership
	err := s.db.WithContext(ctx).
		Where("workspace_id = ? AND user_id = ?", workspaceID, userID).
		Take(&membership).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", ErrNotMember
	}
	if err != nil {
		return "", fmt.Errorf("workspaces: member role: %w", err)
	}
	return membership.Role, nil
}

// AddMember upserts a membership with the given role.
func (s *Service) AddMember(ctx context.Context, workspaceID, userID, role string) (Membership, error) {
	if !validRole(role) {
		return Membership{}, ErrInvalidRole
	}
	workspace, err := s.Get(ctx, workspaceID)
	if err != nil {
		return Membership{}, err
	}
	if workspace.OwnerID == userID && role != RoleAdmin {
		return Membership{}, ErrOwnerImmutable
	}

	membership := Membership{WorkspaceID: workspaceID, UserID: userID, Role: role}
	err = s.db.WithContext(ctx).
		Where("workspace_id = ? AND user_id = ?", workspaceID, userID).
		Assign(Membership{Role: role}).
		FirstOrCreate(&membership).Error
	if err != nil {
		return Membership{}, fmt.Errorf("workspaces: add member: %w", err)
	}
	membership.Role = role
	return membership, nil
}

// RemoveMember drops a membership. Removing the owner is rejected.
func (s *Service) RemoveMember(ctx context.Context, workspaceID, userID string) error {
	workspace, err := s.Get(ctx, workspaceID)
	if err != nil {
		return err
	}
	if workspace.OwnerID == userID {
		return ErrOwnerImmutable
	}
	result := s.db.WithContext(ctx).
		Where("workspace_id = ? AND user_id = ?", workspaceID, userID).
		Delete(&Membership{})
	if result.Error != nil {
		return fmt.Errorf("workspaces: remove member: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotMember
	}
	return nil
}

// ListMembers returns the memberships of a workspace.
func (s *Service) ListMembers(ctx context.Context, workspaceID string) ([]Membership, error) {
	var memberships []Membership
	if err := s.db.WithContext(ctx).
		Where("workspace_id = ?", workspaceID).
		Order("created_at ASC").
		Find(&memberships).Error; err != nil {
		return nil, fmt.Errorf("workspaces: list members: %w", err)
	}
	return memberships, nil
}

// Delete removes a workspace and its memberships.
func (s *Service) Delete(ctx context.Context, workspaceID string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Where("id = ?", workspaceID).Delete(&Workspace{})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return ErrNotFound
		}
		return tx.Where("workspace_id = ?", workspaceID).Delete(&Membership{}).Error
	})
}
