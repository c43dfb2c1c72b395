package users

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/coauthorhq/coauthor/backend/internal/auth"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

const minPasswordLength = 8

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
	// ErrInvalidCredentials covers unknown emails and wrong passwords alike so
	// responses do not reveal which one failed.
	ErrInvalidCredentials = errors.New("users: invalid email or password")
	// ErrEmailTaken indicates signup with an already registered email.
	ErrEmailTaken = errors.New("users: email already registered")
	// ErrWeakPassword indicates the password did not meet the minimum length.
	ErrWeakPassword = errors.New("users: password too short")
	// ErrMissingFields indicates a required signup field was empty.
	ErrMissingFields = errors.New("users: email, password and display name are required")
	// ErrNotFound indicates the requested user does not exist.
	ErrNotFound = errors.New("users: not found")

	noOpLogger = zap.NewNop()
)

// IDProvider issues identifiers for new users.
type IDProvider interface {
	NewID() (string, error)
}

// ServiceConfig describes the dependencies for the user service.
type ServiceConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider IDProvider
	Logger     *zap.Logger
}

// Service manages account signup, local sign-in and OAuth provisioning.
type Service struct {
	db         *gorm.DB
	clock      func() time.Time
	idProvider IDProvider
	logger     *zap.Logger
}

// NewService constructs the user service.
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

// SignUpRequest carries local account creation input.
type SignUpRequest struct {
	Email       string
	Password    string
	DisplayName string
}

// SignUp creates a local account with a bcrypt password hash.
func (s *Service) SignUp(ctx context.Context, req SignUpRequest) (User, error) {
	email := normalizeEmail(req.Email)
	displayName := normalize(req.DisplayName)
	if email == "" || req.Password == "" || displayName == "" {
		return User{}, ErrMissingFields
	}
	if len(req.Password) < minPasswordLength {
		return User{}, ErrWeakPassword
	}

	var existing User
	err := s.db.WithContext(ctx).Where("email = ?", email).Take(&existing).Error
	if err == nil {
		return User{}, ErrEmailTaken
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return User{}, fmt.Errorf("users: lookup email: %w", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return User{}, fmt.Errorf("users: hash password: %w", err)
	}

	id, err := s.idProvider.NewID()
	if err != nil {
		return User{}, fmt.Errorf("users: generate id: %w", err)
	}

	user := User{
		ID:           id,
		Email:        email,
		DisplayName:  displayName,
		PasswordHash: string(hash),
		RolesCSV:     joinRoles([]string{RoleViewer}),
		Provider:     ProviderLocal,
	}
	if err := s.db.WithContext(ctx).Create(&user).Error; err != nil {
		s.logger.Error("user create failed", zap.String("email", email), zap.Error(err))
		return User{}, fmt.Errorf("users: create: %w", err)
	}
	return user, nil
}

// SignIn authenticates a local account.
func (s *Service) SignIn(ctx context.Context, email, password string) (User, error) {
	normalized := normalizeEmail(email)
	if normalized == "" || password == "" {
		return User{}, ErrInvalidCredentials
	}

	var user User
	err := s.db.WithContext(ctx).Where("email = ?", normalized).Take(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return User{}, ErrInvalidCredentials
	}
	if err != nil {
		return User{}, fmt.Errorf("users: lookup email: %w", err)
	}
	if user.PasswordHash == "" {
		return User{}, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return User{}, ErrInvalidCredentials
	}
	return user, nil
}

// ResolveGoogleUser returns the account for validated Google claims, creating
// it on first sign-in and refreshing profile fields on subsequent ones.
func (s *Service) ResolveGoogleUser(ctx context.Context, claims auth.GoogleClaims) (User, error) {
	if normalize(claims.Subject) == "" {
		return User{}, fmt.Errorf("users: google claims missing subject")
	}

	var user User
	err := s.db.WithContext(ctx).
		Where("provider = ? AND provider_id = ?", ProviderGoogle, claims.Subject).
		Take(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		id, idErr := s.idProvider.NewID()
		if idErr != nil {
			return User{}, fmt.Errorf("users: generate id: %w", idErr)
		}
		user = User{
			ID:          id,
			Email:       normalizeEmail(claims.Email),
			DisplayName: normalize(claims.DisplayName),
			RolesCSV:    joinRoles([]string{RoleViewer}),
			Provider:    ProviderGoogle,
			ProviderID:  claims.Subject,
			AvatarURL:   normalize(claims.AvatarURL),
		}
		if createErr := s.db.WithContext(ctx).Create(&user).Error; createErr != nil {
			return User{}, fmt.Errorf("users: create google user: %w", createErr)
		}
		return user, nil
	}
	if err != nil {
		return User{}, fmt.Errorf("users: lookup google user: %w", err)
	}

	updates := map[string]interface{}{}
	if email := normalizeEmail(claims.Email); email != "" && email != user.Email {
		updates["email"] = email
		user.Email = email
	}
	if display := normalize(claims.DisplayName); display != "" && display != user.DisplayName {
		updates["display_name"] = display
		user.DisplayName = display
	}
	if avatar := normalize(claims.AvatarURL); avatar != "" && avatar != user.AvatarURL {
		updates["avatar_url"] = avatar
		user.AvatarURL = avatar
	}
	if len(updates) > 0 {
		if updateErr := s.db.WithContext(ctx).Model(&User{}).
			Where("id = ?", user.ID).
			Updates(updates).Error; updateErr != nil {
			s.logger.Warn("google profile refresh failed", zap.String("user_id", user.ID), zap.Error(updateErr))
		}
	}
	return user, nil
}

// GetByID fetches a user by identifier.
func (s *Service) GetByID(ctx context.Context, id string) (User, error) {
	var user User
	err := s.db.WithContext(ctx).Where("id = ?", id).Take(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("users: lookup id: %w", err)
	}
	return user, nil
}
