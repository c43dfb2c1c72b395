package users

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/coauthorhq/coauthor/backend/internal/auth"
	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

type staticIDGenerator struct {
	ids   []string
	index int
}

func (g *staticIDGenerator) NewID() (string, error) {
	if g.index >= len(g.ids) {
		return "", errors.New("exhausted ids")
	}
	id := g.ids[g.index]
	g.index++
	return id, nil
}

func newTestService(t *testing.T, ids []string) *Service {
	t.Helper()
	dsn := fmt.Sprintf("file:coauthor_users_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&User{}); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}
	service, err := NewService(ServiceConfig{
		Database:   db,
		IDProvider: &staticIDGenerator{ids: ids},
	})
	if err != nil {
		t.Fatalf("failed to construct service: %v", err)
	}
	return service
}

func TestSignUpCreatesLocalAccount(t *testing.T) {
	service := newTestService(t, []string{"user-1"})

	user, err := service.SignUp(context.Background(), SignUpRequest{
		Email:       "Ada@Example.com",
		Password:    "correct-horse",
		DisplayName: "Ada Lovelace",
	})
	if err != nil {
		t.Fatalf("unexpected signup error: %v", err)
	}
	if user.ID != "user-1" {
		t.Fatalf("unexpected user id %s", user.ID)
	}
	if user.Email != "ada@example.com" {
		t.Fatalf("expected lowercased email, got %s", user.Email)
	}
	if user.PasswordHash == "" || user.PasswordHash == "correct-horse" {
		t.Fatalf("expected hashed password, got %q", user.PasswordHash)
	}
	if roles := user.Roles(); len(roles) != 1 || roles[0] != RoleViewer {
		t.Fatalf("expected default viewer role, got %#v", roles)
	}
}

func TestSignUpRejectsDuplicateEmail(t *testing.T) {
	service := newTestService(t, []string{"user-1", "user-2"})

	if _, err := service.SignUp(context.Background(), SignUpRequest{
		Email:       "dup@example.com",
		Password:    "password-one",
		DisplayName: "First",
	}); err != nil {
		t.Fatalf("unexpected first signup error: %v", err)
	}

	_, err := service.SignUp(context.Background(), SignUpRequest{
		Email:       "DUP@example.com",
		Password:    "password-two",
		DisplayName: "Second",
	})
	if !errors.Is(err, ErrEmailTaken) {
		t.Fatalf("expected ErrEmailTaken, got %v", err)
	}
}

func TestSignUpRejectsShortPassword(t *testing.T) {
	service := newTestService(t, []string{"user-1"})
	_, err := service.SignUp(context.Background(), SignUpRequest{
		Email:       "short@example.com",
		Password:    "short",
		DisplayName: "Short",
	})
	if !errors.Is(err, ErrWeakPassword) {
		t.Fatalf("expected ErrWeakPassword, got %v", err)
	}
}

func TestSignInVerifiesPassword(t *testing.T) {
	service := newTestService(t, []string{"user-1"})
	if _, err := service.SignUp(context.Background(), SignUpRequest{
		Email:       "login@example.com",
		Password:    "hunter2hunter2",
		DisplayName: "Login",
	}); err != nil {
		t.Fatalf("unexpected signup error: %v", err)
	}

	user, err := service.SignIn(context.Background(), "login@example.com", "hunter2hunter2")
	if err != nil {
		t.Fatalf("expected successful sign-in: %v", err)
	}
	if user.ID != "user-1" {
		t.Fatalf("unexpected user id %s", user.ID)
	}

	if _, err := service.SignIn(context.Background(), "login@example.com", "wrong-password"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	if _, err := service.SignIn(context.Background(), "nobody@example.com", "hunter2hunter2"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials for unknown email, got %v", err)
	}
}

func TestResolveGoogleUserProvisionsOnce(t *testing.T) {
	service := newTestService(t, []string{"user-1", "user-2"})

	claims := auth.GoogleClaims{
		Subject:     "google-sub-1",
		Email:       "Oauth@Example.com",
		DisplayName: "OAuth User",
	}

	first, err := service.ResolveGoogleUser(context.Background(), claims)
	if err != nil {
		t.Fatalf("unexpected resolve error: %v", err)
	}
	if first.ID != "user-1" {
		t.Fatalf("unexpected user id %s", first.ID)
	}
	if first.Provider != ProviderGoogle || first.ProviderID != "google-sub-1" {
		t.Fatalf("unexpected provider binding %s/%s", first.Provider, first.ProviderID)
	}

	claims.DisplayName = "Renamed User"
	second, err := service.ResolveGoogleUser(context.Background(), claims)
	if err != nil {
		t.Fatalf("unexpected second resolve error: %v", err)
	}
	if second.ID != first.ID {
		t.Fatalf("expected same account on repeat sign-in, got %s and %s", first.ID, second.ID)
	}
	if second.DisplayName != "Renamed User" {
		t.Fatalf("expected refreshed display name, got %s", second.DisplayName)
	}
}
