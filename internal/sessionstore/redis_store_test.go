package sessionstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/coauthorhq/coauthor/backend/internal/auth"
)

func newTestStore(t *testing.T, ttl time.Duration) (*Store, *miniredis.Miniredis) {
	t.Helper()
	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	store, err := NewStore(StoreConfig{Client: client, TTL: ttl})
	if err != nil {
		t.Fatalf("failed to construct store: %v", err)
	}
	return store, server
}

func TestIssueAndLookupRoundTrip(t *testing.T) {
	store, _ := newTestStore(t, time.Hour)
	ctx := context.Background()

	identity := auth.Identity{UserID: "user-1", DisplayName: "Ada", Roles: []string{"Editor"}}
	token, err := store.Issue(ctx, identity)
	if err != nil {
		t.Fatalf("unexpected issue error: %v", err)
	}
	if token == "" {
		t.Fatalf("expected non-empty token")
	}

	resolved, err := store.Lookup(ctx, token)
	if err != nil {
		t.Fatalf("unexpected lookup error: %v", err)
	}
	if resolved.UserID != "user-1" || resolved.DisplayName != "Ada" {
		t.Fatalf("unexpected identity %#v", resolved)
	}
	if len(resolved.Roles) != 1 || resolved.Roles[0] != "Editor" {
		t.Fatalf("expected roles preserved, got %v", resolved.Roles)
	}
}

func TestLookupExpiredSession(t *testing.T) {
	store, server := newTestStore(t, 10*time.Millisecond)
	ctx := context.Background()

	token, err := store.Issue(ctx, auth.Identity{UserID: "user-1"})
	if err != nil {
		t.Fatalf("unexpected issue error: %v", err)
	}

	server.FastForward(20 * time.Millisecond)

	if _, err := store.Lookup(ctx, token); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestRotateRevokesOldToken(t *testing.T) {
	store, _ := newTestStore(t, time.Hour)
	ctx := context.Background()

	token, err := store.Issue(ctx, auth.Identity{UserID: "user-1", DisplayName: "Ada"})
	if err != nil {
		t.Fatalf("unexpected issue error: %v", err)
	}

	identity, next, err := store.Rotate(ctx, token)
	if err != nil {
		t.Fatalf("unexpected rotate error: %v", err)
	}
	if identity.UserID != "user-1" {
		t.Fatalf("unexpected identity %#v", identity)
	}
	if next == token {
		t.Fatalf("rotation must mint a new token")
	}

	if _, err := store.Lookup(ctx, token); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected old token revoked, got %v", err)
	}
	if _, err := store.Lookup(ctx, next); err != nil {
		t.Fatalf("expected new token valid, got %v", err)
	}
	if _, _, err := store.Rotate(ctx, token); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("replayed token must not rotate, got %v", err)
	}
}

func TestRevokeUnknownTokenIsNoOp(t *testing.T) {
	store, _ := newTestStore(t, time.Hour)
	if err := store.Revoke(context.Background(), "never-issued"); err != nil {
		t.Fatalf("unexpected revoke error: %v", err)
	}
}
