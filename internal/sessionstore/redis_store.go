// Package sessionstore keeps refresh sessions in Redis so access tokens can
// stay short-lived. Tokens are opaque random strings; only their SHA-256
// hashes reach Redis, and expiry is enforced with key TTLs.
package sessionstore

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/coauthorhq/coauthor/backend/internal/auth"
)

const (
	keyPrefix      = "refresh:"
	tokenByteCount = 32
	defaultTTL     = 30 * 24 * time.Hour
)

var (
	// ErrSessionNotFound indicates the refresh token is unknown, expired or
	// revoked.
	ErrSessionNotFound = errors.New("refresh session not found")
	errMissingClient   = errors.New("redis client is required")
)

type sessionRecord struct {
	UserID      string    `json:"user_id"`
	DisplayName string    `json:"display_name"`
	Roles       []string  `json:"roles,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// StoreConfig describes the dependencies for the session store.
type StoreConfig struct {
	Client *redis.Client
	// TTL bounds refresh session lifetime; zero means the 30-day default.
	TTL   time.Duration
	Clock func() time.Time
}

// Store is the Redis-backed refresh session store.
type Store struct {
	client *redis.Client
	ttl    time.Duration
	clock  func() time.Time
}

// NewStore constructs the store around an existing Redis client.
func NewStore(cfg StoreConfig) (*Store, error) {
	if cfg.Client == nil {
		return nil, errMissingClient
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = defaultTTL
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Store{client: cfg.Client, ttl: ttl, clock: clock}, nil
}

// Dial parses a redis:// URL, connects and verifies the connection.
func Dial(ctx context.Context, redisURL string, ttl time.Duration) (*Store, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("sessionstore: parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("sessionstore: connect: %w", err)
	}
	return NewStore(StoreConfig{Client: client, TTL: ttl})
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func (s *Store) key(token string) string {
	return keyPrefix + hashToken(token)
}

// Issue mints a fresh refresh token for an identity and stores its session.
func (s *Store) Issue(ctx context.Context, identity auth.Identity) (string, error) {
	raw := make([]byte, tokenByteCount)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("sessionstore: entropy: %w", err)
	}
	token := hex.EncodeToString(raw)

	record := sessionRecord{
		UserID:      identity.UserID,
		DisplayName: identity.DisplayName,
		Roles:       identity.Roles,
		CreatedAt:   s.clock().UTC(),
	}
	encoded, err := json.Marshal(record)
	if err != nil {
		return "", fmt.Errorf("sessionstore: encode session: %w", err)
	}
	if err := s.client.Set(ctx, s.key(token), encoded, s.ttl).Err(); err != nil {
		return "", fmt.Errorf("sessionstore: save session: %w", err)
	}
	return token, nil
}

// Lookup resolves a refresh token to the identity it was issued for.
func (s *Store) Lookup(ctx context.Context, token string) (auth.Identity, error) {
	encoded, err := s.client.Get(ctx, s.key(token)).Result()
	if errors.Is(err, redis.Nil) {
		return auth.Identity{}, ErrSessionNotFound
	}
	if err != nil {
		return auth.Identity{}, fmt.Errorf("sessionstore: lookup session: %w", err)
	}
	var record sessionRecord
	if err := json.Unmarshal([]byte(encoded), &record); err != nil {
		return auth.Identity{}, fmt.Errorf("sessionstore: decode session: %w", err)
	}
	return auth.Identity{
		UserID:      record.UserID,
		DisplayName: record.DisplayName,
		Roles:       record.Roles,
	}, nil
}

// Rotate atomically revokes the presented token and issues a replacement.
// The lookup happens first so a stolen, already-revoked token cannot mint
// anything.
func (s *Store) Rotate(ctx context.Context, token string) (auth.Identity, string, error) {
	identity, err := s.Lookup(ctx, token)
	if err != nil {
		return auth.Identity{}, "", err
	}
	if err := s.Revoke(ctx, token); err != nil {
		return auth.Identity{}, "", err
	}
	next, err := s.Issue(ctx, identity)
	if err != nil {
		return auth.Identity{}, "", err
	}
	return identity, next, nil
}

// Revoke deletes a refresh session. Revoking an unknown token is not an
// error.
func (s *Store) Revoke(ctx context.Context, token string) error {
	if err := s.client.Del(ctx, s.key(token)).Err(); err != nil {
		return fmt.Errorf("sessionstore: revoke session: %w", err)
	}
	return nil
}

// Ping reports whether Redis is reachable, for health checks.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close releases the underlying Redis client.
func (s *Store) Close() error {
	return s.client.Close()
}
