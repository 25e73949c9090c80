package auth

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/loglane/loglane/internal/cache"
	"github.com/loglane/loglane/pkg/crypto"
)

const (
	sessionSecretKeyPrefix = "verification:secrets:"
	sessionSecretBytes     = 32

	// DefaultSessionSecretTTL bounds how long a verification session stays
	// resolvable. It expires independently of the grant on the record.
	DefaultSessionSecretTTL = 24 * time.Hour
)

// ErrSecretNotFound indicates no secret exists for the session identifier.
var ErrSecretNotFound = errors.New("session secret: not found")

// SecretStore maps a session identifier to its per-session random secret.
// Secrets are written once when the session begins and only read afterwards.
type SecretStore interface {
	Get(ctx context.Context, sessionID string) (string, error)
	Put(ctx context.Context, sessionID, secret string, ttl time.Duration) error
}

// NewSessionSecret mints a fresh session identifier and its random secret.
func NewSessionSecret() (sessionID, secret string, err error) {
	secret, err = crypto.GenerateSecret(sessionSecretBytes)
	if err != nil {
		return "", "", err
	}
	return uuid.NewString(), secret, nil
}

type cacheSecretStore struct {
	store cache.Store
}

// NewCacheSecretStore backs a SecretStore with the shared cache store
// (Redis in production, in-memory elsewhere).
func NewCacheSecretStore(store cache.Store) SecretStore {
	if store == nil {
		return nil
	}
	return &cacheSecretStore{store: store}
}

func (s *cacheSecretStore) Get(ctx context.Context, sessionID string) (string, error) {
	if sessionID == "" {
		return "", ErrSecretNotFound
	}

	value, found, err := s.store.Get(ctx, sessionSecretKeyPrefix+sessionID)
	if err != nil {
		return "", err
	}
	if !found {
		return "", ErrSecretNotFound
	}
	return string(value), nil
}

func (s *cacheSecretStore) Put(ctx context.Context, sessionID, secret string, ttl time.Duration) error {
	if sessionID == "" {
		return errors.New("session secret: session id is required")
	}
	if secret == "" {
		return errors.New("session secret: secret is required")
	}
	if ttl <= 0 {
		ttl = DefaultSessionSecretTTL
	}
	return s.store.Set(ctx, sessionSecretKeyPrefix+sessionID, []byte(secret), ttl)
}
