package auth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/loglane/loglane/internal/cache"
)

func TestNewSessionSecret(t *testing.T) {
	sessionID, secret, err := NewSessionSecret()
	require.NoError(t, err)
	require.NotEmpty(t, sessionID)
	require.NotEmpty(t, secret)

	otherID, otherSecret, err := NewSessionSecret()
	require.NoError(t, err)
	require.NotEqual(t, sessionID, otherID)
	require.NotEqual(t, secret, otherSecret)
}

func TestCacheSecretStoreRoundTrip(t *testing.T) {
	store := NewCacheSecretStore(cache.NewMemoryStore())
	ctx := context.Background()

	_, err := store.Get(ctx, "missing")
	require.ErrorIs(t, err, ErrSecretNotFound)

	require.NoError(t, store.Put(ctx, "sess-1", "secret-value", time.Hour))

	secret, err := store.Get(ctx, "sess-1")
	require.NoError(t, err)
	require.Equal(t, "secret-value", secret)
}

func TestCacheSecretStoreExpiry(t *testing.T) {
	current := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	mem := cache.NewMemoryStore().WithClock(func() time.Time { return current })
	store := NewCacheSecretStore(mem)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "sess-1", "secret-value", time.Hour))

	current = current.Add(2 * time.Hour)

	_, err := store.Get(ctx, "sess-1")
	require.ErrorIs(t, err, ErrSecretNotFound)
}
