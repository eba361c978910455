package storage

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestSessionStore creates a SessionStore backed by a test Redis instance.
func setupTestSessionStore(t *testing.T, ttl time.Duration) (*SessionStore, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})

	return NewSessionStore(NewRedisStoreWithClient(client), ttl), mr
}

func TestSessionStore_CreateAndGet(t *testing.T) {
	store, _ := setupTestSessionStore(t, time.Hour)
	ctx := context.Background()

	session, err := store.Create(ctx, "user-1")
	require.NoError(t, err)
	require.NotEmpty(t, session.Token)
	assert.Len(t, session.Token, 64)
	assert.Equal(t, "user-1", session.UserID)
	assert.True(t, session.ExpiresAt.After(session.CreatedAt))

	got, err := store.Get(ctx, session.Token)
	require.NoError(t, err)
	assert.Equal(t, session.UserID, got.UserID)
	assert.Equal(t, session.Token, got.Token)
}

func TestSessionStore_TokensAreUnique(t *testing.T) {
	store, _ := setupTestSessionStore(t, time.Hour)
	ctx := context.Background()

	first, err := store.Create(ctx, "user-1")
	require.NoError(t, err)
	second, err := store.Create(ctx, "user-1")
	require.NoError(t, err)

	assert.NotEqual(t, first.Token, second.Token)

	// Both tokens resolve independently
	_, err = store.Get(ctx, first.Token)
	assert.NoError(t, err)
	_, err = store.Get(ctx, second.Token)
	assert.NoError(t, err)
}

func TestSessionStore_GetUnknownToken(t *testing.T) {
	store, _ := setupTestSessionStore(t, time.Hour)

	_, err := store.Get(context.Background(), "does-not-exist")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestSessionStore_Expiry(t *testing.T) {
	store, mr := setupTestSessionStore(t, time.Minute)
	ctx := context.Background()

	session, err := store.Create(ctx, "user-1")
	require.NoError(t, err)

	mr.FastForward(2 * time.Minute)

	_, err = store.Get(ctx, session.Token)
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestSessionStore_Delete(t *testing.T) {
	store, _ := setupTestSessionStore(t, time.Hour)
	ctx := context.Background()

	session, err := store.Create(ctx, "user-1")
	require.NoError(t, err)

	require.NoError(t, store.Delete(ctx, session.Token))

	_, err = store.Get(ctx, session.Token)
	assert.ErrorIs(t, err, ErrSessionNotFound)
}
