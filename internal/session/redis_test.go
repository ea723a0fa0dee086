package session

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestRedis requires Redis running on localhost:6379.
func setupTestRedis(t *testing.T) *redis.Client {
	t.Helper()

	client := redis.NewClient(&redis.Options{
		Addr: "localhost:6379",
		DB:   15,
	})

	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("Redis not available: %v", err)
	}
	require.NoError(t, client.FlushDB(ctx).Err(), "failed to flush test database")
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestNewRedisBackendValidation(t *testing.T) {
	_, err := NewRedisBackend(nil, "")
	assert.Error(t, err)

	_, err = NewRedisBackendFromURL("://bad")
	assert.Error(t, err)
}

func TestRedisBackendRoundTrip(t *testing.T) {
	client := setupTestRedis(t)
	backend, err := NewRedisBackend(client, "test:session:")
	require.NoError(t, err)
	ctx := context.Background()

	store := NewStore(backend)
	require.NoError(t, store.SignIn(ctx, Session{UserID: "u1", ProviderToken: "discord"}))

	ttl, err := client.TTL(ctx, "test:session:u1").Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))

	tok, ok := store.ProviderToken(ctx, "u1")
	require.True(t, ok)
	assert.Equal(t, "discord", tok)

	require.NoError(t, store.SignOut(ctx, "u1"))
	_, err = backend.Get(ctx, "u1")
	assert.ErrorIs(t, err, ErrNotFound)
}
