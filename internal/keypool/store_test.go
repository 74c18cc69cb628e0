package keypool

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/splax/pagesmith/internal/domain"
)

func setupTestRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	require.NoError(t, client.Ping(context.Background()).Err())
	return client, mr
}

func TestRedisStoreMissingKey(t *testing.T) {
	client, _ := setupTestRedis(t)
	store := NewRedisStore(client, "")

	state, err := store.LoadPoolState(context.Background())
	require.NoError(t, err)
	assert.Nil(t, state)
}

func TestRedisStoreRoundTripsPoolState(t *testing.T) {
	client, mr := setupTestRedis(t)
	store := NewRedisStore(client, "test:keypool")
	ctx := context.Background()

	until := time.Date(2025, 5, 10, 9, 5, 0, 0, time.UTC)
	err := store.SavePoolState(ctx, domain.KeyPoolState{
		Cursor: 1,
		Day:    "2025-05-10",
		Credentials: []domain.CredentialUsage{
			{ID: 1, RequestsToday: 3},
			{ID: 2, RequestsToday: 1, CooldownUntil: &until},
		},
	})
	require.NoError(t, err)
	assert.True(t, mr.Exists("test:keypool"))

	state, err := store.LoadPoolState(ctx)
	require.NoError(t, err)
	require.NotNil(t, state)
	assert.Equal(t, 1, state.Cursor)
	assert.Equal(t, "2025-05-10", state.Day)
	require.Len(t, state.Credentials, 2)
	require.NotNil(t, state.Credentials[1].CooldownUntil)
	assert.True(t, state.Credentials[1].CooldownUntil.Equal(until))
}

func TestPoolSharesCooldownThroughRedis(t *testing.T) {
	client, _ := setupTestRedis(t)
	ctx := context.Background()
	secrets := []string{"gsk_first_credential_01", "gsk_second_credential_2"}

	first, _ := newTestPool(t, secrets, NewRedisStore(client, ""))
	require.NoError(t, first.Quarantine(ctx, 1, 10*time.Minute))

	second, _ := newTestPool(t, secrets, NewRedisStore(client, ""))
	require.NoError(t, second.Load(ctx))
	cred, err := second.Acquire(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, cred.ID)
}
