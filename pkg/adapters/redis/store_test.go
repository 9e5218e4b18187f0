package redis_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/aretw0/sasya/pkg/adapters/redis"
	"github.com/aretw0/sasya/pkg/domain"
	"github.com/aretw0/sasya/pkg/persistence/codec"
	"github.com/aretw0/sasya/pkg/ports"
	backend "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newClient(t *testing.T) (*miniredis.Miniredis, *backend.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := backend.NewClient(&backend.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestRedisStore_Contract(t *testing.T) {
	_, client := newClient(t)
	store := redis.NewFromClient(client)
	ports.RunSessionStoreContract(t, store)
}

func TestRedisStore_SealedContract(t *testing.T) {
	_, client := newClient(t)
	sealed, err := codec.NewSealed(nil, codec.KeyConfig{ActiveKey: make([]byte, 32)})
	require.NoError(t, err)

	store := redis.NewFromClient(client, redis.WithCodec(sealed))
	ports.RunSessionStoreContract(t, store)
}

func TestRedisStore_TTL_Expiration(t *testing.T) {
	mr, client := newClient(t)
	store := redis.NewFromClient(client, redis.WithTTL(time.Second))
	ctx := context.Background()
	sessionID := "session-ttl"

	err := store.Save(ctx, sessionID, domain.NewSession(sessionID, time.Now()))
	require.NoError(t, err)

	sessions, err := store.List(ctx)
	require.NoError(t, err)
	assert.Contains(t, sessions, sessionID)

	mr.FastForward(2 * time.Second)

	_, err = store.Load(ctx, sessionID)
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)

	sessions, err = store.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, sessions)

	members, err := client.ZRange(ctx, "sasya:session:index", 0, -1).Result()
	require.NoError(t, err)
	assert.Empty(t, members, "List should prune expired index entries")
}

func TestRedisStore_LoadRefreshesTTL(t *testing.T) {
	mr, client := newClient(t)
	store := redis.NewFromClient(client, redis.WithTTL(10*time.Second))
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, "s1", domain.NewSession("s1", time.Now())))
	mr.FastForward(8 * time.Second)
	_, err := store.Load(ctx, "s1")
	require.NoError(t, err)

	mr.FastForward(8 * time.Second)
	_, err = store.Load(ctx, "s1")
	assert.NoError(t, err, "read should have pushed expiry forward")
}

func TestRedisStore_Prefix(t *testing.T) {
	mr, client := newClient(t)
	store := redis.NewFromClient(client, redis.WithPrefix("custom:app:"))
	ctx := context.Background()
	sessionID := "my-session"

	err := store.Save(ctx, sessionID, domain.NewSession(sessionID, time.Now()))
	require.NoError(t, err)

	assert.True(t, mr.Exists("custom:app:my-session"), "Expected key with custom prefix to exist")
	assert.True(t, mr.Exists("custom:app:index"), "Expected index with custom prefix to exist")

	list, err := store.List(ctx)
	require.NoError(t, err)
	assert.Contains(t, list, sessionID)
}
