package memory_test

import (
	"context"
	"testing"
	"time"

	"github.com/aretw0/sasya/pkg/adapters/memory"
	"github.com/aretw0/sasya/pkg/domain"
	"github.com/aretw0/sasya/pkg/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_Contract(t *testing.T) {
	store := memory.NewStore()
	ports.RunSessionStoreContract(t, store)
}

func TestMemoryStore_TTL(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	clock := now
	store := memory.NewStore(memory.WithTTL(time.Hour), memory.WithClock(func() time.Time { return clock }))

	require.NoError(t, store.Save(ctx, "s1", domain.NewSession("s1", now)))
	_, err := store.Load(ctx, "s1")
	require.NoError(t, err)

	clock = now.Add(2 * time.Hour)
	_, err = store.Load(ctx, "s1")
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)

	ids, err := store.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestMemoryStore_Purge(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	require.NoError(t, store.Save(ctx, "a", domain.NewSession("a", time.Now())))
	require.NoError(t, store.Save(ctx, "b", domain.NewSession("b", time.Now())))

	require.NoError(t, store.Purge(ctx))
	ids, err := store.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestArtifacts(t *testing.T) {
	ctx := context.Background()
	a := memory.NewArtifacts()

	data := []byte{1, 2, 3}
	ref, err := a.Put(ctx, "attention/abc", data)
	require.NoError(t, err)
	data[0] = 9

	got, err := a.Get(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, got)

	_, err = a.Get(ctx, "mem://missing")
	assert.ErrorIs(t, err, memory.ErrArtifactNotFound)
	_, err = a.Get(ctx, "https://elsewhere/abc")
	assert.ErrorIs(t, err, memory.ErrArtifactNotFound)
}
