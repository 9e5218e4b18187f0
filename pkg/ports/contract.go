package ports

import (
	"context"
	"testing"
	"time"

	"github.com/aretw0/sasya/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RunSessionStoreContract runs a suite of tests to verify that a SessionStore implementation
// adheres to the defined interface contract.
func RunSessionStoreContract(t *testing.T, store SessionStore) {
	ctx := context.Background()
	sessionID := "contract-test-session-" + time.Now().Format("20060102150405")
	now := time.Now().UTC().Truncate(time.Second)

	t.Run("Save and Load", func(t *testing.T) {
		s := domain.NewSession(sessionID, now)
		s.State = domain.StateClarification
		s.Profile.Crop = "tomato"
		s.Append(domain.RoleUser, "My tomato plant has yellow spots", now)
		s.Image = &domain.Image{Digest: "abc", ContentType: "image/png", Data: []byte{1, 2, 3}}

		err := store.Save(ctx, sessionID, s)
		require.NoError(t, err, "Save should not return error")

		loaded, err := store.Load(ctx, sessionID)
		require.NoError(t, err, "Load should not return error")
		assert.Equal(t, domain.StateClarification, loaded.State)
		assert.Equal(t, "tomato", loaded.Profile.Crop)
		require.Len(t, loaded.Messages, 1)
		assert.Equal(t, "My tomato plant has yellow spots", loaded.Messages[0].Text)
		require.NotNil(t, loaded.Image)
		assert.Equal(t, []byte{1, 2, 3}, loaded.Image.Data)
	})

	t.Run("Load Returns Copy", func(t *testing.T) {
		loaded, err := store.Load(ctx, sessionID)
		require.NoError(t, err)
		loaded.Profile.Crop = "mutated"

		again, err := store.Load(ctx, sessionID)
		require.NoError(t, err)
		assert.Equal(t, "tomato", again.Profile.Crop)
	})

	t.Run("Load Non-Existent", func(t *testing.T) {
		_, err := store.Load(ctx, "non-existent-"+sessionID)
		assert.ErrorIs(t, err, domain.ErrSessionNotFound)
	})

	t.Run("Delete", func(t *testing.T) {
		err := store.Save(ctx, sessionID, domain.NewSession(sessionID, now))
		require.NoError(t, err)

		err = store.Delete(ctx, sessionID)
		require.NoError(t, err, "Delete should not return error")

		_, err = store.Load(ctx, sessionID)
		assert.ErrorIs(t, err, domain.ErrSessionNotFound, "Load after Delete should return ErrSessionNotFound")

		assert.NoError(t, store.Delete(ctx, sessionID), "Delete of a missing session is not an error")
	})

	t.Run("List", func(t *testing.T) {
		id1 := sessionID + "-1"
		id2 := sessionID + "-2"
		require.NoError(t, store.Save(ctx, id1, domain.NewSession(id1, now)))
		require.NoError(t, store.Save(ctx, id2, domain.NewSession(id2, now)))

		defer func() {
			_ = store.Delete(ctx, id1)
			_ = store.Delete(ctx, id2)
		}()

		sessions, err := store.List(ctx)
		require.NoError(t, err)
		assert.Contains(t, sessions, id1)
		assert.Contains(t, sessions, id2)
	})

	if sw, ok := store.(Sweeper); ok {
		t.Run("Sweep", func(t *testing.T) {
			idle := sessionID + "-idle"
			fresh := sessionID + "-fresh"
			old := domain.NewSession(idle, now.Add(-48*time.Hour))
			require.NoError(t, store.Save(ctx, idle, old))
			require.NoError(t, store.Save(ctx, fresh, domain.NewSession(fresh, now)))
			defer func() { _ = store.Delete(ctx, fresh) }()

			n, err := sw.Sweep(ctx, now.Add(-24*time.Hour))
			require.NoError(t, err)
			assert.GreaterOrEqual(t, n, 1)

			_, err = store.Load(ctx, idle)
			assert.ErrorIs(t, err, domain.ErrSessionNotFound)
			_, err = store.Load(ctx, fresh)
			assert.NoError(t, err)
		})
	}
}
