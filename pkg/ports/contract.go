package ports

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/aretw0/stateful/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RunPassivationStoreContract runs a suite of tests to verify that a PassivationStore
// implementation adheres to the interface contract.
func RunPassivationStoreContract(t *testing.T, store PassivationStore) {
	t.Helper()
	ctx := context.Background()
	key := "contract-" + time.Now().Format("20060102150405.000000")

	newSnapshot := func(k string) *domain.Snapshot {
		return &domain.Snapshot{
			Key:          k,
			ComponentID:  "contract",
			State:        json.RawMessage(`{"count":42,"name":"bar"}`),
			Resources:    []string{"pc"},
			PassivatedAt: time.Now().UTC().Truncate(time.Second),
		}
	}

	t.Run("Save and Load", func(t *testing.T) {
		snap := newSnapshot(key)
		require.NoError(t, store.Save(ctx, key, snap), "Save should not return error")

		loaded, err := store.Load(ctx, key)
		require.NoError(t, err, "Load should not return error")
		assert.Equal(t, snap.Key, loaded.Key)
		assert.Equal(t, snap.ComponentID, loaded.ComponentID)
		assert.JSONEq(t, string(snap.State), string(loaded.State))
		assert.Equal(t, snap.Resources, loaded.Resources)
		assert.True(t, snap.PassivatedAt.Equal(loaded.PassivatedAt))
	})

	t.Run("Save isolates caller", func(t *testing.T) {
		snap := newSnapshot(key)
		require.NoError(t, store.Save(ctx, key, snap))
		snap.ComponentID = "mutated"

		loaded, err := store.Load(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, "contract", loaded.ComponentID)
	})

	t.Run("Load Non-Existent", func(t *testing.T) {
		_, err := store.Load(ctx, "non-existent-"+key)
		assert.ErrorIs(t, err, domain.ErrSnapshotNotFound)
	})

	t.Run("Delete", func(t *testing.T) {
		require.NoError(t, store.Save(ctx, key, newSnapshot(key)))
		require.NoError(t, store.Delete(ctx, key), "Delete should not return error")

		_, err := store.Load(ctx, key)
		assert.ErrorIs(t, err, domain.ErrSnapshotNotFound, "Load after Delete should return ErrSnapshotNotFound")

		assert.NoError(t, store.Delete(ctx, key), "deleting a missing key is not an error")
	})

	t.Run("List", func(t *testing.T) {
		id1 := key + "-1"
		id2 := key + "-2"
		require.NoError(t, store.Save(ctx, id1, newSnapshot(id1)))
		require.NoError(t, store.Save(ctx, id2, newSnapshot(id2)))
		defer func() {
			_ = store.Delete(ctx, id1)
			_ = store.Delete(ctx, id2)
		}()

		keys, err := store.List(ctx)
		require.NoError(t, err)
		assert.Contains(t, keys, id1)
		assert.Contains(t, keys, id2)
	})
}
