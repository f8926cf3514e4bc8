package store_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowforge/flowforge/engine/store"
	"github.com/flowforge/flowforge/engine/store/memstore"
)

// TestStore exercises memstore.Store against the store.Store contract
// itself, so any future implementation can be swapped in by changing
// only the constructor call below.
func TestStore(t *testing.T) {
	ctx := context.Background()
	newStore := func() store.Store { return memstore.New() }

	t.Run("Insert assigns an id and Unique finds the row by index", func(t *testing.T) {
		s := newStore()
		id, err := s.Insert(ctx, "workItems", store.Row{"taskName": "approval", "generation": 1})
		require.NoError(t, err)
		assert.NotEmpty(t, id.String())

		row, ok, err := s.Unique(ctx, "workItems", "taskName", "approval")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, 1, row["generation"])
	})

	t.Run("Unique reports false for a missing key", func(t *testing.T) {
		s := newStore()
		_, ok, err := s.Unique(ctx, "workItems", "taskName", "nonexistent")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("Patch merges fields without touching the rest of the row", func(t *testing.T) {
		s := newStore()
		id, err := s.Insert(ctx, "workItems", store.Row{"state": "offered", "generation": 1})
		require.NoError(t, err)

		require.NoError(t, s.Patch(ctx, "workItems", id, store.Row{"state": "started"}))

		row, ok, err := s.Unique(ctx, "workItems", "id", id.String())
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, "started", row["state"])
		assert.Equal(t, 1, row["generation"])
	})

	t.Run("Patch on an unknown id errors", func(t *testing.T) {
		s := newStore()
		unknown, err := s.Insert(ctx, "scratch", store.Row{})
		require.NoError(t, err)
		require.NoError(t, s.Delete(ctx, "scratch", unknown))
		assert.Error(t, s.Patch(ctx, "scratch", unknown, store.Row{"x": 1}))
	})

	t.Run("Delete removes the row from subsequent queries", func(t *testing.T) {
		s := newStore()
		id, err := s.Insert(ctx, "workItems", store.Row{"generation": 1})
		require.NoError(t, err)
		require.NoError(t, s.Delete(ctx, "workItems", id))

		it, err := s.QueryByIndex(ctx, "workItems", "generation", store.Range{})
		require.NoError(t, err)
		defer it.Close()
		_, ok, err := it.Next(ctx)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("QueryByIndex orders by the indexed value and honors From/To/Limit", func(t *testing.T) {
		s := newStore()
		for _, gen := range []int{3, 1, 2, 4} {
			_, err := s.Insert(ctx, "tasks", store.Row{"generation": gen})
			require.NoError(t, err)
		}

		it, err := s.QueryByIndex(ctx, "tasks", "generation", store.Range{From: 2, To: 4, Limit: 2})
		require.NoError(t, err)
		defer it.Close()

		var gens []int
		for {
			row, ok, err := it.Next(ctx)
			require.NoError(t, err)
			if !ok {
				break
			}
			gens = append(gens, row["generation"].(int))
		}
		assert.Equal(t, []int{2, 3}, gens, "results are ordered and bounded by From/To/Limit")
	})
}
