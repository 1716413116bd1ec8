package pipeline

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemoryRunStore(t *testing.T) {
	snapshot := func(runID string, status Status) *Snapshot {
		return &Snapshot{
			RunID:      runID,
			PipelineID: "review",
			Fields:     map[string]interface{}{"draft": "v1"},
			Iteration:  1,
			Status:     status,
		}
	}

	t.Run("round-trips a snapshot", func(t *testing.T) {
		store := NewInMemoryRunStore()

		require.NoError(t, store.SaveState(context.Background(), snapshot("run-1", StatusInProgress)))

		loaded, err := store.LoadState(context.Background(), "run-1")
		require.NoError(t, err)
		assert.Equal(t, "review", loaded.PipelineID)
		assert.Equal(t, "v1", loaded.Fields["draft"])
	})

	t.Run("save overwrites the previous snapshot", func(t *testing.T) {
		store := NewInMemoryRunStore()

		first := snapshot("run-1", StatusInProgress)
		require.NoError(t, store.SaveState(context.Background(), first))

		second := snapshot("run-1", StatusApproved)
		second.Iteration = 2
		require.NoError(t, store.SaveState(context.Background(), second))

		loaded, err := store.LoadState(context.Background(), "run-1")
		require.NoError(t, err)
		assert.Equal(t, StatusApproved, loaded.Status)
		assert.Equal(t, 2, loaded.Iteration)
	})

	t.Run("stored snapshots are isolated from the caller", func(t *testing.T) {
		store := NewInMemoryRunStore()

		s := snapshot("run-1", StatusInProgress)
		require.NoError(t, store.SaveState(context.Background(), s))
		s.Fields["draft"] = "mutated"

		loaded, err := store.LoadState(context.Background(), "run-1")
		require.NoError(t, err)
		assert.Equal(t, "v1", loaded.Fields["draft"])

		loaded.Fields["draft"] = "mutated again"
		again, err := store.LoadState(context.Background(), "run-1")
		require.NoError(t, err)
		assert.Equal(t, "v1", again.Fields["draft"])
	})

	t.Run("load of unknown run fails", func(t *testing.T) {
		store := NewInMemoryRunStore()

		_, err := store.LoadState(context.Background(), "missing")

		assert.Error(t, err)
	})

	t.Run("delete removes the snapshot", func(t *testing.T) {
		store := NewInMemoryRunStore()

		require.NoError(t, store.SaveState(context.Background(), snapshot("run-1", StatusInProgress)))
		require.NoError(t, store.DeleteState(context.Background(), "run-1"))

		_, err := store.LoadState(context.Background(), "run-1")
		assert.Error(t, err)
	})

	t.Run("lists only in-progress runs", func(t *testing.T) {
		store := NewInMemoryRunStore()

		require.NoError(t, store.SaveState(context.Background(), snapshot("run-1", StatusInProgress)))
		require.NoError(t, store.SaveState(context.Background(), snapshot("run-2", StatusApproved)))
		require.NoError(t, store.SaveState(context.Background(), snapshot("run-3", StatusFailed)))

		active, err := store.ListActiveRuns(context.Background())
		require.NoError(t, err)
		assert.Equal(t, []string{"run-1"}, active)
	})

	t.Run("rejects nil and anonymous snapshots", func(t *testing.T) {
		store := NewInMemoryRunStore()

		assert.Error(t, store.SaveState(context.Background(), nil))
		assert.Error(t, store.SaveState(context.Background(), &Snapshot{}))
	})
}
