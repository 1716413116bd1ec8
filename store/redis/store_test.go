package redis_test

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	backend "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glimte/draftflow-go/pipeline"
	"github.com/glimte/draftflow-go/store/redis"
)

func newTestStore(t *testing.T) *redis.Store {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := backend.NewClient(&backend.Options{Addr: mr.Addr()})
	store := redis.NewFromClient(client)
	t.Cleanup(func() { store.Close() })

	return store
}

func snapshot(runID string, status pipeline.Status) *pipeline.Snapshot {
	return &pipeline.Snapshot{
		RunID:      runID,
		PipelineID: "review",
		Fields:     map[string]interface{}{"draft": "v1"},
		Iteration:  1,
		Status:     status,
	}
}

func TestStore(t *testing.T) {
	t.Run("round-trips a snapshot", func(t *testing.T) {
		store := newTestStore(t)

		require.NoError(t, store.SaveState(context.Background(), snapshot("run-1", pipeline.StatusInProgress)))

		loaded, err := store.LoadState(context.Background(), "run-1")
		require.NoError(t, err)
		assert.Equal(t, "review", loaded.PipelineID)
		assert.Equal(t, "v1", loaded.Fields["draft"])
		assert.Equal(t, pipeline.StatusInProgress, loaded.Status)
	})

	t.Run("unknown run is ErrRunNotFound", func(t *testing.T) {
		store := newTestStore(t)

		_, err := store.LoadState(context.Background(), "missing")

		assert.ErrorIs(t, err, redis.ErrRunNotFound)
	})

	t.Run("active index follows the run status", func(t *testing.T) {
		store := newTestStore(t)

		require.NoError(t, store.SaveState(context.Background(), snapshot("run-b", pipeline.StatusInProgress)))
		require.NoError(t, store.SaveState(context.Background(), snapshot("run-a", pipeline.StatusInProgress)))

		active, err := store.ListActiveRuns(context.Background())
		require.NoError(t, err)
		assert.Equal(t, []string{"run-a", "run-b"}, active)

		// Finishing a run drops it from the index but keeps the snapshot
		require.NoError(t, store.SaveState(context.Background(), snapshot("run-b", pipeline.StatusApproved)))

		active, err = store.ListActiveRuns(context.Background())
		require.NoError(t, err)
		assert.Equal(t, []string{"run-a"}, active)

		finished, err := store.LoadState(context.Background(), "run-b")
		require.NoError(t, err)
		assert.Equal(t, pipeline.StatusApproved, finished.Status)
	})

	t.Run("delete removes snapshot and index entry", func(t *testing.T) {
		store := newTestStore(t)

		require.NoError(t, store.SaveState(context.Background(), snapshot("run-1", pipeline.StatusInProgress)))
		require.NoError(t, store.DeleteState(context.Background(), "run-1"))

		_, err := store.LoadState(context.Background(), "run-1")
		assert.ErrorIs(t, err, redis.ErrRunNotFound)

		active, err := store.ListActiveRuns(context.Background())
		require.NoError(t, err)
		assert.Empty(t, active)
	})

	t.Run("rejects nil and anonymous snapshots", func(t *testing.T) {
		store := newTestStore(t)

		assert.Error(t, store.SaveState(context.Background(), nil))
		assert.Error(t, store.SaveState(context.Background(), &pipeline.Snapshot{}))
	})
}
