package pipeline

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type articleState struct {
	Draft  string   `json:"draft"`
	Drafts []string `json:"drafts"`
}

func TestTyped(t *testing.T) {
	t.Run("decodes fields into the typed state", func(t *testing.T) {
		var seen articleState
		handler := Typed(func(ctx context.Context, state articleState, snapshot *Snapshot) (*StageResult, error) {
			seen = state
			return Approve(nil), nil
		})

		snapshot := &Snapshot{Fields: map[string]interface{}{
			"draft":  "v2",
			"drafts": []interface{}{"v1", "v2"},
		}}
		result, err := handler.Execute(context.Background(), snapshot)

		require.NoError(t, err)
		assert.True(t, result.Approved)
		assert.Equal(t, "v2", seen.Draft)
		assert.Equal(t, []string{"v1", "v2"}, seen.Drafts)
	})

	t.Run("decode failure is a handler error", func(t *testing.T) {
		handler := Typed(func(ctx context.Context, state articleState, snapshot *Snapshot) (*StageResult, error) {
			return Approve(nil), nil
		})

		snapshot := &Snapshot{Fields: map[string]interface{}{"draft": 42}}
		_, err := handler.Execute(context.Background(), snapshot)

		assert.Error(t, err)
	})

	t.Run("UpdatesFrom round-trips a struct", func(t *testing.T) {
		updates := UpdatesFrom(articleState{Draft: "v1"})

		assert.Equal(t, "v1", updates["draft"])
	})
}
