package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glimte/draftflow-go/journal"
)

func TestReplay(t *testing.T) {
	records := []*journal.StepRecord{
		{StageID: "writer", Iteration: 1, Approved: true},
		{StageID: "editor", Group: "reviewers", Iteration: 1, Approved: false, Feedback: "weak hook"},
		{StageID: "factchecker", Group: "reviewers", Iteration: 1, Approved: true},
		{StageID: "writer", Iteration: 2, Approved: true, Override: "factchecker"},
		{StageID: "editor", Iteration: 2, Error: "backend unavailable"},
	}

	t.Run("reconstructs one step per record in order", func(t *testing.T) {
		steps := Replay(records)

		require.Len(t, steps, 5)
		assert.Equal(t, "writer", steps[0].StageID)
		assert.True(t, steps[0].Approved)
		assert.Equal(t, "reviewers", steps[1].Group)
		assert.Equal(t, "weak hook", steps[1].Feedback)
		assert.Equal(t, "factchecker", steps[3].Override)
		assert.Equal(t, "backend unavailable", steps[4].Error)
	})

	t.Run("handles an empty record set", func(t *testing.T) {
		assert.Empty(t, Replay(nil))
	})

	t.Run("FormatTrail renders verdicts and feedback", func(t *testing.T) {
		out := FormatTrail("run-1", Replay(records))

		assert.Contains(t, out, "run run-1 (5 steps)")
		assert.Contains(t, out, "editor (group reviewers): rejected (weak hook)")
		assert.Contains(t, out, "-> override factchecker")
		assert.Contains(t, out, "failed (backend unavailable)")
	})
}
