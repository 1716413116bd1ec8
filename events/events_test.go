package events

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestEventConstructors(t *testing.T) {
	t.Run("NewRunStarted populates identity fields", func(t *testing.T) {
		ev := NewRunStarted("review", "run-1")

		assert.Equal(t, TypeRunStarted, ev.Type)
		assert.Equal(t, "review", ev.PipelineID)
		assert.Equal(t, "run-1", ev.RunID)
		assert.NotEmpty(t, ev.ID)
		assert.False(t, ev.Timestamp.IsZero())
	})

	t.Run("NewStageCompleted carries stage outcome", func(t *testing.T) {
		ev := NewStageCompleted("review", "run-1", "editor", 2, false, "hook is weak", 300*time.Millisecond)

		assert.Equal(t, TypeStageCompleted, ev.Type)
		assert.Equal(t, "editor", ev.StageID)
		assert.Equal(t, 2, ev.Iteration)
		assert.False(t, ev.Approved)
		assert.Equal(t, "hook is weak", ev.Feedback)
		assert.Equal(t, 300*time.Millisecond, ev.Duration)
	})

	t.Run("NewRunCompleted carries final status", func(t *testing.T) {
		ev := NewRunCompleted("review", "run-1", "approved", time.Second)

		assert.Equal(t, TypeRunCompleted, ev.Type)
		assert.Equal(t, "approved", ev.Status)
	})

	t.Run("NewRunFailed records the error", func(t *testing.T) {
		ev := NewRunFailed("review", "run-1", "writer", errors.New("handler timed out"), time.Second)

		assert.Equal(t, TypeRunFailed, ev.Type)
		assert.Equal(t, "writer", ev.StageID)
		assert.Equal(t, "handler timed out", ev.Error)
	})

	t.Run("NewRunFailed tolerates nil error", func(t *testing.T) {
		ev := NewRunFailed("review", "run-1", "", nil, 0)
		assert.Empty(t, ev.Error)
	})
}

func TestNopPublisher(t *testing.T) {
	t.Run("discards events without error", func(t *testing.T) {
		var p Publisher = NopPublisher{}
		assert.NoError(t, p.Publish(context.Background(), NewRunStarted("p", "r")))
	})
}
