package pipeline

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const reviewDefinition = `
id: article-review
name: Article Review
entry: writer
max_iterations: 3
fields:
  draft: replace
  drafts: append
stages:
  - id: writer
    approved: reviewers_entry
  - id: reviewers_entry
    can_reject: true
    group: reviewers
    primary: true
    approved: terminal
    rejected: writer
    timeout_seconds: 30
    max_local_retries: 5
  - id: factchecker
    can_reject: true
    group: reviewers
`

func writeDefinition(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pipeline.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadDefinition(t *testing.T) {
	t.Run("loads a YAML definition", func(t *testing.T) {
		def, err := LoadDefinition(writeDefinition(t, reviewDefinition))

		require.NoError(t, err)
		assert.Equal(t, "article-review", def.ID)
		assert.Equal(t, "writer", def.Entry)
		assert.Equal(t, 3, def.MaxIterations)
		assert.Equal(t, "append", def.Fields["drafts"])
		require.Len(t, def.Stages, 3)
		assert.True(t, def.Stages[1].Primary)
		assert.Equal(t, 30, def.Stages[1].TimeoutSeconds)
	})

	t.Run("environment overrides win", func(t *testing.T) {
		t.Setenv("DRAFTFLOW_MAX_ITERATIONS", "7")

		def, err := LoadDefinition(writeDefinition(t, reviewDefinition))

		require.NoError(t, err)
		assert.Equal(t, 7, def.MaxIterations)
	})

	t.Run("missing file fails", func(t *testing.T) {
		_, err := LoadDefinition(filepath.Join(t.TempDir(), "missing.yaml"))

		assert.Error(t, err)
	})
}

func TestDefinitionBuild(t *testing.T) {
	handlers := func() map[string]StageHandler {
		return map[string]StageHandler{
			"writer":          StageHandlerFunc(approveAll),
			"reviewers_entry": StageHandlerFunc(approveAll),
			"factchecker":     StageHandlerFunc(approveAll),
		}
	}

	t.Run("builds a runnable pipeline", func(t *testing.T) {
		def, err := LoadDefinition(writeDefinition(t, reviewDefinition))
		require.NoError(t, err)

		p, err := def.Build(handlers())

		require.NoError(t, err)
		assert.Equal(t, "article-review", p.ID())
		assert.Equal(t, 3, p.MaxIterations())

		// The "terminal" keyword maps to the reserved marker
		flows := p.Flows()
		assert.Equal(t, Terminal, flows["reviewers_entry"].ApprovedTarget)
		assert.Equal(t, "writer", flows["reviewers_entry"].RejectedTarget)

		stage, ok := p.Stage("reviewers_entry")
		require.True(t, ok)
		assert.Equal(t, 30*time.Second, stage.Timeout)
		assert.Equal(t, 5, stage.MaxLocalRetries)
	})

	t.Run("missing handler fails", func(t *testing.T) {
		def, err := LoadDefinition(writeDefinition(t, reviewDefinition))
		require.NoError(t, err)

		h := handlers()
		delete(h, "factchecker")

		_, err = def.Build(h)

		var validationErr *ValidationError
		require.ErrorAs(t, err, &validationErr)
		assert.Equal(t, "factchecker", validationErr.StageID)
	})

	t.Run("handler for an undeclared stage fails", func(t *testing.T) {
		def, err := LoadDefinition(writeDefinition(t, reviewDefinition))
		require.NoError(t, err)

		h := handlers()
		h["ghost"] = StageHandlerFunc(approveAll)

		_, err = def.Build(h)

		var validationErr *ValidationError
		require.ErrorAs(t, err, &validationErr)
		assert.Equal(t, "ghost", validationErr.StageID)
	})

	t.Run("Validate checks structure without handlers", func(t *testing.T) {
		def, err := LoadDefinition(writeDefinition(t, reviewDefinition))
		require.NoError(t, err)

		assert.NoError(t, def.Validate())
	})

	t.Run("Validate catches a broken edge", func(t *testing.T) {
		broken := `
id: broken
entry: writer
stages:
  - id: writer
    approved: ghost
`
		def, err := LoadDefinition(writeDefinition(t, broken))
		require.NoError(t, err)

		err = def.Validate()

		var validationErr *ValidationError
		require.ErrorAs(t, err, &validationErr)
		assert.Contains(t, validationErr.Reason, "ghost")
	})
}
