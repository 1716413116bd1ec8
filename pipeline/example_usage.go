package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// Example showing a writer/editor/factchecker review loop: the writer
// drafts, two reviewers fan out over the draft, and rejections route back
// to the writer with their feedback until both approve or the iteration
// bound trips.
func ExampleArticleReview() {
	writer := StageHandlerFunc(func(ctx context.Context, snapshot *Snapshot) (*StageResult, error) {
		draft := "The launch went well."
		if fb, ok := snapshot.LastFeedback(); ok {
			draft = fmt.Sprintf("The launch went well. (revised for: %s)", fb.Feedback)
		}
		return Approve(map[string]interface{}{
			"draft":  draft,
			"drafts": draft,
		}), nil
	})

	editor := StageHandlerFunc(func(ctx context.Context, snapshot *Snapshot) (*StageResult, error) {
		draft, _ := snapshot.Field("draft")
		if !strings.Contains(draft.(string), "revised") {
			return Reject("needs a stronger opening", nil), nil
		}
		return Approve(nil), nil
	})

	factchecker := StageHandlerFunc(func(ctx context.Context, snapshot *Snapshot) (*StageResult, error) {
		return Approve(map[string]interface{}{"verified": true}), nil
	})

	p, err := NewPipeline("article-review", "Article Review").
		Field("draft", MergeReplace).
		Field("drafts", MergeAppend).
		Field("verified", MergeReplace).
		AddStage("writer", writer,
			WithFlow("editor", "")).
		AddStage("editor", editor,
			WithCanReject(),
			WithParallelGroup("reviewers"),
			WithGroupPrimary(),
			WithFlow(Terminal, "writer")).
		AddStage("factchecker", factchecker,
			WithCanReject(),
			WithParallelGroup("reviewers")).
		Entry("writer").
		MaxIterations(3).
		Build()
	if err != nil {
		panic(err)
	}

	engine := NewEngine(WithEngineLogger(slog.Default()))
	if err := engine.RegisterPipeline(p); err != nil {
		panic(err)
	}

	final, err := engine.Run(context.Background(), "article-review", nil)
	if err != nil {
		panic(err)
	}

	fmt.Println(final.Status, len(final.Feedback))
}
