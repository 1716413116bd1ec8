package pipeline

import "context"

// Terminal is the reserved routing target that ends a run successfully.
// It is not a stage ID and cannot be registered as one.
const Terminal = "__terminal__"

// StageResult is the structured verdict a stage hands back to the engine
type StageResult struct {
	// Approved reports whether the stage accepted the work it reviewed.
	// Stages that cannot reject must always return true.
	Approved bool `json:"approved"`

	// Output is the stage's produced artifact, if any
	Output interface{} `json:"output,omitempty"`

	// Feedback explains a rejection. Required when Approved is false.
	Feedback string `json:"feedback,omitempty"`

	// NextStageOverride redirects routing to an explicit stage, bypassing
	// the declared flow edges. Only the group primary may set it.
	NextStageOverride string `json:"nextStageOverride,omitempty"`

	// Updates are the field changes to merge into run state
	Updates map[string]interface{} `json:"updates,omitempty"`
}

// Approve builds an approving result carrying field updates
func Approve(updates map[string]interface{}) *StageResult {
	return &StageResult{Approved: true, Updates: updates}
}

// Reject builds a rejecting result with the required feedback
func Reject(feedback string, updates map[string]interface{}) *StageResult {
	return &StageResult{Approved: false, Feedback: feedback, Updates: updates}
}

// StageHandler executes one stage against an immutable state snapshot.
// A nil result or a returned error is treated as an infrastructure failure
// and retried under the stage's retry policy.
type StageHandler interface {
	Execute(ctx context.Context, snapshot *Snapshot) (*StageResult, error)
}

// StageHandlerFunc adapts a function to the StageHandler interface
type StageHandlerFunc func(ctx context.Context, snapshot *Snapshot) (*StageResult, error)

// Execute implements StageHandler
func (f StageHandlerFunc) Execute(ctx context.Context, snapshot *Snapshot) (*StageResult, error) {
	return f(ctx, snapshot)
}
