package pipeline

import (
	"time"

	"github.com/glimte/draftflow-go/internal/reliability"
)

const (
	// DefaultMaxLocalRetries is the per-stage retry budget for
	// infrastructure failures
	DefaultMaxLocalRetries = 3

	// DefaultStageTimeout bounds a single handler invocation
	DefaultStageTimeout = 5 * time.Minute

	// DefaultMaxIterations bounds the rejection loop of a run
	DefaultMaxIterations = 10
)

// FlowEdge declares where control goes after a stage completes
type FlowEdge struct {
	// ApprovedTarget is the next stage (or Terminal) on approval
	ApprovedTarget string
	// RejectedTarget is the next stage on rejection. Required exactly when
	// the stage can reject.
	RejectedTarget string
}

// StageDefinition is one stage of a pipeline
type StageDefinition struct {
	ID      string
	Handler StageHandler

	// CanReject marks the stage as a reviewer that may return Approved=false
	CanReject bool

	// MaxLocalRetries is the retry budget for infrastructure failures
	MaxLocalRetries int

	// Timeout bounds a single handler invocation
	Timeout time.Duration

	// ParallelGroup names the fan-out group this stage belongs to.
	// Stages sharing a group run concurrently against the same snapshot.
	ParallelGroup string

	// GroupPrimary marks this stage as the one whose output and flow edge
	// the group uses. Exactly one member of a group must be primary.
	GroupPrimary bool

	// RetryPolicy overrides the default backoff for this stage
	RetryPolicy reliability.RetryPolicy

	Flow FlowEdge
}

// StageOption configures a stage at registration time
type StageOption func(*StageDefinition)

// WithFlow declares the stage's routing edges. Pass Terminal as the
// approved target to end the run at this stage.
func WithFlow(approvedTarget, rejectedTarget string) StageOption {
	return func(s *StageDefinition) {
		s.Flow.ApprovedTarget = approvedTarget
		s.Flow.RejectedTarget = rejectedTarget
	}
}

// WithCanReject marks the stage as a reviewer
func WithCanReject() StageOption {
	return func(s *StageDefinition) {
		s.CanReject = true
	}
}

// WithTimeout bounds a single handler invocation
func WithTimeout(timeout time.Duration) StageOption {
	return func(s *StageDefinition) {
		s.Timeout = timeout
	}
}

// WithMaxLocalRetries sets the retry budget for infrastructure failures
func WithMaxLocalRetries(retries int) StageOption {
	return func(s *StageDefinition) {
		s.MaxLocalRetries = retries
	}
}

// WithParallelGroup places the stage in a named fan-out group
func WithParallelGroup(group string) StageOption {
	return func(s *StageDefinition) {
		s.ParallelGroup = group
	}
}

// WithGroupPrimary marks the stage as its group's primary member
func WithGroupPrimary() StageOption {
	return func(s *StageDefinition) {
		s.GroupPrimary = true
	}
}

// WithStageRetryPolicy overrides the default backoff for this stage
func WithStageRetryPolicy(policy reliability.RetryPolicy) StageOption {
	return func(s *StageDefinition) {
		s.RetryPolicy = policy
	}
}
