package pipeline

import (
	"errors"
	"fmt"
)

var (
	// ErrPipelineNotFound is returned when a pipeline ID is not registered
	ErrPipelineNotFound = errors.New("pipeline: pipeline not found")
)

// ValidationError reports a malformed pipeline definition. It is raised at
// build time, before any run starts.
type ValidationError struct {
	PipelineID string
	StageID    string
	Reason     string
}

func (e *ValidationError) Error() string {
	if e.StageID != "" {
		return fmt.Sprintf("pipeline %s: invalid stage %s: %s", e.PipelineID, e.StageID, e.Reason)
	}
	return fmt.Sprintf("pipeline %s: invalid definition: %s", e.PipelineID, e.Reason)
}

// SchemaViolation reports a stage result or state update that breaks a
// declared contract. It aborts the run immediately and is never retried.
type SchemaViolation struct {
	StageID string
	Field   string
	Reason  string
}

func (e *SchemaViolation) Error() string {
	switch {
	case e.StageID != "" && e.Field != "":
		return fmt.Sprintf("schema violation: stage %s, field %s: %s", e.StageID, e.Field, e.Reason)
	case e.StageID != "":
		return fmt.Sprintf("schema violation: stage %s: %s", e.StageID, e.Reason)
	case e.Field != "":
		return fmt.Sprintf("schema violation: field %s: %s", e.Field, e.Reason)
	default:
		return fmt.Sprintf("schema violation: %s", e.Reason)
	}
}

// StageExecutionError reports an infrastructure failure that survived the
// stage's retry budget. It aborts the run; the last good state and the run
// record are preserved for diagnosis.
type StageExecutionError struct {
	StageID  string
	Attempts int
	Err      error
}

func (e *StageExecutionError) Error() string {
	return fmt.Sprintf("stage %s failed after %d attempt(s): %v", e.StageID, e.Attempts, e.Err)
}

func (e *StageExecutionError) Unwrap() error {
	return e.Err
}

// RoutingError reports a result override that names a stage the registry
// does not recognize. There is no fallback to a default edge.
type RoutingError struct {
	StageID string
	Target  string
	Reason  string
}

func (e *RoutingError) Error() string {
	if e.Target != "" {
		return fmt.Sprintf("routing error: stage %s: invalid target %q: %s", e.StageID, e.Target, e.Reason)
	}
	return fmt.Sprintf("routing error: stage %s: %s", e.StageID, e.Reason)
}

// MaxIterationsError reports that the bounded rejection loop exceeded its
// configured limit. It is a normal terminal outcome of the control loop, not
// an infrastructure fault: the accumulated state and feedback history are
// returned alongside it.
type MaxIterationsError struct {
	StageID       string
	Iteration     int
	MaxIterations int
	Feedback      []FeedbackEntry
}

func (e *MaxIterationsError) Error() string {
	return fmt.Sprintf("max iterations exceeded: stage %s reached iteration %d of %d allowed",
		e.StageID, e.Iteration, e.MaxIterations)
}
