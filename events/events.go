// Package events defines run lifecycle events and the publishers that emit
// them. Publishing is best effort: the engine logs a failed publish and keeps
// going, so event consumers never gate a run.
package events

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Type identifies the kind of lifecycle event
type Type string

const (
	TypeRunStarted     Type = "RunStarted"
	TypeStageCompleted Type = "StageCompleted"
	TypeRunCompleted   Type = "RunCompleted"
	TypeRunFailed      Type = "RunFailed"
)

// Event is a single run lifecycle notification
type Event struct {
	ID         string        `json:"id"`
	Type       Type          `json:"type"`
	PipelineID string        `json:"pipelineId"`
	RunID      string        `json:"runId"`
	StageID    string        `json:"stageId,omitempty"`
	Iteration  int           `json:"iteration,omitempty"`
	Approved   bool          `json:"approved,omitempty"`
	Status     string        `json:"status,omitempty"`
	Feedback   string        `json:"feedback,omitempty"`
	Error      string        `json:"error,omitempty"`
	Duration   time.Duration `json:"duration,omitempty"`
	Timestamp  time.Time     `json:"timestamp"`
}

// Publisher delivers lifecycle events to an external consumer
type Publisher interface {
	Publish(ctx context.Context, event *Event) error
}

// NopPublisher discards all events
type NopPublisher struct{}

// Publish implements Publisher
func (NopPublisher) Publish(ctx context.Context, event *Event) error {
	return nil
}

func newEvent(t Type, pipelineID, runID string) *Event {
	return &Event{
		ID:         uuid.New().String(),
		Type:       t,
		PipelineID: pipelineID,
		RunID:      runID,
		Timestamp:  time.Now(),
	}
}

// NewRunStarted creates a RunStarted event
func NewRunStarted(pipelineID, runID string) *Event {
	return newEvent(TypeRunStarted, pipelineID, runID)
}

// NewStageCompleted creates a StageCompleted event
func NewStageCompleted(pipelineID, runID, stageID string, iteration int, approved bool, feedback string, duration time.Duration) *Event {
	ev := newEvent(TypeStageCompleted, pipelineID, runID)
	ev.StageID = stageID
	ev.Iteration = iteration
	ev.Approved = approved
	ev.Feedback = feedback
	ev.Duration = duration
	return ev
}

// NewRunCompleted creates a RunCompleted event
func NewRunCompleted(pipelineID, runID, status string, duration time.Duration) *Event {
	ev := newEvent(TypeRunCompleted, pipelineID, runID)
	ev.Status = status
	ev.Duration = duration
	return ev
}

// NewRunFailed creates a RunFailed event
func NewRunFailed(pipelineID, runID, stageID string, err error, duration time.Duration) *Event {
	ev := newEvent(TypeRunFailed, pipelineID, runID)
	ev.StageID = stageID
	ev.Duration = duration
	if err != nil {
		ev.Error = err.Error()
	}
	return ev
}
