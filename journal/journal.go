// Package journal provides the append-only run record for pipeline runs.
//
// The engine writes one StepRecord per executed stage, before the run
// proceeds or aborts. Consumers replay the record to reconstruct the full
// decision trail of a run; the engine itself never reads it back during
// normal execution.
package journal

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// StepRecord is a single executed step in a run
type StepRecord struct {
	ID         string          `json:"id"`
	RunID      string          `json:"runId"`
	PipelineID string          `json:"pipelineId"`
	StageID    string          `json:"stageId"`
	Group      string          `json:"group,omitempty"`
	Iteration  int             `json:"iteration"`
	Timestamp  time.Time       `json:"timestamp"`
	InputState json.RawMessage `json:"inputState,omitempty"`
	Approved   bool            `json:"approved"`
	Feedback   string          `json:"feedback,omitempty"`
	Override   string          `json:"override,omitempty"`
	Updates    json.RawMessage `json:"updates,omitempty"`
	Error      string          `json:"error,omitempty"`
}

// Recorder persists step records
type Recorder interface {
	// Append records an executed step
	Append(ctx context.Context, record *StepRecord) error

	// GetByRunID retrieves all records for a run in append order
	GetByRunID(ctx context.Context, runID string) ([]*StepRecord, error)

	// ListRuns returns the distinct run IDs present in the journal
	ListRuns(ctx context.Context) ([]string, error)
}

// InMemoryRecorder provides an in-memory implementation of Recorder
type InMemoryRecorder struct {
	records       []*StepRecord
	byRunID       map[string][]*StepRecord
	runOrder      []string
	mu            sync.RWMutex
	maxRecords    int
	rotatePercent float64
}

// InMemoryRecorderOption configures the in-memory recorder
type InMemoryRecorderOption func(*InMemoryRecorder)

// WithMaxRecords sets the maximum number of records kept
func WithMaxRecords(max int) InMemoryRecorderOption {
	return func(r *InMemoryRecorder) {
		r.maxRecords = max
	}
}

// NewInMemoryRecorder creates a new in-memory recorder
func NewInMemoryRecorder(opts ...InMemoryRecorderOption) *InMemoryRecorder {
	r := &InMemoryRecorder{
		records:       make([]*StepRecord, 0),
		byRunID:       make(map[string][]*StepRecord),
		maxRecords:    10000,
		rotatePercent: 0.2,
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Append records an executed step
func (r *InMemoryRecorder) Append(ctx context.Context, record *StepRecord) error {
	if record == nil {
		return fmt.Errorf("record cannot be nil")
	}
	if record.RunID == "" {
		return fmt.Errorf("record run ID cannot be empty")
	}

	if record.ID == "" {
		record.ID = uuid.New().String()
	}
	if record.Timestamp.IsZero() {
		record.Timestamp = time.Now()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.records) >= r.maxRecords {
		r.rotate()
	}

	r.records = append(r.records, record)
	if _, seen := r.byRunID[record.RunID]; !seen {
		r.runOrder = append(r.runOrder, record.RunID)
	}
	r.byRunID[record.RunID] = append(r.byRunID[record.RunID], record)

	return nil
}

// GetByRunID retrieves all records for a run in append order
func (r *InMemoryRecorder) GetByRunID(ctx context.Context, runID string) ([]*StepRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	records, exists := r.byRunID[runID]
	if !exists {
		return []*StepRecord{}, nil
	}

	// Return copies to prevent external modification
	result := make([]*StepRecord, len(records))
	for i, rec := range records {
		recCopy := *rec
		result[i] = &recCopy
	}

	return result, nil
}

// ListRuns returns the distinct run IDs present in the journal
func (r *InMemoryRecorder) ListRuns(ctx context.Context) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	runs := make([]string, 0, len(r.runOrder))
	for _, id := range r.runOrder {
		if len(r.byRunID[id]) > 0 {
			runs = append(runs, id)
		}
	}
	return runs, nil
}

// rotate removes the oldest records when the cap is reached
func (r *InMemoryRecorder) rotate() {
	removeCount := int(float64(r.maxRecords) * r.rotatePercent)
	if removeCount < 1 {
		removeCount = 1
	}

	r.records = r.records[removeCount:]
	r.rebuildIndexes()
}

func (r *InMemoryRecorder) rebuildIndexes() {
	r.byRunID = make(map[string][]*StepRecord)
	r.runOrder = r.runOrder[:0]

	for _, rec := range r.records {
		if _, seen := r.byRunID[rec.RunID]; !seen {
			r.runOrder = append(r.runOrder, rec.RunID)
		}
		r.byRunID[rec.RunID] = append(r.byRunID[rec.RunID], rec)
	}
}
