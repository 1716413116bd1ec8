package pipeline

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// MergePolicy governs how a stage's update to a field is applied
type MergePolicy string

const (
	// MergeReplace overwrites the current value
	MergeReplace MergePolicy = "replace"
	// MergeAppend concatenates the update's ordered sequence onto the
	// existing one, preserving arrival order and permitting duplicates
	MergeAppend MergePolicy = "append"
)

// Schema declares the state fields of a pipeline and their merge policies
type Schema map[string]MergePolicy

// Validate checks field names and policies
func (s Schema) Validate() error {
	for name, policy := range s {
		if name == "" {
			return &ValidationError{Reason: "schema field name cannot be empty"}
		}
		switch policy {
		case MergeReplace, MergeAppend:
		default:
			return &ValidationError{Reason: fmt.Sprintf("schema field %s has unknown merge policy %q", name, policy)}
		}
	}
	return nil
}

// Status is the overall status of a run
type Status string

const (
	StatusInProgress Status = "in_progress"
	StatusApproved   Status = "approved"
	StatusFailed     Status = "failed"
)

// FeedbackEntry is one piece of reviewer feedback accumulated during a run
type FeedbackEntry struct {
	StageID   string    `json:"stageId"`
	Feedback  string    `json:"feedback"`
	Iteration int       `json:"iteration"`
	Timestamp time.Time `json:"timestamp"`
}

// StateStore owns the canonical state of a single run. Merge is the only
// site of mutation; everything else sees immutable snapshots. The iteration
// counter starts at 1 (the initial pass) and only ever increases.
type StateStore struct {
	schema    Schema
	fields    map[string]interface{}
	iteration int
	status    Status
}

// NewStateStore creates the state store for a run. Every initial field must
// be declared in the schema.
func NewStateStore(schema Schema, initial map[string]interface{}) (*StateStore, error) {
	if err := schema.Validate(); err != nil {
		return nil, err
	}

	fields, err := cloneFields(initial)
	if err != nil {
		return nil, fmt.Errorf("failed to copy initial state: %w", err)
	}
	if fields == nil {
		fields = make(map[string]interface{})
	}

	for name := range fields {
		if _, declared := schema[name]; !declared {
			return nil, &SchemaViolation{Field: name, Reason: "field not declared in schema"}
		}
	}

	return &StateStore{
		schema:    schema,
		fields:    fields,
		iteration: 1,
		status:    StatusInProgress,
	}, nil
}

// Merge applies a stage's field updates under their declared policies.
// Updates are validated in full before any field changes, so a violation
// leaves the state untouched. Fields are applied in sorted name order for
// deterministic merges.
func (s *StateStore) Merge(stageID string, updates map[string]interface{}) error {
	if len(updates) == 0 {
		return nil
	}

	names := make([]string, 0, len(updates))
	for name := range updates {
		if _, declared := s.schema[name]; !declared {
			return &SchemaViolation{StageID: stageID, Field: name, Reason: "field not declared in schema"}
		}
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		switch s.schema[name] {
		case MergeAppend:
			s.fields[name] = appendSequence(s.fields[name], updates[name])
		default:
			s.fields[name] = updates[name]
		}
	}

	return nil
}

// Iteration returns the current iteration counter
func (s *StateStore) Iteration() int {
	return s.iteration
}

// Status returns the current run status
func (s *StateStore) Status() Status {
	return s.status
}

// Fields returns a deep copy of the current field values
func (s *StateStore) Fields() (map[string]interface{}, error) {
	return cloneFields(s.fields)
}

// appendSequence concatenates update onto existing, coercing scalars into
// single-element sequences
func appendSequence(existing, update interface{}) []interface{} {
	seq := toSequence(existing)
	return append(seq, toSequence(update)...)
}

func toSequence(v interface{}) []interface{} {
	switch x := v.(type) {
	case nil:
		return nil
	case []interface{}:
		return x
	case []string:
		out := make([]interface{}, len(x))
		for i, s := range x {
			out[i] = s
		}
		return out
	default:
		return []interface{}{v}
	}
}

// cloneFields deep-copies a field map via a JSON round trip
func cloneFields(fields map[string]interface{}) (map[string]interface{}, error) {
	if fields == nil {
		return nil, nil
	}

	data, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal state: %w", err)
	}

	var copied map[string]interface{}
	if err := json.Unmarshal(data, &copied); err != nil {
		return nil, fmt.Errorf("failed to unmarshal state: %w", err)
	}

	return copied, nil
}

// Snapshot is an immutable view of the run state handed to handlers
type Snapshot struct {
	RunID      string                 `json:"runId"`
	PipelineID string                 `json:"pipelineId"`
	Fields     map[string]interface{} `json:"fields"`
	Iteration  int                    `json:"iteration"`
	Status     Status                 `json:"status"`
	Feedback   []FeedbackEntry        `json:"feedback,omitempty"`
}

// Field returns the value of a state field
func (s *Snapshot) Field(name string) (interface{}, bool) {
	v, ok := s.Fields[name]
	return v, ok
}

// StringSlice returns a sequence field's elements as strings, skipping
// non-string elements
func (s *Snapshot) StringSlice(name string) []string {
	v, ok := s.Fields[name]
	if !ok {
		return nil
	}
	seq, ok := v.([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(seq))
	for _, item := range seq {
		if str, ok := item.(string); ok {
			out = append(out, str)
		}
	}
	return out
}

// LastFeedback returns the most recent feedback entry, if any
func (s *Snapshot) LastFeedback() (FeedbackEntry, bool) {
	if len(s.Feedback) == 0 {
		return FeedbackEntry{}, false
	}
	return s.Feedback[len(s.Feedback)-1], true
}
