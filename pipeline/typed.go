package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
)

// TypedHandler executes a stage against a typed view of the state fields.
// T is decoded from the snapshot's fields via JSON, so its struct tags name
// the state fields it reads.
type TypedHandler[T any] func(ctx context.Context, state T, snapshot *Snapshot) (*StageResult, error)

// Typed adapts a typed handler to the StageHandler interface. Decode
// failures are infrastructure errors and go through the stage's retry
// policy like any handler error.
func Typed[T any](fn TypedHandler[T]) StageHandler {
	return StageHandlerFunc(func(ctx context.Context, snapshot *Snapshot) (*StageResult, error) {
		var state T

		data, err := json.Marshal(snapshot.Fields)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal state fields: %w", err)
		}
		if err := json.Unmarshal(data, &state); err != nil {
			return nil, fmt.Errorf("failed to decode state into %T: %w", state, err)
		}

		return fn(ctx, state, snapshot)
	})
}

// UpdatesFrom converts a typed value back into a field update map via JSON.
// Handlers that assemble their updates as a struct can return
// Approve(UpdatesFrom(v)).
func UpdatesFrom(v interface{}) map[string]interface{} {
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	var out map[string]interface{}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil
	}
	return out
}
