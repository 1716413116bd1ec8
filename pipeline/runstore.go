package pipeline

import (
	"context"
	"fmt"
	"sync"
)

// RunStore persists run snapshots so in-flight and finished runs can be
// inspected from outside the engine. Saves are best effort: the engine logs
// store failures but never fails a run over them.
type RunStore interface {
	// SaveState persists the latest snapshot of a run
	SaveState(ctx context.Context, snapshot *Snapshot) error

	// LoadState retrieves the latest snapshot of a run
	LoadState(ctx context.Context, runID string) (*Snapshot, error)

	// DeleteState removes a run's snapshot
	DeleteState(ctx context.Context, runID string) error

	// ListActiveRuns returns the run IDs with a stored snapshot still in
	// progress
	ListActiveRuns(ctx context.Context) ([]string, error)
}

// InMemoryRunStore is a process-local RunStore
type InMemoryRunStore struct {
	mu    sync.RWMutex
	byRun map[string]*Snapshot
}

// NewInMemoryRunStore creates an empty in-memory run store
func NewInMemoryRunStore() *InMemoryRunStore {
	return &InMemoryRunStore{byRun: make(map[string]*Snapshot)}
}

var _ RunStore = (*InMemoryRunStore)(nil)

// SaveState persists the latest snapshot of a run
func (s *InMemoryRunStore) SaveState(ctx context.Context, snapshot *Snapshot) error {
	if snapshot == nil {
		return fmt.Errorf("snapshot cannot be nil")
	}
	if snapshot.RunID == "" {
		return fmt.Errorf("snapshot run ID cannot be empty")
	}

	copied, err := copySnapshot(snapshot)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.byRun[snapshot.RunID] = copied
	return nil
}

// LoadState retrieves the latest snapshot of a run
func (s *InMemoryRunStore) LoadState(ctx context.Context, runID string) (*Snapshot, error) {
	s.mu.RLock()
	snapshot, ok := s.byRun[runID]
	s.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("run %s: no stored state", runID)
	}
	return copySnapshot(snapshot)
}

// DeleteState removes a run's snapshot
func (s *InMemoryRunStore) DeleteState(ctx context.Context, runID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.byRun, runID)
	return nil
}

// ListActiveRuns returns the run IDs with an in-progress snapshot
func (s *InMemoryRunStore) ListActiveRuns(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var runs []string
	for id, snapshot := range s.byRun {
		if snapshot.Status == StatusInProgress {
			runs = append(runs, id)
		}
	}
	return runs, nil
}

func copySnapshot(snapshot *Snapshot) (*Snapshot, error) {
	fields, err := cloneFields(snapshot.Fields)
	if err != nil {
		return nil, fmt.Errorf("failed to copy snapshot: %w", err)
	}

	copied := *snapshot
	copied.Fields = fields
	copied.Feedback = append([]FeedbackEntry(nil), snapshot.Feedback...)
	return &copied, nil
}
