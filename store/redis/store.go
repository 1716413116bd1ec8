// Package redis provides a Redis-backed run store, so in-flight runs can be
// observed from outside the engine process.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	backend "github.com/redis/go-redis/v9"

	"github.com/glimte/draftflow-go/pipeline"
)

// ErrRunNotFound is returned when no snapshot exists for a run
var ErrRunNotFound = errors.New("redis: run not found")

// Store implements pipeline.RunStore on Redis. Snapshots are stored as JSON
// under a key prefix, with a set indexing the in-progress runs.
type Store struct {
	client *backend.Client
	prefix string
	ttl    time.Duration
}

var _ pipeline.RunStore = (*Store)(nil)

// Option configures the store
type Option func(*Store)

// WithPrefix sets the key prefix for snapshots
func WithPrefix(prefix string) Option {
	return func(s *Store) {
		s.prefix = prefix
	}
}

// WithTTL sets the expiration for stored snapshots. Zero means no
// expiration.
func WithTTL(ttl time.Duration) Option {
	return func(s *Store) {
		s.ttl = ttl
	}
}

// New creates a store with its own Redis client
func New(address, password string, db int, opts ...Option) *Store {
	client := backend.NewClient(&backend.Options{
		Addr:     address,
		Password: password,
		DB:       db,
	})
	return NewFromClient(client, opts...)
}

// NewFromClient creates a store from an existing client
func NewFromClient(client *backend.Client, opts ...Option) *Store {
	store := &Store{
		client: client,
		prefix: "draftflow:run:",
	}

	for _, opt := range opts {
		opt(store)
	}

	return store
}

func (s *Store) key(runID string) string {
	return s.prefix + runID
}

func (s *Store) activeKey() string {
	return s.prefix + "active"
}

// SaveState persists the latest snapshot of a run and keeps the active
// index in step with the run's status
func (s *Store) SaveState(ctx context.Context, snapshot *pipeline.Snapshot) error {
	if snapshot == nil {
		return fmt.Errorf("snapshot cannot be nil")
	}
	if snapshot.RunID == "" {
		return fmt.Errorf("snapshot run ID cannot be empty")
	}

	data, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	pipe := s.client.Pipeline()
	pipe.Set(ctx, s.key(snapshot.RunID), data, s.ttl)
	if snapshot.Status == pipeline.StatusInProgress {
		pipe.SAdd(ctx, s.activeKey(), snapshot.RunID)
	} else {
		pipe.SRem(ctx, s.activeKey(), snapshot.RunID)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save snapshot to redis: %w", err)
	}
	return nil
}

// LoadState retrieves the latest snapshot of a run
func (s *Store) LoadState(ctx context.Context, runID string) (*pipeline.Snapshot, error) {
	val, err := s.client.Get(ctx, s.key(runID)).Result()
	if err != nil {
		if errors.Is(err, backend.Nil) {
			return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
		}
		return nil, fmt.Errorf("failed to get snapshot from redis: %w", err)
	}

	var snapshot pipeline.Snapshot
	if err := json.Unmarshal([]byte(val), &snapshot); err != nil {
		return nil, fmt.Errorf("failed to unmarshal snapshot: %w", err)
	}

	return &snapshot, nil
}

// DeleteState removes a run's snapshot and its index entry
func (s *Store) DeleteState(ctx context.Context, runID string) error {
	pipe := s.client.Pipeline()
	pipe.Del(ctx, s.key(runID))
	pipe.SRem(ctx, s.activeKey(), runID)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to delete snapshot from redis: %w", err)
	}
	return nil
}

// ListActiveRuns returns the in-progress run IDs in sorted order
func (s *Store) ListActiveRuns(ctx context.Context) ([]string, error) {
	runs, err := s.client.SMembers(ctx, s.activeKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list active runs: %w", err)
	}

	sort.Strings(runs)
	return runs, nil
}

// Close closes the underlying Redis client
func (s *Store) Close() error {
	return s.client.Close()
}
