package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/glimte/draftflow-go/events"
	"github.com/glimte/draftflow-go/internal/reliability"
	"github.com/glimte/draftflow-go/journal"
	"github.com/glimte/draftflow-go/metrics"
)

// Engine executes registered pipelines. It owns the run loop: snapshot,
// invoke, validate, merge, record, route, repeat until a terminal edge or
// an abort condition.
type Engine struct {
	mu        sync.RWMutex
	pipelines map[string]*Pipeline

	journal  journal.Recorder
	runStore RunStore
	events   events.Publisher
	metrics  metrics.Collector
	logger   *slog.Logger
}

// EngineOption configures the engine
type EngineOption func(*Engine)

// WithJournal sets the step recorder. Journal failures are logged, never
// fatal to a run.
func WithJournal(recorder journal.Recorder) EngineOption {
	return func(e *Engine) {
		e.journal = recorder
	}
}

// WithRunStore sets the snapshot store for in-flight run inspection
func WithRunStore(store RunStore) EngineOption {
	return func(e *Engine) {
		e.runStore = store
	}
}

// WithEventPublisher sets the lifecycle event publisher
func WithEventPublisher(publisher events.Publisher) EngineOption {
	return func(e *Engine) {
		e.events = publisher
	}
}

// WithMetrics sets the metrics collector
func WithMetrics(collector metrics.Collector) EngineOption {
	return func(e *Engine) {
		e.metrics = collector
	}
}

// WithEngineLogger sets the engine's logger
func WithEngineLogger(logger *slog.Logger) EngineOption {
	return func(e *Engine) {
		e.logger = logger
	}
}

// NewEngine creates an engine. Without options it journals in memory and
// publishes nothing.
func NewEngine(opts ...EngineOption) *Engine {
	e := &Engine{
		pipelines: make(map[string]*Pipeline),
		journal:   journal.NewInMemoryRecorder(),
		runStore:  NewInMemoryRunStore(),
		events:    events.NopPublisher{},
		metrics:   metrics.NopCollector{},
		logger:    slog.Default(),
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// RegisterPipeline makes a built pipeline runnable
func (e *Engine) RegisterPipeline(p *Pipeline) error {
	if p == nil {
		return fmt.Errorf("pipeline cannot be nil")
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, exists := e.pipelines[p.ID()]; exists {
		return fmt.Errorf("pipeline %s is already registered", p.ID())
	}
	e.pipelines[p.ID()] = p
	return nil
}

// GetPipeline returns a registered pipeline
func (e *Engine) GetPipeline(id string) (*Pipeline, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	p, ok := e.pipelines[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPipelineNotFound, id)
	}
	return p, nil
}

// Journal returns the engine's step recorder
func (e *Engine) Journal() journal.Recorder {
	return e.journal
}

// FinalState is the outcome of a run. It is returned for failed runs too,
// so callers can inspect the last good state and the accumulated feedback.
type FinalState struct {
	RunID      string                 `json:"runId"`
	PipelineID string                 `json:"pipelineId"`
	Status     Status                 `json:"status"`
	Fields     map[string]interface{} `json:"fields"`
	Iteration  int                    `json:"iteration"`
	Feedback   []FeedbackEntry        `json:"feedback,omitempty"`
	Trace      []string               `json:"trace"`
	StartTime  time.Time              `json:"startTime"`
	EndTime    time.Time              `json:"endTime"`
}

// stageUnit is one routing step: a single stage, or a whole fan-out group.
// members is in declaration order; primary routes for the unit.
type stageUnit struct {
	members []*StageDefinition
	primary *StageDefinition
	group   string
}

// Run executes a registered pipeline from its entry stage until a terminal
// edge, the iteration bound, or a fatal error. Once the run has started,
// the returned FinalState is non-nil even on failure, carrying the last
// good state, the feedback history, and the executed trace.
func (e *Engine) Run(ctx context.Context, pipelineID string, initial map[string]interface{}) (*FinalState, error) {
	p, err := e.GetPipeline(pipelineID)
	if err != nil {
		return nil, err
	}

	state, err := NewStateStore(p.Schema(), initial)
	if err != nil {
		return nil, err
	}

	runID := uuid.New().String()
	startTime := time.Now()
	logger := e.logger.With("pipelineId", pipelineID, "runId", runID)
	logger.Info("run started", "entry", p.Entry(), "maxIterations", p.MaxIterations())

	e.publish(ctx, logger, events.NewRunStarted(pipelineID, runID))

	run := &runContext{
		pipeline:  p,
		state:     state,
		runID:     runID,
		startTime: startTime,
		visited:   make(map[string]bool),
		logger:    logger,
	}

	final, err := e.runLoop(ctx, run)

	duration := time.Since(startTime)
	e.metrics.RunCompleted(pipelineID, string(final.Status), duration)

	if err != nil {
		logger.Error("run failed", "error", err, "iteration", final.Iteration, "duration", duration)
		var stageID string
		var execErr *StageExecutionError
		var maxErr *MaxIterationsError
		switch {
		case errors.As(err, &execErr):
			stageID = execErr.StageID
		case errors.As(err, &maxErr):
			stageID = maxErr.StageID
		}
		e.publish(ctx, logger, events.NewRunFailed(pipelineID, runID, stageID, err, duration))
		return final, err
	}

	logger.Info("run completed", "iteration", final.Iteration, "duration", duration)
	e.publish(ctx, logger, events.NewRunCompleted(pipelineID, runID, string(final.Status), duration))
	return final, nil
}

// runContext carries the mutable bookkeeping of one run through the loop
type runContext struct {
	pipeline  *Pipeline
	state     *StateStore
	runID     string
	startTime time.Time
	feedback  []FeedbackEntry
	trace     []string
	visited   map[string]bool
	logger    *slog.Logger
}

func (e *Engine) runLoop(ctx context.Context, run *runContext) (*FinalState, error) {
	p := run.pipeline
	current := p.Entry()

	for {
		if err := ctx.Err(); err != nil {
			run.state.status = StatusFailed
			return e.finalState(run), err
		}

		unit := e.resolveUnit(p, current)
		key := unit.primary.ID

		if e.isRevisit(p, run, key) {
			run.state.iteration++
			if run.state.iteration > p.MaxIterations() {
				run.state.status = StatusFailed
				return e.finalState(run), &MaxIterationsError{
					StageID:       key,
					Iteration:     run.state.iteration,
					MaxIterations: p.MaxIterations(),
					Feedback:      append([]FeedbackEntry(nil), run.feedback...),
				}
			}
			run.logger.Debug("stage revisit", "stage", key, "iteration", run.state.iteration)
		}

		snapshot, err := e.snapshot(run)
		if err != nil {
			run.state.status = StatusFailed
			return e.finalState(run), err
		}

		results, err := e.invokeUnit(ctx, run, unit, snapshot)
		if err != nil {
			run.state.status = StatusFailed
			e.recordFailure(ctx, run, unit, snapshot, err)
			return e.finalState(run), err
		}

		combined, err := combineResults(unit, results)
		if err != nil {
			run.state.status = StatusFailed
			e.recordFailure(ctx, run, unit, snapshot, err)
			return e.finalState(run), err
		}

		// Merge member updates in declaration order
		for i, member := range unit.members {
			if err := run.state.Merge(member.ID, results[i].Updates); err != nil {
				run.state.status = StatusFailed
				e.recordFailure(ctx, run, unit, snapshot, err)
				return e.finalState(run), err
			}
		}

		for i, member := range unit.members {
			if results[i].Feedback != "" {
				run.feedback = append(run.feedback, FeedbackEntry{
					StageID:   member.ID,
					Feedback:  results[i].Feedback,
					Iteration: run.state.iteration,
					Timestamp: time.Now(),
				})
			}
			run.trace = append(run.trace, member.ID)
		}

		if combined.Approved {
			run.visited = map[string]bool{key: true}
		} else {
			run.visited[key] = true
		}

		e.recordSteps(ctx, run, unit, snapshot, results)
		e.saveState(ctx, run)

		run.logger.Info("stage completed",
			"stage", key,
			"approved", combined.Approved,
			"iteration", run.state.iteration)

		next, err := Route(key, combined, p.Flows())
		if err != nil {
			run.state.status = StatusFailed
			return e.finalState(run), err
		}

		if next == Terminal {
			run.trace = append(run.trace, Terminal)
			run.state.status = StatusApproved
			e.saveState(ctx, run)
			return e.finalState(run), nil
		}

		current = next
	}
}

// isRevisit reports whether reaching key again should advance the
// iteration counter under the pipeline's accounting mode
func (e *Engine) isRevisit(p *Pipeline, run *runContext, key string) bool {
	switch p.iterationMode {
	case CountEntryRevisit:
		entryUnit := e.resolveUnit(p, p.Entry())
		return key == entryUnit.primary.ID && run.visited[key]
	default:
		return run.visited[key]
	}
}

// resolveUnit expands a routed stage into its execution unit. Routing to
// any member of a fan-out group executes the whole group.
func (e *Engine) resolveUnit(p *Pipeline, stageID string) *stageUnit {
	stage, _ := p.Stage(stageID)
	if stage.ParallelGroup == "" {
		return &stageUnit{members: []*StageDefinition{stage}, primary: stage}
	}

	memberIDs := p.GroupMembers(stage.ParallelGroup)
	members := make([]*StageDefinition, len(memberIDs))
	var primary *StageDefinition
	for i, id := range memberIDs {
		members[i], _ = p.Stage(id)
		if members[i].GroupPrimary {
			primary = members[i]
		}
	}
	return &stageUnit{members: members, primary: primary, group: stage.ParallelGroup}
}

// invokeUnit runs every member of the unit against the same snapshot.
// Group members run concurrently; the first failure cancels the rest.
func (e *Engine) invokeUnit(ctx context.Context, run *runContext, unit *stageUnit, snapshot *Snapshot) ([]*StageResult, error) {
	results := make([]*StageResult, len(unit.members))

	if len(unit.members) == 1 {
		result, err := e.invokeStage(ctx, run, unit.members[0], snapshot)
		if err != nil {
			return nil, err
		}
		results[0] = result
		return results, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	for i, member := range unit.members {
		i, member := i, member
		memberSnapshot, err := copySnapshot(snapshot)
		if err != nil {
			return nil, err
		}
		g.Go(func() error {
			result, err := e.invokeStage(gctx, run, member, memberSnapshot)
			if err != nil {
				return err
			}
			results[i] = result
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// invokeStage executes one stage handler under its timeout and retry
// policy. Handler errors and nil results are infrastructure failures;
// exhausting the retry budget yields a StageExecutionError.
func (e *Engine) invokeStage(ctx context.Context, run *runContext, stage *StageDefinition, snapshot *Snapshot) (*StageResult, error) {
	policy := stage.RetryPolicy
	if policy == nil {
		policy = reliability.NewExponentialBackoff(100*time.Millisecond, 5*time.Second, 2.0, stage.MaxLocalRetries)
	}

	var result *StageResult
	attempts := 0
	start := time.Now()

	err := reliability.Retry(ctx, policy, func() error {
		attempts++
		attemptCtx, cancel := context.WithTimeout(ctx, stage.Timeout)
		defer cancel()

		r, err := stage.Handler.Execute(attemptCtx, snapshot)
		if err != nil {
			run.logger.Warn("stage attempt failed",
				"stage", stage.ID, "attempt", attempts, "error", err)
			return err
		}
		if r == nil {
			return fmt.Errorf("stage %s returned no result", stage.ID)
		}
		result = r
		return nil
	})

	duration := time.Since(start)
	e.metrics.StageExecuted(stage.ID, duration, err == nil)

	if err != nil {
		return nil, &StageExecutionError{StageID: stage.ID, Attempts: attempts, Err: err}
	}
	return result, nil
}

// combineResults validates member contracts and folds a unit's results into
// one verdict. Approval is the conjunction of member approvals; feedback is
// the concatenation of non-empty member feedback in declaration order;
// output and routing override come from the primary.
func combineResults(unit *stageUnit, results []*StageResult) (*StageResult, error) {
	combined := &StageResult{Approved: true}
	var feedbacks []string

	for i, member := range unit.members {
		result := results[i]

		if !result.Approved && !member.CanReject {
			return nil, &SchemaViolation{StageID: member.ID,
				Reason: "stage rejected but is not declared as able to reject"}
		}
		if !result.Approved && result.Feedback == "" {
			return nil, &SchemaViolation{StageID: member.ID,
				Reason: "rejection requires feedback"}
		}
		if result.NextStageOverride != "" && len(unit.members) > 1 && !member.GroupPrimary {
			return nil, &SchemaViolation{StageID: member.ID,
				Reason: "only the group primary may override routing"}
		}

		combined.Approved = combined.Approved && result.Approved
		if result.Feedback != "" {
			feedbacks = append(feedbacks, result.Feedback)
		}
		if member == unit.primary {
			combined.Output = result.Output
			combined.NextStageOverride = result.NextStageOverride
		}
	}

	combined.Feedback = strings.Join(feedbacks, "; ")
	return combined, nil
}

func (e *Engine) snapshot(run *runContext) (*Snapshot, error) {
	fields, err := run.state.Fields()
	if err != nil {
		return nil, err
	}
	return &Snapshot{
		RunID:      run.runID,
		PipelineID: run.pipeline.ID(),
		Fields:     fields,
		Iteration:  run.state.Iteration(),
		Status:     run.state.Status(),
		Feedback:   append([]FeedbackEntry(nil), run.feedback...),
	}, nil
}

func (e *Engine) finalState(run *runContext) *FinalState {
	fields, err := run.state.Fields()
	if err != nil {
		run.logger.Error("failed to copy final state", "error", err)
		fields = map[string]interface{}{}
	}
	return &FinalState{
		RunID:      run.runID,
		PipelineID: run.pipeline.ID(),
		Status:     run.state.Status(),
		Fields:     fields,
		Iteration:  run.state.Iteration(),
		Feedback:   append([]FeedbackEntry(nil), run.feedback...),
		Trace:      append([]string(nil), run.trace...),
		StartTime:  run.startTime,
		EndTime:    time.Now(),
	}
}

// recordSteps journals one record per executed member. Journal failures
// are logged and the run proceeds.
func (e *Engine) recordSteps(ctx context.Context, run *runContext, unit *stageUnit, snapshot *Snapshot, results []*StageResult) {
	inputState := marshalFields(run.logger, snapshot.Fields)

	for i, member := range unit.members {
		result := results[i]
		record := &journal.StepRecord{
			RunID:      run.runID,
			PipelineID: run.pipeline.ID(),
			StageID:    member.ID,
			Group:      member.ParallelGroup,
			Iteration:  run.state.Iteration(),
			InputState: inputState,
			Approved:   result.Approved,
			Feedback:   result.Feedback,
			Override:   result.NextStageOverride,
			Updates:    marshalFields(run.logger, result.Updates),
		}
		if err := e.journal.Append(ctx, record); err != nil {
			run.logger.Error("failed to journal step", "stage", member.ID, "error", err)
		}
		e.publish(ctx, run.logger, events.NewStageCompleted(
			run.pipeline.ID(), run.runID, member.ID, run.state.Iteration(),
			result.Approved, result.Feedback, time.Since(run.startTime)))
	}
}

// recordFailure journals the failing step so the run record explains the
// abort
func (e *Engine) recordFailure(ctx context.Context, run *runContext, unit *stageUnit, snapshot *Snapshot, failure error) {
	record := &journal.StepRecord{
		RunID:      run.runID,
		PipelineID: run.pipeline.ID(),
		StageID:    unit.primary.ID,
		Group:      unit.group,
		Iteration:  run.state.Iteration(),
		InputState: marshalFields(run.logger, snapshot.Fields),
		Error:      failure.Error(),
	}
	if err := e.journal.Append(ctx, record); err != nil {
		run.logger.Error("failed to journal failure", "stage", unit.primary.ID, "error", err)
	}
}

func (e *Engine) saveState(ctx context.Context, run *runContext) {
	snapshot, err := e.snapshot(run)
	if err != nil {
		run.logger.Error("failed to snapshot run state", "error", err)
		return
	}
	snapshot.Status = run.state.Status()
	if err := e.runStore.SaveState(ctx, snapshot); err != nil {
		run.logger.Error("failed to save run state", "error", err)
	}
}

func (e *Engine) publish(ctx context.Context, logger *slog.Logger, event *events.Event) {
	if err := e.events.Publish(ctx, event); err != nil {
		logger.Error("failed to publish event", "type", event.Type, "error", err)
	}
}

func marshalFields(logger *slog.Logger, fields map[string]interface{}) json.RawMessage {
	if len(fields) == 0 {
		return nil
	}
	data, err := json.Marshal(fields)
	if err != nil {
		logger.Error("failed to marshal fields", "error", err)
		return nil
	}
	return data
}
