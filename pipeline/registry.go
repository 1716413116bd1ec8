package pipeline

import (
	"fmt"
	"time"
)

// IterationMode selects how the iteration counter advances on revisits
type IterationMode string

const (
	// CountEveryRevisit increments the counter whenever any stage already
	// visited in the current pass is reached again. This is the default.
	CountEveryRevisit IterationMode = "every_revisit"

	// CountEntryRevisit increments the counter only when control returns
	// to the entry stage
	CountEntryRevisit IterationMode = "entry_revisit"
)

// Pipeline is a validated, immutable pipeline definition. Build it with
// NewPipeline; a Pipeline that exists has already passed validation.
type Pipeline struct {
	id            string
	name          string
	schema        Schema
	stages        []*StageDefinition
	byID          map[string]*StageDefinition
	flows         map[string]FlowEdge
	groups        map[string][]string
	primary       map[string]string
	entry         string
	maxIterations int
	iterationMode IterationMode
}

// ID returns the pipeline identifier
func (p *Pipeline) ID() string { return p.id }

// Name returns the human-readable pipeline name
func (p *Pipeline) Name() string { return p.name }

// Entry returns the entry stage ID
func (p *Pipeline) Entry() string { return p.entry }

// MaxIterations returns the rejection loop bound
func (p *Pipeline) MaxIterations() int { return p.maxIterations }

// Schema returns the pipeline's state schema
func (p *Pipeline) Schema() Schema {
	out := make(Schema, len(p.schema))
	for k, v := range p.schema {
		out[k] = v
	}
	return out
}

// Stage returns the definition of a stage by ID
func (p *Pipeline) Stage(id string) (*StageDefinition, bool) {
	s, ok := p.byID[id]
	return s, ok
}

// Stages returns the stage definitions in declaration order
func (p *Pipeline) Stages() []*StageDefinition {
	out := make([]*StageDefinition, len(p.stages))
	copy(out, p.stages)
	return out
}

// Flows returns the routing edges keyed by stage ID
func (p *Pipeline) Flows() map[string]FlowEdge {
	out := make(map[string]FlowEdge, len(p.flows))
	for k, v := range p.flows {
		out[k] = v
	}
	return out
}

// GroupMembers returns the member stage IDs of a fan-out group in
// declaration order
func (p *Pipeline) GroupMembers(group string) []string {
	members := p.groups[group]
	out := make([]string, len(members))
	copy(out, members)
	return out
}

// GroupPrimary returns the primary stage ID of a fan-out group
func (p *Pipeline) GroupPrimary(group string) (string, bool) {
	id, ok := p.primary[group]
	return id, ok
}

// Builder assembles a pipeline definition. Errors are deferred to Build so
// calls can be chained.
type Builder struct {
	id            string
	name          string
	schema        Schema
	stages        []*StageDefinition
	entry         string
	maxIterations int
	iterationMode IterationMode
}

// NewPipeline starts a pipeline definition
func NewPipeline(id, name string) *Builder {
	return &Builder{
		id:            id,
		name:          name,
		schema:        make(Schema),
		maxIterations: DefaultMaxIterations,
		iterationMode: CountEveryRevisit,
	}
}

// Field declares a state field and its merge policy
func (b *Builder) Field(name string, policy MergePolicy) *Builder {
	b.schema[name] = policy
	return b
}

// AddStage registers a stage. Declaration order is significant for fan-out
// groups: members execute and merge in the order they were added.
func (b *Builder) AddStage(id string, handler StageHandler, opts ...StageOption) *Builder {
	stage := &StageDefinition{
		ID:              id,
		Handler:         handler,
		MaxLocalRetries: DefaultMaxLocalRetries,
		Timeout:         DefaultStageTimeout,
	}
	for _, opt := range opts {
		opt(stage)
	}
	b.stages = append(b.stages, stage)
	return b
}

// Entry names the stage every run starts at
func (b *Builder) Entry(id string) *Builder {
	b.entry = id
	return b
}

// MaxIterations bounds the rejection loop
func (b *Builder) MaxIterations(n int) *Builder {
	b.maxIterations = n
	return b
}

// IterationMode selects the revisit accounting mode
func (b *Builder) IterationMode(mode IterationMode) *Builder {
	b.iterationMode = mode
	return b
}

// Build validates the definition and returns the immutable pipeline.
// All structural errors are caught here, before any run starts.
func (b *Builder) Build() (*Pipeline, error) {
	if b.id == "" {
		return nil, &ValidationError{Reason: "pipeline ID cannot be empty"}
	}
	if err := b.schema.Validate(); err != nil {
		if ve, ok := err.(*ValidationError); ok {
			ve.PipelineID = b.id
		}
		return nil, err
	}
	if b.maxIterations < 1 {
		return nil, &ValidationError{PipelineID: b.id, Reason: "max iterations must be at least 1"}
	}
	switch b.iterationMode {
	case CountEveryRevisit, CountEntryRevisit:
	default:
		return nil, &ValidationError{PipelineID: b.id,
			Reason: fmt.Sprintf("unknown iteration mode %q", b.iterationMode)}
	}
	if len(b.stages) == 0 {
		return nil, &ValidationError{PipelineID: b.id, Reason: "pipeline has no stages"}
	}

	p := &Pipeline{
		id:            b.id,
		name:          b.name,
		schema:        b.schema,
		stages:        b.stages,
		byID:          make(map[string]*StageDefinition, len(b.stages)),
		flows:         make(map[string]FlowEdge, len(b.stages)),
		groups:        make(map[string][]string),
		primary:       make(map[string]string),
		entry:         b.entry,
		maxIterations: b.maxIterations,
		iterationMode: b.iterationMode,
	}

	for _, stage := range b.stages {
		if stage.ID == "" {
			return nil, &ValidationError{PipelineID: b.id, Reason: "stage ID cannot be empty"}
		}
		if stage.ID == Terminal {
			return nil, &ValidationError{PipelineID: b.id, StageID: stage.ID,
				Reason: "stage ID collides with the terminal marker"}
		}
		if _, dup := p.byID[stage.ID]; dup {
			return nil, &ValidationError{PipelineID: b.id, StageID: stage.ID,
				Reason: "duplicate stage ID"}
		}
		if stage.Handler == nil {
			return nil, &ValidationError{PipelineID: b.id, StageID: stage.ID,
				Reason: "stage handler cannot be nil"}
		}
		if stage.MaxLocalRetries < 0 {
			return nil, &ValidationError{PipelineID: b.id, StageID: stage.ID,
				Reason: "max local retries cannot be negative"}
		}
		if stage.Timeout <= time.Duration(0) {
			return nil, &ValidationError{PipelineID: b.id, StageID: stage.ID,
				Reason: "stage timeout must be positive"}
		}
		if stage.GroupPrimary && stage.ParallelGroup == "" {
			return nil, &ValidationError{PipelineID: b.id, StageID: stage.ID,
				Reason: "group primary set on a stage with no parallel group"}
		}

		p.byID[stage.ID] = stage
		p.flows[stage.ID] = stage.Flow
		if stage.ParallelGroup != "" {
			p.groups[stage.ParallelGroup] = append(p.groups[stage.ParallelGroup], stage.ID)
			if stage.GroupPrimary {
				if existing, taken := p.primary[stage.ParallelGroup]; taken {
					return nil, &ValidationError{PipelineID: b.id, StageID: stage.ID,
						Reason: fmt.Sprintf("group %s already has primary %s", stage.ParallelGroup, existing)}
				}
				p.primary[stage.ParallelGroup] = stage.ID
			}
		}
	}

	for group, members := range p.groups {
		if _, ok := p.primary[group]; !ok {
			return nil, &ValidationError{PipelineID: b.id,
				Reason: fmt.Sprintf("group %s has no primary member", group)}
		}
		if len(members) < 2 {
			return nil, &ValidationError{PipelineID: b.id, StageID: members[0],
				Reason: fmt.Sprintf("group %s has a single member", group)}
		}
	}

	if b.entry == "" {
		return nil, &ValidationError{PipelineID: b.id, Reason: "entry stage not set"}
	}
	if _, ok := p.byID[b.entry]; !ok {
		return nil, &ValidationError{PipelineID: b.id, StageID: b.entry,
			Reason: "entry stage is not a registered stage"}
	}

	// Edge closure. Only stages the router consults need edges: ungrouped
	// stages and group primaries.
	for _, stage := range b.stages {
		routed := stage.ParallelGroup == "" || stage.GroupPrimary
		if !routed {
			if stage.Flow.ApprovedTarget != "" || stage.Flow.RejectedTarget != "" {
				return nil, &ValidationError{PipelineID: b.id, StageID: stage.ID,
					Reason: "flow edges declared on a non-primary group member"}
			}
			continue
		}

		if stage.Flow.ApprovedTarget == "" {
			return nil, &ValidationError{PipelineID: b.id, StageID: stage.ID,
				Reason: "approved target is required"}
		}
		if err := b.checkTarget(p, stage.ID, stage.Flow.ApprovedTarget); err != nil {
			return nil, err
		}

		canReject := stage.CanReject || b.groupCanReject(p, stage)
		if canReject && stage.Flow.RejectedTarget == "" {
			return nil, &ValidationError{PipelineID: b.id, StageID: stage.ID,
				Reason: "rejected target is required for a stage that can reject"}
		}
		if !canReject && stage.Flow.RejectedTarget != "" {
			return nil, &ValidationError{PipelineID: b.id, StageID: stage.ID,
				Reason: "rejected target declared on a stage that cannot reject"}
		}
		if stage.Flow.RejectedTarget != "" {
			if err := b.checkTarget(p, stage.ID, stage.Flow.RejectedTarget); err != nil {
				return nil, err
			}
		}
	}

	return p, nil
}

// groupCanReject reports whether any member of the primary's group can
// reject. The primary's rejected edge covers the whole group.
func (b *Builder) groupCanReject(p *Pipeline, primary *StageDefinition) bool {
	if primary.ParallelGroup == "" {
		return false
	}
	for _, id := range p.groups[primary.ParallelGroup] {
		if p.byID[id].CanReject {
			return true
		}
	}
	return false
}

func (b *Builder) checkTarget(p *Pipeline, stageID, target string) error {
	if target == Terminal {
		return nil
	}
	if _, ok := p.byID[target]; !ok {
		return &ValidationError{PipelineID: b.id, StageID: stageID,
			Reason: fmt.Sprintf("flow target %q is not a registered stage", target)}
	}
	return nil
}
