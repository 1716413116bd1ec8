package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// envPrefix is the prefix for environment overrides of definition values.
// DRAFTFLOW_MAX__ITERATIONS overrides max_iterations; a double underscore
// separates nesting levels.
const envPrefix = "DRAFTFLOW_"

// Definition is a pipeline declaration as loaded from YAML. Handlers are
// bound in code; everything structural lives in the file.
type Definition struct {
	ID            string            `koanf:"id"`
	Name          string            `koanf:"name"`
	Entry         string            `koanf:"entry"`
	MaxIterations int               `koanf:"max_iterations"`
	IterationMode string            `koanf:"iteration_mode"`
	Fields        map[string]string `koanf:"fields"`
	Stages        []StageSpec       `koanf:"stages"`
}

// StageSpec is one stage declaration
type StageSpec struct {
	ID              string `koanf:"id"`
	CanReject       bool   `koanf:"can_reject"`
	MaxLocalRetries int    `koanf:"max_local_retries"`
	TimeoutSeconds  int    `koanf:"timeout_seconds"`
	Group           string `koanf:"group"`
	Primary         bool   `koanf:"primary"`
	Approved        string `koanf:"approved"`
	Rejected        string `koanf:"rejected"`
}

// LoadDefinition reads a pipeline definition from a YAML file, with
// environment variables under the DRAFTFLOW_ prefix taking precedence.
func LoadDefinition(path string) (*Definition, error) {
	k := koanf.New(".")

	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("failed to load pipeline definition %s: %w", path, err)
	}

	if err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, envPrefix)), "__", ".", -1)
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment overrides: %w", err)
	}

	var def Definition
	if err := k.Unmarshal("", &def); err != nil {
		return nil, fmt.Errorf("failed to unmarshal pipeline definition: %w", err)
	}

	return &def, nil
}

// Build binds handlers to the declared stages and validates the result.
// Every declared stage needs a handler; extra handlers are an error too,
// since they indicate a definition and code that drifted apart.
func (d *Definition) Build(handlers map[string]StageHandler) (*Pipeline, error) {
	for id := range handlers {
		if !d.hasStage(id) {
			return nil, &ValidationError{PipelineID: d.ID, StageID: id,
				Reason: "handler bound to a stage the definition does not declare"}
		}
	}

	b := NewPipeline(d.ID, d.Name).Entry(d.Entry)

	if d.MaxIterations > 0 {
		b.MaxIterations(d.MaxIterations)
	}
	if d.IterationMode != "" {
		b.IterationMode(IterationMode(d.IterationMode))
	}

	for name, policy := range d.Fields {
		b.Field(name, MergePolicy(policy))
	}

	for _, spec := range d.Stages {
		handler, ok := handlers[spec.ID]
		if !ok {
			return nil, &ValidationError{PipelineID: d.ID, StageID: spec.ID,
				Reason: "no handler bound for declared stage"}
		}
		b.AddStage(spec.ID, handler, spec.options()...)
	}

	return b.Build()
}

// Validate checks the definition's structure without real handlers
func (d *Definition) Validate() error {
	handlers := make(map[string]StageHandler, len(d.Stages))
	for _, spec := range d.Stages {
		handlers[spec.ID] = StageHandlerFunc(noopHandler)
	}
	_, err := d.Build(handlers)
	return err
}

func (d *Definition) hasStage(id string) bool {
	for _, spec := range d.Stages {
		if spec.ID == id {
			return true
		}
	}
	return false
}

func (s *StageSpec) options() []StageOption {
	opts := []StageOption{
		WithFlow(normalizeTarget(s.Approved), normalizeTarget(s.Rejected)),
	}
	if s.CanReject {
		opts = append(opts, WithCanReject())
	}
	if s.MaxLocalRetries > 0 {
		opts = append(opts, WithMaxLocalRetries(s.MaxLocalRetries))
	}
	if s.TimeoutSeconds > 0 {
		opts = append(opts, WithTimeout(time.Duration(s.TimeoutSeconds)*time.Second))
	}
	if s.Group != "" {
		opts = append(opts, WithParallelGroup(s.Group))
	}
	if s.Primary {
		opts = append(opts, WithGroupPrimary())
	}
	return opts
}

// normalizeTarget maps the "terminal" keyword used in definition files to
// the reserved terminal marker
func normalizeTarget(target string) string {
	if strings.EqualFold(target, "terminal") {
		return Terminal
	}
	return target
}

func noopHandler(_ context.Context, _ *Snapshot) (*StageResult, error) {
	return Approve(nil), nil
}
