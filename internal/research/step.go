package research

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/musoukun/policyScope/internal/llm"
	"github.com/musoukun/policyScope/internal/prompts"
)

const DefaultStageTimeout = 3 * time.Minute

// StageInput is what a stage receives: the caller's topic and the report
// accumulated by earlier stages.
type StageInput struct {
	Topic       string         `json:"topic"`
	Accumulated map[string]any `json:"accumulated,omitempty"`
}

// Step runs a single stage against the generative backend.
type Step struct {
	registry  *Registry
	prompts   *prompts.Catalog
	backend   llm.Provider
	timeout   time.Duration
	grounding bool
}

type StepOption func(*Step)

func WithStageTimeout(timeout time.Duration) StepOption {
	return func(s *Step) {
		if timeout > 0 {
			s.timeout = timeout
		}
	}
}

func WithGrounding(enabled bool) StepOption {
	return func(s *Step) {
		s.grounding = enabled
	}
}

func NewStep(registry *Registry, catalog *prompts.Catalog, backend llm.Provider, opts ...StepOption) *Step {
	step := &Step{
		registry: registry,
		prompts:  catalog,
		backend:  backend,
		timeout:  DefaultStageTimeout,
	}
	for _, opt := range opts {
		opt(step)
	}
	return step
}

func (s *Step) Timeout() time.Duration {
	return s.timeout
}

// Run renders the stage instruction, calls the backend under the stage
// timeout and validates the response. Backend failures return *BackendError
// and contract violations return *SchemaError.
func (s *Step) Run(ctx context.Context, stage StageContract, in StageInput) (map[string]any, error) {
	for _, section := range stage.Requires {
		if _, ok := in.Accumulated[section]; !ok {
			return nil, fmt.Errorf("stage %s requires %s from an earlier stage", stage.ID, section)
		}
	}
	rendered, err := s.prompts.Render(stage.Prompt, prompts.Data{
		Topic:     in.Topic,
		PartyName: PartyName(in.Accumulated, in.Topic),
		Report:    in.Accumulated,
	})
	if err != nil {
		return nil, err
	}

	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	result, err := s.backend.Generate(callCtx, llm.Request{
		Name:        stage.ID,
		System:      rendered.System,
		Instruction: rendered.Instruction,
		Schema:      stage.Schema,
		Grounding:   s.grounding,
	})
	if err != nil {
		timedOut := errors.Is(err, context.DeadlineExceeded) || errors.Is(callCtx.Err(), context.DeadlineExceeded)
		return nil, newBackendError(stage.ID, timedOut, err)
	}
	return s.registry.Validate(stage.ID, []byte(result.Text))
}

// LocalExecutor runs stages in-process with a Step. Cancelling ctx cancels
// the run; a ctx deadline fails it like a stage timeout.
type LocalExecutor struct {
	ctx  context.Context
	step *Step
}

func NewLocalExecutor(ctx context.Context, step *Step) *LocalExecutor {
	return &LocalExecutor{ctx: ctx, step: step}
}

func (e *LocalExecutor) Execute(stage StageContract, in StageInput) (map[string]any, error) {
	return e.step.Run(e.ctx, stage, in)
}

func (e *LocalExecutor) Cancelled() bool {
	return errors.Is(e.ctx.Err(), context.Canceled)
}
