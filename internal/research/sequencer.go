package research

import (
	"errors"
	"strings"
)

type State int

const (
	StatePending State = iota
	StateRunning
	StateFailed
	StateComplete
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateRunning:
		return "running"
	case StateFailed:
		return "failed"
	case StateComplete:
		return "complete"
	case StateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Transition is reported to observers on every state change. Stage is the
// 1-based stage index; 0 before any stage has started.
type Transition struct {
	State   State
	Stage   int
	StageID string
	Reason  string
	Err     error
}

type Observer func(Transition)

// Outcome is the single result of a run. Report is set only when State is
// StateComplete.
type Outcome struct {
	State         State
	FailedStage   int
	FailedStageID string
	Reason        string
	Err           error
	Report        map[string]any
}

func (o Outcome) Complete() bool {
	return o.State == StateComplete
}

// StageExecutor runs one stage. Implementations decide where the stage runs:
// in-process or as a durable activity.
type StageExecutor interface {
	Execute(stage StageContract, in StageInput) (map[string]any, error)
	Cancelled() bool
}

// Sequencer runs the registry's stages strictly in order, threading the
// accumulated report through them. It holds no clocks or goroutines, so it is
// safe to drive from workflow code.
type Sequencer struct {
	registry  *Registry
	observers []Observer
}

type SequencerOption func(*Sequencer)

func WithObserver(observer Observer) SequencerOption {
	return func(s *Sequencer) {
		if observer != nil {
			s.observers = append(s.observers, observer)
		}
	}
}

func NewSequencer(registry *Registry, opts ...SequencerOption) *Sequencer {
	sequencer := &Sequencer{registry: registry}
	for _, opt := range opts {
		opt(sequencer)
	}
	return sequencer
}

var ErrTopicRequired = errors.New("topic required")

func (s *Sequencer) Run(exec StageExecutor, topic string) Outcome {
	s.notify(Transition{State: StatePending})
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return s.fail(0, "", ErrTopicRequired)
	}

	stages := s.registry.Stages()
	outputs := make([]StageOutput, 0, len(stages))
	accumulated := map[string]any{}
	for _, stage := range stages {
		if exec.Cancelled() {
			return s.cancel(stage.Index - 1)
		}
		s.notify(Transition{State: StateRunning, Stage: stage.Index, StageID: stage.ID})
		value, err := exec.Execute(stage, StageInput{Topic: topic, Accumulated: accumulated})
		if err != nil {
			if exec.Cancelled() {
				return s.cancel(stage.Index)
			}
			return s.fail(stage.Index, stage.ID, err)
		}
		outputs = append(outputs, StageOutput{Stage: stage.ID, Value: value})
		merged, err := Merge(outputs...)
		if err != nil {
			return s.fail(stage.Index, stage.ID, err)
		}
		accumulated = merged
	}

	if err := s.registry.ValidateComplete(accumulated); err != nil {
		last := stages[len(stages)-1]
		return s.fail(last.Index, last.ID, err)
	}
	s.notify(Transition{State: StateComplete, Stage: len(stages)})
	return Outcome{State: StateComplete, Report: accumulated}
}

func (s *Sequencer) fail(index int, stageID string, err error) Outcome {
	s.notify(Transition{State: StateFailed, Stage: index, StageID: stageID, Reason: err.Error(), Err: err})
	return Outcome{
		State:         StateFailed,
		FailedStage:   index,
		FailedStageID: stageID,
		Reason:        err.Error(),
		Err:           err,
	}
}

func (s *Sequencer) cancel(completed int) Outcome {
	s.notify(Transition{State: StateCancelled, Stage: completed})
	return Outcome{State: StateCancelled}
}

func (s *Sequencer) notify(t Transition) {
	for _, observer := range s.observers {
		observer(t)
	}
}
