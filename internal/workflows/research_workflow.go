package workflows

import (
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/musoukun/policyScope/internal/research"
)

// Activity names registered by the worker.
const (
	ActivityRunStage           = "RunStage"
	ActivityPersistReport      = "PersistReport"
	ActivityHandleRunFailure   = "HandleRunFailure"
	ActivityHandleRunCancelled = "HandleRunCancelled"
	ActivityResearchArtifact   = "ResearchArtifact"
	ActivityPublishArtifact    = "PublishArtifact"
	ActivityFetchPartyNews     = "FetchPartyNews"
	ActivityPersistNews        = "PersistNews"
)

// activityGrace leaves room for the stage's own timeout to fire first, so a
// slow backend surfaces as a typed backend timeout.
const activityGrace = 30 * time.Second

type ResearchInput struct {
	RunID        string
	PartyID      string
	PartyName    string
	StageTimeout time.Duration
}

type ResearchResult struct {
	State         string
	FailedStage   int
	FailedStageID string
	Reason        string
	Persisted     bool
}

type RunFailureInput struct {
	RunID   string
	Stage   int
	StageID string
	Name    string
	Reason  string
	Kind    string
	Path    string
}

type RunCancelledInput struct {
	RunID     string
	Completed int
}

type PersistReportInput struct {
	RunID     string
	PartyID   string
	PartyName string
	Report    map[string]any
}

type PersistReportOutput struct {
	Persisted bool
	Error     string
}

func activityOptions(timeout time.Duration) workflow.ActivityOptions {
	if timeout <= 0 {
		timeout = research.DefaultStageTimeout
	}
	return workflow.ActivityOptions{
		StartToCloseTimeout: timeout + activityGrace,
		RetryPolicy: &temporal.RetryPolicy{
			MaximumAttempts: 1,
		},
	}
}

// ResearchWorkflow runs the five research stages as activities, in order,
// and persists the merged report once the run completes.
func ResearchWorkflow(ctx workflow.Context, input ResearchInput) (ResearchResult, error) {
	ctx = workflow.WithActivityOptions(ctx, activityOptions(input.StageTimeout))
	logger := workflow.GetLogger(ctx)

	registry := research.NewRegistry()
	completed := 0
	sequencer := research.NewSequencer(registry, research.WithObserver(func(t research.Transition) {
		switch t.State {
		case research.StateRunning:
			logger.Info("stage started", "run_id", input.RunID, "stage", t.Stage, "stage_id", t.StageID)
		case research.StateFailed:
			logger.Warn("run failed", "run_id", input.RunID, "stage", t.Stage, "reason", t.Reason)
		case research.StateCancelled:
			completed = t.Stage
		}
	}))
	exec := &temporalExecutor{ctx: ctx, runID: input.RunID}
	outcome := sequencer.Run(exec, input.PartyName)

	result := ResearchResult{
		State:         outcome.State.String(),
		FailedStage:   outcome.FailedStage,
		FailedStageID: outcome.FailedStageID,
		Reason:        outcome.Reason,
	}
	switch outcome.State {
	case research.StateComplete:
		var persisted PersistReportOutput
		if err := workflow.ExecuteActivity(ctx, ActivityPersistReport, PersistReportInput{
			RunID:     input.RunID,
			PartyID:   input.PartyID,
			PartyName: research.PartyName(outcome.Report, input.PartyName),
			Report:    outcome.Report,
		}).Get(ctx, &persisted); err != nil {
			logger.Error("failed to persist report", "run_id", input.RunID, "error", err)
			return result, nil
		}
		result.Persisted = persisted.Persisted
	case research.StateFailed:
		failure := RunFailureInput{
			RunID:   input.RunID,
			Stage:   outcome.FailedStage,
			StageID: outcome.FailedStageID,
			Reason:  outcome.Reason,
			Kind:    errorKind(outcome.Err),
			Path:    schemaPath(outcome.Err),
		}
		if stage, err := registry.Stage(outcome.FailedStageID); err == nil {
			failure.Name = stage.Name
		}
		if err := workflow.ExecuteActivity(ctx, ActivityHandleRunFailure, failure).Get(ctx, nil); err != nil {
			logger.Error("failed to persist run failure event", "run_id", input.RunID, "error", err)
		}
	case research.StateCancelled:
		handleCancelled(ctx, input.RunID, completed)
	}
	return result, nil
}

// handleCancelled records the cancellation on a context that survives the
// workflow's own cancellation.
func handleCancelled(ctx workflow.Context, runID string, completed int) {
	disconnected, cancel := workflow.NewDisconnectedContext(ctx)
	defer cancel()
	if err := workflow.ExecuteActivity(disconnected, ActivityHandleRunCancelled, RunCancelledInput{
		RunID:     runID,
		Completed: completed,
	}).Get(disconnected, nil); err != nil {
		workflow.GetLogger(ctx).Error("failed to persist run cancellation", "run_id", runID, "error", err)
	}
}

// temporalExecutor runs each stage as a RunStage activity.
type temporalExecutor struct {
	ctx   workflow.Context
	runID string
}

func (e *temporalExecutor) Execute(stage research.StageContract, in research.StageInput) (map[string]any, error) {
	var output StageOutput
	err := workflow.ExecuteActivity(e.ctx, ActivityRunStage, StageInput{
		RunID:       e.runID,
		Index:       stage.Index,
		StageID:     stage.ID,
		Topic:       in.Topic,
		Accumulated: in.Accumulated,
	}).Get(e.ctx, &output)
	if err != nil {
		return nil, fromActivityError(stage.ID, err)
	}
	return output.Value, nil
}

func (e *temporalExecutor) Cancelled() bool {
	return e.ctx.Err() != nil
}
