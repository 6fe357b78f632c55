package workflows

import (
	"errors"
	"strings"
	"time"

	"go.temporal.io/sdk/workflow"

	"github.com/musoukun/policyScope/internal/artifact"
	"github.com/musoukun/policyScope/internal/llm"
	"github.com/musoukun/policyScope/internal/research"
)

type ArtifactInput struct {
	RunID     string
	PartyID   string
	PartyName string
	Timeout   time.Duration
}

type ArtifactResult struct {
	State    string
	Source   string
	Fallback bool
	Reason   string
}

type ArtifactResearchInput struct {
	RunID     string
	PartyName string
}

type PublishArtifactInput struct {
	RunID     string
	PartyID   string
	PartyName string
	Artifact  artifact.Artifact
	Fallback  bool
	Reason    string
}

// ArtifactWorkflow performs the single free-text research call, extracts an
// HTML document from the response and publishes it. Extraction always yields
// a document, so only the backend call can fail the run.
func ArtifactWorkflow(ctx workflow.Context, input ArtifactInput) (ArtifactResult, error) {
	ctx = workflow.WithActivityOptions(ctx, activityOptions(input.Timeout))
	logger := workflow.GetLogger(ctx)

	partyName := strings.TrimSpace(input.PartyName)
	if partyName == "" {
		failRun(ctx, RunFailureInput{RunID: input.RunID, Reason: research.ErrTopicRequired.Error(), Kind: KindError})
		return ArtifactResult{State: research.StateFailed.String(), Reason: research.ErrTopicRequired.Error()}, nil
	}

	var result llm.Result
	err := workflow.ExecuteActivity(ctx, ActivityResearchArtifact, ArtifactResearchInput{
		RunID:     input.RunID,
		PartyName: partyName,
	}).Get(ctx, &result)
	if ctx.Err() != nil {
		handleCancelled(ctx, input.RunID, 0)
		return ArtifactResult{State: research.StateCancelled.String()}, nil
	}
	if err != nil {
		stageErr := fromActivityError(artifact.PromptKey, err)
		failRun(ctx, RunFailureInput{
			RunID:   input.RunID,
			Stage:   1,
			StageID: artifact.PromptKey,
			Name:    "HTML report",
			Reason:  stageErr.Error(),
			Kind:    errorKind(stageErr),
		})
		return ArtifactResult{State: research.StateFailed.String(), Reason: stageErr.Error()}, nil
	}

	extracted, extractErr := artifact.Extract(result.Text, result.ToolCalls)
	out := ArtifactResult{State: research.StateComplete.String(), Source: string(extracted.Source)}
	var failure *artifact.ExtractionFailure
	if errors.As(extractErr, &failure) {
		out.Fallback = true
		out.Reason = failure.Error()
		logger.Warn("no HTML document in backend output", "run_id", input.RunID, "raw_bytes", failure.RawBytes)
	}

	if err := workflow.ExecuteActivity(ctx, ActivityPublishArtifact, PublishArtifactInput{
		RunID:     input.RunID,
		PartyID:   input.PartyID,
		PartyName: partyName,
		Artifact:  extracted,
		Fallback:  out.Fallback,
		Reason:    out.Reason,
	}).Get(ctx, nil); err != nil {
		logger.Error("failed to publish artifact", "run_id", input.RunID, "error", err)
		failRun(ctx, RunFailureInput{RunID: input.RunID, Reason: "publish: " + err.Error(), Kind: KindError})
		return ArtifactResult{State: research.StateFailed.String(), Reason: err.Error()}, nil
	}
	return out, nil
}

func failRun(ctx workflow.Context, input RunFailureInput) {
	if err := workflow.ExecuteActivity(ctx, ActivityHandleRunFailure, input).Get(ctx, nil); err != nil {
		workflow.GetLogger(ctx).Error("failed to persist run failure event", "run_id", input.RunID, "error", err)
	}
}
