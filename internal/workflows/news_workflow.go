package workflows

import (
	"strings"
	"time"

	"go.temporal.io/sdk/workflow"

	"github.com/musoukun/policyScope/internal/research"
)

type NewsInput struct {
	RunID     string
	PartyID   string
	PartyName string
	Timeout   time.Duration
}

type NewsResult struct {
	State  string
	Items  int
	Reason string
}

type FetchNewsInput struct {
	RunID     string
	PartyName string
}

type FetchNewsOutput struct {
	Items []research.NewsItem
}

type PersistNewsInput struct {
	RunID   string
	PartyID string
	Items   []research.NewsItem
}

// NewsWorkflow fetches the latest news for a party and replaces the stored
// list.
func NewsWorkflow(ctx workflow.Context, input NewsInput) (NewsResult, error) {
	ctx = workflow.WithActivityOptions(ctx, activityOptions(input.Timeout))
	logger := workflow.GetLogger(ctx)

	partyName := strings.TrimSpace(input.PartyName)
	if partyName == "" {
		failRun(ctx, RunFailureInput{RunID: input.RunID, Reason: research.ErrTopicRequired.Error(), Kind: KindError})
		return NewsResult{State: research.StateFailed.String(), Reason: research.ErrTopicRequired.Error()}, nil
	}

	var fetched FetchNewsOutput
	err := workflow.ExecuteActivity(ctx, ActivityFetchPartyNews, FetchNewsInput{
		RunID:     input.RunID,
		PartyName: partyName,
	}).Get(ctx, &fetched)
	if ctx.Err() != nil {
		handleCancelled(ctx, input.RunID, 0)
		return NewsResult{State: research.StateCancelled.String()}, nil
	}
	if err != nil {
		stageErr := fromActivityError(research.ContractNews, err)
		failRun(ctx, RunFailureInput{
			RunID:   input.RunID,
			Stage:   1,
			StageID: research.ContractNews,
			Name:    "News",
			Reason:  stageErr.Error(),
			Kind:    errorKind(stageErr),
			Path:    schemaPath(stageErr),
		})
		return NewsResult{State: research.StateFailed.String(), Reason: stageErr.Error()}, nil
	}

	if err := workflow.ExecuteActivity(ctx, ActivityPersistNews, PersistNewsInput{
		RunID:   input.RunID,
		PartyID: input.PartyID,
		Items:   fetched.Items,
	}).Get(ctx, nil); err != nil {
		logger.Error("failed to persist news", "run_id", input.RunID, "error", err)
		failRun(ctx, RunFailureInput{RunID: input.RunID, Reason: "persist news: " + err.Error(), Kind: KindError})
		return NewsResult{State: research.StateFailed.String(), Reason: err.Error()}, nil
	}
	return NewsResult{State: research.StateComplete.String(), Items: len(fetched.Items)}, nil
}
