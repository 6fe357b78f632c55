package workflows

import (
	"context"
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"
	tests "go.temporal.io/sdk/testsuite"

	"github.com/musoukun/policyScope/internal/llm"
	"github.com/musoukun/policyScope/internal/research"
	"github.com/musoukun/policyScope/internal/store"
	"github.com/musoukun/policyScope/internal/store/memory"
)

type ResearchWorkflowTestSuite struct {
	suite.Suite
	tests.WorkflowTestSuite
	env        *tests.TestWorkflowEnvironment
	store      *memory.MemoryStore
	provider   *scriptedProvider
	activities *ResearchActivities
}

const testRunID = "8d7a3f52-4a40-4c8e-9a5b-3b1f7f0c2a11"

func (s *ResearchWorkflowTestSuite) SetupTest() {
	s.env = s.NewTestWorkflowEnvironment()
	s.store = newRunStore(s.T(), testRunID, "ldp", ModeStructured)
	s.provider = newScriptedProvider(s.T())
	s.activities = newTestActivities(s.T(), s.store, s.provider)
	s.env.RegisterWorkflow(ResearchWorkflow)
	s.env.RegisterActivity(s.activities)
}

func (s *ResearchWorkflowTestSuite) TearDownTest() {
	s.env.AssertExpectations(s.T())
}

func (s *ResearchWorkflowTestSuite) run(partyName string) ResearchResult {
	s.env.ExecuteWorkflow(ResearchWorkflow, ResearchInput{RunID: testRunID, PartyID: "ldp", PartyName: partyName})
	s.True(s.env.IsWorkflowCompleted())
	s.NoError(s.env.GetWorkflowError())
	var result ResearchResult
	s.NoError(s.env.GetWorkflowResult(&result))
	return result
}

func (s *ResearchWorkflowTestSuite) runStatus() *store.Run {
	run, err := s.store.GetRun(context.Background(), testRunID)
	s.Require().NoError(err)
	s.Require().NotNil(run)
	return run
}

func (s *ResearchWorkflowTestSuite) TestCompletesAndPersistsReport() {
	result := s.run("自由民主党")

	s.Equal("complete", result.State)
	s.True(result.Persisted)
	s.Equal([]string{
		research.StageBreakingNewsBasicInfo,
		research.StagePolicyAnalysis,
		research.StageSupportBase,
		research.StageInternationalCurrentStatus,
		research.StageEvaluationSources,
	}, s.provider.Calls())

	summary, err := s.store.GetPartySummary(context.Background(), "ldp")
	s.Require().NoError(err)
	s.Require().NotNil(summary)
	s.Equal(testRunID, summary.RunID)
	for _, section := range research.NewRegistry().CompleteSections() {
		s.Contains(summary.SummaryData, section)
	}

	s.Equal(store.RunStatusComplete, s.runStatus().Status)
	stages, err := s.store.ListRunStages(context.Background(), testRunID)
	s.Require().NoError(err)
	s.Len(stages, 5)
	for _, stage := range stages {
		s.Equal(store.RunStatusComplete, stage.Status)
	}
	types := eventTypes(s.T(), s.store, testRunID)
	s.Contains(types, store.EventReportPersisted)
	s.Equal(store.EventRunCompleted, types[len(types)-1])
}

func (s *ResearchWorkflowTestSuite) TestSchemaErrorStopsAtFailingStage() {
	s.provider.overrides[research.StagePolicyAnalysis] = llm.Result{Text: `{"policyAnalysis":{}}`}

	result := s.run("自由民主党")

	s.Equal("failed", result.State)
	s.Equal(2, result.FailedStage)
	s.Equal(research.StagePolicyAnalysis, result.FailedStageID)
	s.NotEmpty(result.Reason)
	s.False(result.Persisted)
	s.Equal([]string{research.StageBreakingNewsBasicInfo, research.StagePolicyAnalysis}, s.provider.Calls())

	summary, err := s.store.GetPartySummary(context.Background(), "ldp")
	s.NoError(err)
	s.Nil(summary)

	run := s.runStatus()
	s.Equal(store.RunStatusFailed, run.Status)
	s.Equal(2, run.FailedStage)
	s.Equal(research.StagePolicyAnalysis, run.FailedStageID)

	stages, err := s.store.ListRunStages(context.Background(), testRunID)
	s.Require().NoError(err)
	s.Require().Len(stages, 2)
	s.Equal(store.RunStatusFailed, stages[1].Status)
	s.Equal(KindSchema, stages[1].ErrorKind)
}

func (s *ResearchWorkflowTestSuite) TestBackendErrorFailsRun() {
	s.provider.errs[research.StageSupportBase] = errBackendDown

	result := s.run("自由民主党")

	s.Equal("failed", result.State)
	s.Equal(3, result.FailedStage)
	s.Contains(result.Reason, "backend call failed")
	s.Len(s.provider.Calls(), 3)

	stages, err := s.store.ListRunStages(context.Background(), testRunID)
	s.Require().NoError(err)
	s.Require().Len(stages, 3)
	s.Equal(KindBackend, stages[2].ErrorKind)
}

func (s *ResearchWorkflowTestSuite) TestEmptyPartyNameFailsBeforeAnyStage() {
	result := s.run("   ")

	s.Equal("failed", result.State)
	s.Equal(0, result.FailedStage)
	s.Equal(research.ErrTopicRequired.Error(), result.Reason)
	s.Empty(s.provider.Calls())
	s.Equal(store.RunStatusFailed, s.runStatus().Status)
}

func (s *ResearchWorkflowTestSuite) TestCancelledAfterSecondStage() {
	s.env.OnActivity(ActivityRunStage, mock.Anything, mock.Anything).Return(
		func(ctx context.Context, input StageInput) (StageOutput, error) {
			output, err := s.activities.RunStage(ctx, input)
			if input.Index == 2 {
				s.env.CancelWorkflow()
			}
			return output, err
		},
	)

	result := s.run("自由民主党")

	s.Equal("cancelled", result.State)
	s.False(result.Persisted)
	s.NotContains(s.provider.Calls(), research.StageSupportBase)

	summary, err := s.store.GetPartySummary(context.Background(), "ldp")
	s.NoError(err)
	s.Nil(summary)
	s.Equal(store.RunStatusCancelled, s.runStatus().Status)
}

func TestResearchWorkflowTestSuite(t *testing.T) {
	suite.Run(t, new(ResearchWorkflowTestSuite))
}
