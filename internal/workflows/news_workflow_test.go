package workflows

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	tests "go.temporal.io/sdk/testsuite"

	"github.com/musoukun/policyScope/internal/llm"
	"github.com/musoukun/policyScope/internal/research"
	"github.com/musoukun/policyScope/internal/store"
)

func runNewsWorkflow(t *testing.T, st store.Store, provider llm.Provider, input NewsInput) NewsResult {
	t.Helper()
	var testSuite tests.WorkflowTestSuite
	env := testSuite.NewTestWorkflowEnvironment()
	env.RegisterWorkflow(NewsWorkflow)
	env.RegisterActivity(newTestActivities(t, st, provider))
	env.ExecuteWorkflow(NewsWorkflow, input)
	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())
	var result NewsResult
	require.NoError(t, env.GetWorkflowResult(&result))
	return result
}

func TestNewsWorkflow_StoresItems(t *testing.T) {
	st := newRunStore(t, testRunID, "dpfp", ModeNews)
	provider := newScriptedProvider(t)

	result := runNewsWorkflow(t, st, provider, NewsInput{RunID: testRunID, PartyID: "dpfp", PartyName: "国民民主党"})

	require.Equal(t, "complete", result.State)
	require.Equal(t, 2, result.Items)
	news, err := st.GetPartyNews(context.Background(), "dpfp")
	require.NoError(t, err)
	require.NotNil(t, news)
	require.Len(t, news.Items, 2)
	require.Equal(t, "https://example.jp/news/1", news.Items[0].URL)

	run, err := st.GetRun(context.Background(), testRunID)
	require.NoError(t, err)
	require.Equal(t, store.RunStatusComplete, run.Status)
}

func TestNewsWorkflow_SchemaErrorKeepsPreviousNews(t *testing.T) {
	st := newRunStore(t, testRunID, "sanseito", ModeNews)
	require.NoError(t, st.UpsertPartyNews(context.Background(), store.PartyNews{
		PartyID: "sanseito",
		Items:   []store.PartyNewsItem{{Title: "old", Summary: "old", URL: "https://example.jp/old"}},
	}))
	provider := newScriptedProvider(t)
	provider.overrides[research.ContractNews] = llm.Result{Text: `{"items":[{"title":"missing fields"}]}`}

	result := runNewsWorkflow(t, st, provider, NewsInput{RunID: testRunID, PartyID: "sanseito", PartyName: "参政党"})

	require.Equal(t, "failed", result.State)
	news, err := st.GetPartyNews(context.Background(), "sanseito")
	require.NoError(t, err)
	require.Len(t, news.Items, 1)
	require.Equal(t, "old", news.Items[0].Title)

	stages, err := st.ListRunStages(context.Background(), testRunID)
	require.NoError(t, err)
	require.Len(t, stages, 1)
	require.Equal(t, KindSchema, stages[0].ErrorKind)
}
