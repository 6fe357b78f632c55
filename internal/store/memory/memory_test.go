package memory

import (
	"context"
	"sync"
	"testing"

	"github.com/musoukun/policyScope/internal/store"
	"github.com/stretchr/testify/require"
)

func TestCreateRun(t *testing.T) {
	ctx := context.Background()
	mem := New()
	run := store.Run{ID: "run-1", PartyID: "ldp", PartyName: "自由民主党", Mode: "structured", CreatedAt: "2026-02-07T00:00:00Z"}

	if err := mem.CreateRun(ctx, run); err != nil {
		t.Fatalf("create run: %v", err)
	}
	stored, err := mem.GetRun(ctx, run.ID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	require.Equal(t, store.RunStatusPending, stored.Status)

	require.Error(t, mem.CreateRun(ctx, run))
	require.Error(t, mem.CreateRun(ctx, store.Run{}))

	missing, err := mem.GetRun(ctx, "missing")
	require.NoError(t, err)
	require.Nil(t, missing)
}

func TestListRuns_FiltersByPartyNewestFirst(t *testing.T) {
	ctx := context.Background()
	mem := New()
	require.NoError(t, mem.CreateRun(ctx, store.Run{ID: "a", PartyID: "ldp", CreatedAt: "2026-02-07T00:00:00Z"}))
	require.NoError(t, mem.CreateRun(ctx, store.Run{ID: "b", PartyID: "ldp", CreatedAt: "2026-02-07T01:00:00Z"}))
	require.NoError(t, mem.CreateRun(ctx, store.Run{ID: "c", PartyID: "cdp", CreatedAt: "2026-02-07T02:00:00Z"}))

	runs, err := mem.ListRuns(ctx, "ldp")
	require.NoError(t, err)
	require.Len(t, runs, 2)
	require.Equal(t, "b", runs[0].ID)
	require.Equal(t, "a", runs[1].ID)

	all, err := mem.ListRuns(ctx, "")
	require.NoError(t, err)
	require.Len(t, all, 3)
}

func TestAppendEvent_FoldsStagesAndRunState(t *testing.T) {
	ctx := context.Background()
	mem := New()
	runID := "run-1"
	require.NoError(t, mem.CreateRun(ctx, store.Run{ID: runID, CreatedAt: "now"}))

	events := []store.RunEvent{
		{RunID: runID, Seq: 1, Type: store.EventRunStarted},
		{RunID: runID, Seq: 2, Type: store.EventStageStarted, Payload: map[string]any{"stage": 1, "stage_id": "breaking-news-basic-info"}},
		{RunID: runID, Seq: 3, Type: store.EventStageCompleted, Payload: map[string]any{"stage": 1, "stage_id": "breaking-news-basic-info"}},
		{RunID: runID, Seq: 4, Type: store.EventStageStarted, Payload: map[string]any{"stage": 2, "stage_id": "policy-analysis"}},
		{RunID: runID, Seq: 5, Type: "stage_failed", Payload: map[string]any{"stage": 2, "stage_id": "policy-analysis", "error": "out of range", "error_kind": "schema"}},
		{RunID: runID, Seq: 6, Type: store.EventRunFailed, Payload: map[string]any{"failed_stage": 2, "failed_stage_id": "policy-analysis", "reason": "out of range"}},
	}
	for _, event := range events {
		require.NoError(t, mem.AppendEvent(ctx, event))
	}

	stages, err := mem.ListRunStages(ctx, runID)
	require.NoError(t, err)
	require.Len(t, stages, 2)
	require.Equal(t, store.RunStatusComplete, stages[0].Status)
	require.Equal(t, store.RunStatusFailed, stages[1].Status)
	require.Equal(t, "schema", stages[1].ErrorKind)

	run, err := mem.GetRun(ctx, runID)
	require.NoError(t, err)
	require.Equal(t, store.RunStatusFailed, run.Status)
	require.Equal(t, 2, run.FailedStage)
	require.Equal(t, int64(6), run.LastSeq)

	replay, err := mem.ListEvents(ctx, runID, 4)
	require.NoError(t, err)
	require.Len(t, replay, 2)
	require.Equal(t, "stage.failed", replay[0].Type)

	require.Error(t, mem.AppendEvent(ctx, store.RunEvent{RunID: runID, Seq: 3, Type: store.EventRunCompleted}))
}

func TestNextSeq_AfterAppendedEvents(t *testing.T) {
	ctx := context.Background()
	mem := New()
	require.NoError(t, mem.AppendEvent(ctx, store.RunEvent{RunID: "run-1", Seq: 7, Type: store.EventRunStarted}))
	seq, err := mem.NextSeq(ctx, "run-1")
	require.NoError(t, err)
	require.Equal(t, int64(8), seq)
}

func TestNextSeq_Concurrent(t *testing.T) {
	ctx := context.Background()
	mem := New()
	var wg sync.WaitGroup
	results := make(chan int64, 50)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			seq, err := mem.NextSeq(ctx, "run-1")
			if err == nil {
				results <- seq
			}
		}()
	}
	wg.Wait()
	close(results)
	seen := map[int64]bool{}
	for seq := range results {
		require.False(t, seen[seq], "duplicate seq %d", seq)
		seen[seq] = true
	}
	require.Len(t, seen, 50)
}

func TestPartySummary_UpsertKeepsUnsetFields(t *testing.T) {
	ctx := context.Background()
	mem := New()
	report := map[string]any{"basicInformation": map[string]any{"partyName": "サンプル党"}}
	require.NoError(t, mem.UpsertPartySummary(ctx, store.PartySummary{PartyID: "ldp", RunID: "run-1", SummaryData: report, CreatedAt: "t0", UpdatedAt: "t0"}))
	require.NoError(t, mem.UpsertPartySummary(ctx, store.PartySummary{PartyID: "ldp", HTMLContent: "<!DOCTYPE html><html></html>", UpdatedAt: "t1"}))

	summary, err := mem.GetPartySummary(ctx, "ldp")
	require.NoError(t, err)
	require.Equal(t, report, summary.SummaryData)
	require.Equal(t, "<!DOCTYPE html><html></html>", summary.HTMLContent)
	require.Equal(t, "run-1", summary.RunID)
	require.Equal(t, "t0", summary.CreatedAt)
	require.Equal(t, "t1", summary.UpdatedAt)

	summary.SummaryData["mutated"] = true
	again, err := mem.GetPartySummary(ctx, "ldp")
	require.NoError(t, err)
	require.NotContains(t, again.SummaryData, "mutated")

	missing, err := mem.GetPartySummary(ctx, "cdp")
	require.NoError(t, err)
	require.Nil(t, missing)
}

func TestPartyNews_Replace(t *testing.T) {
	ctx := context.Background()
	mem := New()
	require.NoError(t, mem.UpsertPartyNews(ctx, store.PartyNews{PartyID: "jcp", Items: []store.PartyNewsItem{{Title: "a"}}, CreatedAt: "t0"}))
	require.NoError(t, mem.UpsertPartyNews(ctx, store.PartyNews{PartyID: "jcp", Items: []store.PartyNewsItem{{Title: "b"}, {Title: "c"}}}))

	news, err := mem.GetPartyNews(ctx, "jcp")
	require.NoError(t, err)
	require.Len(t, news.Items, 2)
	require.Equal(t, "t0", news.CreatedAt)
	require.Error(t, mem.UpsertPartyNews(ctx, store.PartyNews{}))
}

func TestParties(t *testing.T) {
	ctx := context.Background()
	mem := New()
	require.NoError(t, mem.UpsertParty(ctx, store.Party{ID: "reiwa", Name: "れいわ新選組", CreatedAt: "t0"}))
	require.NoError(t, mem.UpsertParty(ctx, store.Party{ID: "cdp", Name: "立憲民主党"}))
	require.NoError(t, mem.UpsertParty(ctx, store.Party{ID: "reiwa", Name: "れいわ新選組", Description: "updated"}))

	parties, err := mem.ListParties(ctx)
	require.NoError(t, err)
	require.Len(t, parties, 2)
	require.Equal(t, "cdp", parties[0].ID)

	party, err := mem.GetParty(ctx, "reiwa")
	require.NoError(t, err)
	require.Equal(t, "updated", party.Description)
	require.Equal(t, "t0", party.CreatedAt)
}

func TestLLMSettings(t *testing.T) {
	ctx := context.Background()
	mem := New()
	settings, err := mem.GetLLMSettings(ctx)
	require.NoError(t, err)
	require.Nil(t, settings)

	require.NoError(t, mem.UpsertLLMSettings(ctx, store.LLMSettings{Mode: "remote", Provider: "gemini", CreatedAt: "t0"}))
	require.NoError(t, mem.UpsertLLMSettings(ctx, store.LLMSettings{Mode: "remote", Provider: "openai", Model: "gpt-4o"}))
	settings, err = mem.GetLLMSettings(ctx)
	require.NoError(t, err)
	require.Equal(t, "openai", settings.Provider)
	require.Equal(t, "t0", settings.CreatedAt)
}
