package api

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/mock"

	"github.com/musoukun/policyScope/internal/config"
	"github.com/musoukun/policyScope/internal/events"
	"github.com/musoukun/policyScope/internal/store"
	"github.com/musoukun/policyScope/internal/workflows"
)

type MockStore struct {
	mock.Mock
}

func (m *MockStore) CreateRun(ctx context.Context, run store.Run) error {
	args := m.Called(ctx, run)
	return args.Error(0)
}

func (m *MockStore) GetRun(ctx context.Context, runID string) (*store.Run, error) {
	args := m.Called(ctx, runID)
	if value := args.Get(0); value != nil {
		return value.(*store.Run), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockStore) ListRuns(ctx context.Context, partyID string) ([]store.Run, error) {
	args := m.Called(ctx, partyID)
	var result []store.Run
	if value := args.Get(0); value != nil {
		result = value.([]store.Run)
	}
	return result, args.Error(1)
}

func (m *MockStore) NextSeq(ctx context.Context, runID string) (int64, error) {
	args := m.Called(ctx, runID)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockStore) AppendEvent(ctx context.Context, event store.RunEvent) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}

func (m *MockStore) ListEvents(ctx context.Context, runID string, afterSeq int64) ([]store.RunEvent, error) {
	args := m.Called(ctx, runID, afterSeq)
	var result []store.RunEvent
	if value := args.Get(0); value != nil {
		result = value.([]store.RunEvent)
	}
	return result, args.Error(1)
}

func (m *MockStore) ListRunStages(ctx context.Context, runID string) ([]store.RunStage, error) {
	args := m.Called(ctx, runID)
	var result []store.RunStage
	if value := args.Get(0); value != nil {
		result = value.([]store.RunStage)
	}
	return result, args.Error(1)
}

func (m *MockStore) ListParties(ctx context.Context) ([]store.Party, error) {
	args := m.Called(ctx)
	var result []store.Party
	if value := args.Get(0); value != nil {
		result = value.([]store.Party)
	}
	return result, args.Error(1)
}

func (m *MockStore) GetParty(ctx context.Context, partyID string) (*store.Party, error) {
	args := m.Called(ctx, partyID)
	if value := args.Get(0); value != nil {
		return value.(*store.Party), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockStore) UpsertParty(ctx context.Context, party store.Party) error {
	args := m.Called(ctx, party)
	return args.Error(0)
}

func (m *MockStore) UpsertPartySummary(ctx context.Context, summary store.PartySummary) error {
	args := m.Called(ctx, summary)
	return args.Error(0)
}

func (m *MockStore) GetPartySummary(ctx context.Context, partyID string) (*store.PartySummary, error) {
	args := m.Called(ctx, partyID)
	if value := args.Get(0); value != nil {
		return value.(*store.PartySummary), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockStore) UpsertPartyNews(ctx context.Context, news store.PartyNews) error {
	args := m.Called(ctx, news)
	return args.Error(0)
}

func (m *MockStore) GetPartyNews(ctx context.Context, partyID string) (*store.PartyNews, error) {
	args := m.Called(ctx, partyID)
	if value := args.Get(0); value != nil {
		return value.(*store.PartyNews), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockStore) GetLLMSettings(ctx context.Context) (*store.LLMSettings, error) {
	args := m.Called(ctx)
	if value := args.Get(0); value != nil {
		return value.(*store.LLMSettings), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockStore) UpsertLLMSettings(ctx context.Context, settings store.LLMSettings) error {
	args := m.Called(ctx, settings)
	return args.Error(0)
}

type MockBroker struct {
	mock.Mock
}

func (m *MockBroker) Publish(event events.RunEvent) {
	m.Called(event)
}

func (m *MockBroker) Subscribe(ctx context.Context, runID string) <-chan events.RunEvent {
	args := m.Called(ctx, runID)
	if value := args.Get(0); value != nil {
		if ch, ok := value.(chan events.RunEvent); ok {
			return ch
		}
		if ch, ok := value.(<-chan events.RunEvent); ok {
			return ch
		}
	}
	return nil
}

type MockWorkflowService struct {
	mock.Mock
}

func (m *MockWorkflowService) StartResearch(ctx context.Context, input workflows.ResearchInput) error {
	args := m.Called(ctx, input)
	return args.Error(0)
}

func (m *MockWorkflowService) StartArtifact(ctx context.Context, input workflows.ArtifactInput) error {
	args := m.Called(ctx, input)
	return args.Error(0)
}

func (m *MockWorkflowService) StartNews(ctx context.Context, input workflows.NewsInput) error {
	args := m.Called(ctx, input)
	return args.Error(0)
}

func (m *MockWorkflowService) CancelRun(ctx context.Context, runID string) error {
	args := m.Called(ctx, runID)
	return args.Error(0)
}

func newTestServer(t *testing.T, store store.Store, broker Broker, workflows WorkflowService, cfg config.Config, opts ...ServerOption) *httptest.Server {
	t.Helper()
	server := NewServer(store, broker, workflows, cfg, opts...)
	testServer := httptest.NewServer(server.Router())
	t.Cleanup(testServer.Close)
	return testServer
}
