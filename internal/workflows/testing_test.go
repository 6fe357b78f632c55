package workflows

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/musoukun/policyScope/internal/llm"
	"github.com/musoukun/policyScope/internal/prompts"
	"github.com/musoukun/policyScope/internal/store"
	"github.com/musoukun/policyScope/internal/store/memory"
)

// scriptedProvider answers from the recorded fixtures unless a request name
// is overridden.
type scriptedProvider struct {
	fixtures  llm.Provider
	mu        sync.Mutex
	overrides map[string]llm.Result
	errs      map[string]error
	calls     []string
	requests  []llm.Request
}

func newScriptedProvider(t *testing.T) *scriptedProvider {
	t.Helper()
	fixtures, err := llm.NewFixtureProvider(filepath.Join("..", "..", "testdata", "fixtures"))
	require.NoError(t, err)
	return &scriptedProvider{
		fixtures:  fixtures,
		overrides: map[string]llm.Result{},
		errs:      map[string]error{},
	}
}

func (p *scriptedProvider) Generate(ctx context.Context, req llm.Request) (llm.Result, error) {
	p.mu.Lock()
	p.calls = append(p.calls, req.Name)
	p.requests = append(p.requests, req)
	result, overridden := p.overrides[req.Name]
	err := p.errs[req.Name]
	p.mu.Unlock()
	if err != nil {
		return llm.Result{}, err
	}
	if overridden {
		return result, nil
	}
	return p.fixtures.Generate(ctx, req)
}

func (p *scriptedProvider) lastRequest() llm.Request {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.requests) == 0 {
		return llm.Request{}
	}
	return p.requests[len(p.requests)-1]
}

func (p *scriptedProvider) Calls() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.calls...)
}

func newTestActivities(t *testing.T, st store.Store, provider llm.Provider, opts ...ResearchActivitiesOption) *ResearchActivities {
	t.Helper()
	catalog, err := prompts.Default()
	require.NoError(t, err)
	base := []ResearchActivitiesOption{
		WithStageTimeout(5 * time.Second),
		WithProviderFactory(func(llm.Config) (llm.Provider, error) { return provider, nil }),
	}
	return NewResearchActivities(st, catalog, llm.Config{}, nil, "", append(base, opts...)...)
}

func newRunStore(t *testing.T, runID string, partyID string, mode string) *memory.MemoryStore {
	t.Helper()
	st := memory.New()
	require.NoError(t, st.CreateRun(context.Background(), store.Run{
		ID:        runID,
		PartyID:   partyID,
		Mode:      mode,
		CreatedAt: time.Now().UTC().Format(time.RFC3339Nano),
	}))
	return st
}

func eventTypes(t *testing.T, st store.Store, runID string) []string {
	t.Helper()
	events, err := st.ListEvents(context.Background(), runID, 0)
	require.NoError(t, err)
	types := make([]string, 0, len(events))
	for _, event := range events {
		types = append(types, event.Type)
	}
	return types
}

var errBackendDown = errors.New("backend unavailable")
