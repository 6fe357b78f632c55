package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/musoukun/policyScope/internal/store"
)

type MemoryStore struct {
	mu        sync.RWMutex
	runs      map[string]store.Run
	events    map[string][]store.RunEvent
	runStages map[string]map[string]store.RunStage
	seq       map[string]int64
	parties   map[string]store.Party
	summaries map[string]store.PartySummary
	news      map[string]store.PartyNews
	settings  *store.LLMSettings
}

func New() *MemoryStore {
	return &MemoryStore{
		runs:      map[string]store.Run{},
		events:    map[string][]store.RunEvent{},
		runStages: map[string]map[string]store.RunStage{},
		seq:       map[string]int64{},
		parties:   map[string]store.Party{},
		summaries: map[string]store.PartySummary{},
		news:      map[string]store.PartyNews{},
	}
}

func (m *MemoryStore) CreateRun(ctx context.Context, run store.Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if strings.TrimSpace(run.ID) == "" {
		return fmt.Errorf("run id required")
	}
	if _, exists := m.runs[run.ID]; exists {
		return fmt.Errorf("run %s already exists", run.ID)
	}
	if strings.TrimSpace(run.Status) == "" {
		run.Status = store.RunStatusPending
	}
	m.runs[run.ID] = run
	return nil
}

func (m *MemoryStore) GetRun(ctx context.Context, runID string) (*store.Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	run, ok := m.runs[runID]
	if !ok {
		return nil, nil
	}
	return &run, nil
}

func (m *MemoryStore) ListRuns(ctx context.Context, partyID string) ([]store.Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	results := make([]store.Run, 0, len(m.runs))
	for _, run := range m.runs {
		if partyID != "" && run.PartyID != partyID {
			continue
		}
		results = append(results, run)
	}
	sort.Slice(results, func(i, j int) bool {
		left := parseTime(results[i].CreatedAt)
		right := parseTime(results[j].CreatedAt)
		if left.Equal(right) {
			return results[i].ID < results[j].ID
		}
		return left.After(right)
	})
	return results, nil
}

func (m *MemoryStore) NextSeq(ctx context.Context, runID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq[runID] += 1
	return m.seq[runID], nil
}

func (m *MemoryStore) AppendEvent(ctx context.Context, event store.RunEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	event.Type = store.NormalizeEventType(event.Type)
	if event.Payload == nil {
		event.Payload = map[string]any{}
	}
	for _, existing := range m.events[event.RunID] {
		if existing.Seq == event.Seq {
			return fmt.Errorf("event %s:%d already exists", event.RunID, event.Seq)
		}
	}
	m.events[event.RunID] = append(m.events[event.RunID], event)
	sort.SliceStable(m.events[event.RunID], func(i, j int) bool {
		return m.events[event.RunID][i].Seq < m.events[event.RunID][j].Seq
	})
	if event.Seq > m.seq[event.RunID] {
		m.seq[event.RunID] = event.Seq
	}
	m.applyRunStageLocked(event)
	if run, ok := m.runs[event.RunID]; ok {
		m.runs[event.RunID] = store.ApplyRunEvent(run, event)
	}
	return nil
}

func (m *MemoryStore) ListEvents(ctx context.Context, runID string, afterSeq int64) ([]store.RunEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	events := m.events[runID]
	if afterSeq <= 0 {
		return append([]store.RunEvent{}, events...), nil
	}
	filtered := []store.RunEvent{}
	for _, event := range events {
		if event.Seq > afterSeq {
			filtered = append(filtered, event)
		}
	}
	return filtered, nil
}

func (m *MemoryStore) ListRunStages(ctx context.Context, runID string) ([]store.RunStage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	byID := m.runStages[runID]
	stages := make([]store.RunStage, 0, len(byID))
	for _, stage := range byID {
		stages = append(stages, stage)
	}
	sort.Slice(stages, func(i, j int) bool {
		if stages[i].Index == stages[j].Index {
			return stages[i].Seq < stages[j].Seq
		}
		return stages[i].Index < stages[j].Index
	})
	return stages, nil
}

func (m *MemoryStore) ListParties(ctx context.Context) ([]store.Party, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	results := make([]store.Party, 0, len(m.parties))
	for _, party := range m.parties {
		results = append(results, party)
	}
	sort.Slice(results, func(i, j int) bool { return results[i].ID < results[j].ID })
	return results, nil
}

func (m *MemoryStore) GetParty(ctx context.Context, partyID string) (*store.Party, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	party, ok := m.parties[partyID]
	if !ok {
		return nil, nil
	}
	return &party, nil
}

func (m *MemoryStore) UpsertParty(ctx context.Context, party store.Party) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if strings.TrimSpace(party.ID) == "" {
		return fmt.Errorf("party id required")
	}
	if existing, ok := m.parties[party.ID]; ok && party.CreatedAt == "" {
		party.CreatedAt = existing.CreatedAt
	}
	m.parties[party.ID] = party
	return nil
}

func (m *MemoryStore) UpsertPartySummary(ctx context.Context, summary store.PartySummary) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if strings.TrimSpace(summary.PartyID) == "" {
		return fmt.Errorf("party id required")
	}
	existing, ok := m.summaries[summary.PartyID]
	if !ok {
		summary.SummaryData = cloneMap(summary.SummaryData)
		m.summaries[summary.PartyID] = summary
		return nil
	}
	if summary.SummaryData != nil {
		existing.SummaryData = cloneMap(summary.SummaryData)
	}
	if summary.HTMLContent != "" {
		existing.HTMLContent = summary.HTMLContent
	}
	if summary.RunID != "" {
		existing.RunID = summary.RunID
	}
	if summary.UpdatedAt != "" {
		existing.UpdatedAt = summary.UpdatedAt
	}
	m.summaries[summary.PartyID] = existing
	return nil
}

func (m *MemoryStore) GetPartySummary(ctx context.Context, partyID string) (*store.PartySummary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	summary, ok := m.summaries[partyID]
	if !ok {
		return nil, nil
	}
	summary.SummaryData = cloneMap(summary.SummaryData)
	return &summary, nil
}

func (m *MemoryStore) UpsertPartyNews(ctx context.Context, news store.PartyNews) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if strings.TrimSpace(news.PartyID) == "" {
		return fmt.Errorf("party id required")
	}
	if existing, ok := m.news[news.PartyID]; ok && news.CreatedAt == "" {
		news.CreatedAt = existing.CreatedAt
	}
	news.Items = append([]store.PartyNewsItem{}, news.Items...)
	m.news[news.PartyID] = news
	return nil
}

func (m *MemoryStore) GetPartyNews(ctx context.Context, partyID string) (*store.PartyNews, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	news, ok := m.news[partyID]
	if !ok {
		return nil, nil
	}
	news.Items = append([]store.PartyNewsItem{}, news.Items...)
	return &news, nil
}

func (m *MemoryStore) GetLLMSettings(ctx context.Context) (*store.LLMSettings, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.settings == nil {
		return nil, nil
	}
	copy := *m.settings
	return &copy, nil
}

func (m *MemoryStore) UpsertLLMSettings(ctx context.Context, settings store.LLMSettings) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.settings != nil && settings.CreatedAt == "" {
		settings.CreatedAt = m.settings.CreatedAt
	}
	m.settings = &settings
	return nil
}

func (m *MemoryStore) applyRunStageLocked(event store.RunEvent) {
	stage, ok := store.BuildRunStageFromEvent(event)
	if !ok {
		return
	}
	if m.runStages[event.RunID] == nil {
		m.runStages[event.RunID] = map[string]store.RunStage{}
	}
	existing, exists := m.runStages[event.RunID][stage.StageID]
	if !exists {
		m.runStages[event.RunID][stage.StageID] = stage
		return
	}
	m.runStages[event.RunID][stage.StageID] = store.MergeRunStage(existing, stage)
}

func parseTime(value string) time.Time {
	parsed, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}
	}
	return parsed
}

func cloneMap(input map[string]any) map[string]any {
	if input == nil {
		return nil
	}
	out := make(map[string]any, len(input))
	for key, value := range input {
		out[key] = value
	}
	return out
}
