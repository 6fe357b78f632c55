package store

import "context"

type Run struct {
	ID            string
	PartyID       string
	PartyName     string
	Mode          string
	Status        string
	FailedStage   int
	FailedStageID string
	Reason        string
	LastSeq       int64
	CreatedAt     string
	UpdatedAt     string
}

type RunEvent struct {
	RunID     string
	Seq       int64
	Type      string
	Timestamp string
	Source    string
	TraceID   string
	Payload   map[string]any
}

// RunStage is the per-stage view of a run, folded from its events.
type RunStage struct {
	RunID       string
	Index       int
	StageID     string
	Name        string
	Status      string
	Seq         int64
	StartedAt   string
	CompletedAt string
	Error       string
	ErrorKind   string
	Diagnostics map[string]any
}

type Party struct {
	ID          string
	Name        string
	NameEn      string
	FoundedYear int
	Description string
	CreatedAt   string
	UpdatedAt   string
}

// PartySummary holds the latest report and artifact for one party. Empty
// fields on upsert keep the stored value.
type PartySummary struct {
	PartyID     string
	RunID       string
	SummaryData map[string]any
	HTMLContent string
	CreatedAt   string
	UpdatedAt   string
}

type PartyNewsItem struct {
	Title   string `json:"title"`
	Summary string `json:"summary"`
	URL     string `json:"url"`
}

type PartyNews struct {
	PartyID   string
	Items     []PartyNewsItem
	CreatedAt string
	UpdatedAt string
}

type LLMSettings struct {
	Mode      string
	Provider  string
	Model     string
	BaseURL   string
	APIKeyEnc string
	CreatedAt string
	UpdatedAt string
}

// Store getters return (nil, nil) when the row does not exist.
type Store interface {
	CreateRun(ctx context.Context, run Run) error
	GetRun(ctx context.Context, runID string) (*Run, error)
	ListRuns(ctx context.Context, partyID string) ([]Run, error)
	NextSeq(ctx context.Context, runID string) (int64, error)
	AppendEvent(ctx context.Context, event RunEvent) error
	ListEvents(ctx context.Context, runID string, afterSeq int64) ([]RunEvent, error)
	ListRunStages(ctx context.Context, runID string) ([]RunStage, error)
	ListParties(ctx context.Context) ([]Party, error)
	GetParty(ctx context.Context, partyID string) (*Party, error)
	UpsertParty(ctx context.Context, party Party) error
	UpsertPartySummary(ctx context.Context, summary PartySummary) error
	GetPartySummary(ctx context.Context, partyID string) (*PartySummary, error)
	UpsertPartyNews(ctx context.Context, news PartyNews) error
	GetPartyNews(ctx context.Context, partyID string) (*PartyNews, error)
	GetLLMSettings(ctx context.Context) (*LLMSettings, error)
	UpsertLLMSettings(ctx context.Context, settings LLMSettings) error
}
