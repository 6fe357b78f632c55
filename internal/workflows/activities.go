package workflows

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/musoukun/policyScope/internal/artifact"
	"github.com/musoukun/policyScope/internal/llm"
	"github.com/musoukun/policyScope/internal/metrics"
	"github.com/musoukun/policyScope/internal/parties"
	"github.com/musoukun/policyScope/internal/prompts"
	"github.com/musoukun/policyScope/internal/research"
	"github.com/musoukun/policyScope/internal/secrets"
	"github.com/musoukun/policyScope/internal/store"
)

const eventSource = "worker"

// Run modes, recorded on runs and used as metric labels.
const (
	ModeStructured = "structured"
	ModeHTML       = "html"
	ModeNews       = "news"
)

type StageInput struct {
	RunID       string
	Index       int
	StageID     string
	Topic       string
	Accumulated map[string]any
}

type StageOutput struct {
	Value map[string]any
}

type ResearchActivities struct {
	store          store.Store
	defaultConfig  llm.Config
	sealer         *secrets.Sealer
	server         string
	httpClient     *http.Client
	requestTimeout time.Duration
	registry       *research.Registry
	prompts        *prompts.Catalog
	stageTimeout   time.Duration
	grounding      bool
	logger         *zap.Logger
	newProvider    func(llm.Config) (llm.Provider, error)

	mu             sync.Mutex
	providerConfig llm.Config
	provider       llm.Provider
}

type ResearchActivitiesOption func(*ResearchActivities)

func WithStageTimeout(timeout time.Duration) ResearchActivitiesOption {
	return func(a *ResearchActivities) {
		if timeout > 0 {
			a.stageTimeout = timeout
		}
	}
}

func WithGrounding(enabled bool) ResearchActivitiesOption {
	return func(a *ResearchActivities) { a.grounding = enabled }
}

func WithPrompts(catalog *prompts.Catalog) ResearchActivitiesOption {
	return func(a *ResearchActivities) {
		if catalog != nil {
			a.prompts = catalog
		}
	}
}

func WithLogger(logger *zap.Logger) ResearchActivitiesOption {
	return func(a *ResearchActivities) {
		if logger != nil {
			a.logger = logger
		}
	}
}

func WithProviderFactory(factory func(llm.Config) (llm.Provider, error)) ResearchActivitiesOption {
	return func(a *ResearchActivities) {
		if factory != nil {
			a.newProvider = factory
		}
	}
}

func WithHTTPClient(client *http.Client) ResearchActivitiesOption {
	return func(a *ResearchActivities) {
		if client != nil {
			a.httpClient = client
		}
	}
}

// NewResearchActivities builds the worker's activities. Events are posted to
// serverURL so live subscribers see them; when the server is unreachable
// they are appended to the store directly.
func NewResearchActivities(store store.Store, catalog *prompts.Catalog, defaultConfig llm.Config, sealer *secrets.Sealer, serverURL string, opts ...ResearchActivitiesOption) *ResearchActivities {
	activities := &ResearchActivities{
		store:          store,
		defaultConfig:  defaultConfig,
		sealer:         sealer,
		server:         strings.TrimRight(serverURL, "/"),
		httpClient:     &http.Client{Timeout: 30 * time.Second},
		requestTimeout: 10 * time.Second,
		registry:       research.NewRegistry(),
		prompts:        catalog,
		stageTimeout:   research.DefaultStageTimeout,
		logger:         zap.NewNop(),
		newProvider:    llm.NewProvider,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(activities)
		}
	}
	return activities
}

// RunStage executes one research stage. Failures are returned as
// non-retryable application errors typed SchemaError or BackendError.
func (a *ResearchActivities) RunStage(ctx context.Context, input StageInput) (StageOutput, error) {
	if strings.TrimSpace(input.RunID) == "" {
		return StageOutput{}, toApplicationError(errors.New("run_id required"))
	}
	stage, err := a.registry.Stage(input.StageID)
	if err != nil {
		return StageOutput{}, toApplicationError(err)
	}
	a.emitBestEffort(ctx, input.RunID, store.EventStageStarted, stagePayload(stage.Index, stage.ID, stage.Name))

	started := time.Now()
	provider, err := a.resolveProvider(ctx)
	if err != nil {
		backendErr := &research.BackendError{Stage: stage.ID, Message: err.Error(), Err: err}
		a.observeStage(stage.ID, started, backendErr)
		return StageOutput{}, toApplicationError(backendErr)
	}
	step := research.NewStep(a.registry, a.prompts, provider,
		research.WithStageTimeout(a.stageTimeout),
		research.WithGrounding(a.grounding),
	)
	value, err := step.Run(ctx, stage, research.StageInput{Topic: input.Topic, Accumulated: input.Accumulated})
	a.observeStage(stage.ID, started, err)
	if err != nil {
		a.logger.Warn("stage failed", zap.String("run_id", input.RunID), zap.String("stage_id", stage.ID), zap.Error(err))
		return StageOutput{}, toApplicationError(err)
	}
	a.emitBestEffort(ctx, input.RunID, store.EventStageCompleted, stagePayload(stage.Index, stage.ID, stage.Name))
	return StageOutput{Value: value}, nil
}

func (a *ResearchActivities) observeStage(stageID string, started time.Time, err error) {
	outcome := "complete"
	var schemaErr *research.SchemaError
	var backendErr *research.BackendError
	switch {
	case err == nil:
	case errors.As(err, &schemaErr):
		outcome = KindSchema
		metrics.SchemaFailures.WithLabelValues(stageID).Inc()
	case errors.As(err, &backendErr):
		outcome = KindBackend
		metrics.BackendFailures.WithLabelValues(stageID, strconv.FormatBool(backendErr.Timeout)).Inc()
	default:
		outcome = KindError
	}
	metrics.StageDuration.WithLabelValues(stageID, outcome).Observe(time.Since(started).Seconds())
}

func (a *ResearchActivities) HandleRunFailure(ctx context.Context, input RunFailureInput) error {
	if strings.TrimSpace(input.RunID) == "" {
		return errors.New("run_id required")
	}
	reason := strings.TrimSpace(input.Reason)
	if reason == "" {
		reason = "unknown workflow activity error"
	}
	if input.Stage > 0 {
		payload := stagePayload(input.Stage, input.StageID, input.Name)
		payload["error"] = reason
		payload["error_kind"] = input.Kind
		if input.Path != "" {
			payload["path"] = input.Path
		}
		a.emitBestEffort(ctx, input.RunID, store.EventStageFailed, payload)
	}
	payload := map[string]any{
		"failed_stage":    input.Stage,
		"failed_stage_id": input.StageID,
		"reason":          reason,
		"error_kind":      input.Kind,
	}
	if err := a.emitEvent(ctx, input.RunID, store.EventRunFailed, payload); err != nil {
		return err
	}
	a.finish(ctx, input.RunID, research.StateFailed)
	return nil
}

func (a *ResearchActivities) HandleRunCancelled(ctx context.Context, input RunCancelledInput) error {
	if strings.TrimSpace(input.RunID) == "" {
		return errors.New("run_id required")
	}
	payload := map[string]any{
		"reason":           "cancelled",
		"completed_stages": input.Completed,
	}
	if err := a.emitEvent(ctx, input.RunID, store.EventRunCancelled, payload); err != nil {
		return err
	}
	a.finish(ctx, input.RunID, research.StateCancelled)
	return nil
}

// PersistReport upserts the completed report for its party and emits
// run.completed. A failed upsert does not fail the run; it is reported on the
// completion event.
func (a *ResearchActivities) PersistReport(ctx context.Context, input PersistReportInput) (PersistReportOutput, error) {
	if strings.TrimSpace(input.RunID) == "" {
		return PersistReportOutput{}, errors.New("run_id required")
	}
	partyID := resolvePartyID(input.PartyID, input.PartyName)
	var persistErr error
	if partyID == "" {
		persistErr = fmt.Errorf("no party id for %q", input.PartyName)
	} else {
		persistErr = a.store.UpsertPartySummary(ctx, store.PartySummary{
			PartyID:     partyID,
			RunID:       input.RunID,
			SummaryData: input.Report,
		})
	}

	output := PersistReportOutput{Persisted: persistErr == nil}
	payload := map[string]any{
		"party_id":  partyID,
		"persisted": output.Persisted,
	}
	if persistErr != nil {
		output.Error = persistErr.Error()
		payload["persist_error"] = output.Error
		a.logger.Error("failed to persist report", zap.String("run_id", input.RunID), zap.String("party_id", partyID), zap.Error(persistErr))
	} else {
		a.emitBestEffort(ctx, input.RunID, store.EventReportPersisted, map[string]any{"party_id": partyID})
	}
	if err := a.emitEvent(ctx, input.RunID, store.EventRunCompleted, payload); err != nil {
		return output, err
	}
	a.finish(ctx, input.RunID, research.StateComplete)
	return output, nil
}

// ResearchArtifact performs the free-text research call behind the HTML
// report.
func (a *ResearchActivities) ResearchArtifact(ctx context.Context, input ArtifactResearchInput) (llm.Result, error) {
	if strings.TrimSpace(input.RunID) == "" {
		return llm.Result{}, toApplicationError(errors.New("run_id required"))
	}
	a.emitBestEffort(ctx, input.RunID, store.EventStageStarted, stagePayload(1, artifact.PromptKey, "HTML report"))
	started := time.Now()
	provider, err := a.resolveProvider(ctx)
	if err != nil {
		backendErr := &research.BackendError{Stage: artifact.PromptKey, Message: err.Error(), Err: err}
		a.observeStage(artifact.PromptKey, started, backendErr)
		return llm.Result{}, toApplicationError(backendErr)
	}
	pipeline := artifact.NewPipeline(a.prompts, provider, nil,
		artifact.WithTimeout(a.stageTimeout),
		artifact.WithGrounding(a.grounding),
		artifact.WithToolCall(!a.grounding),
	)
	result, err := pipeline.Research(ctx, input.PartyName)
	a.observeStage(artifact.PromptKey, started, err)
	if err != nil {
		return llm.Result{}, toApplicationError(err)
	}
	a.emitBestEffort(ctx, input.RunID, store.EventStageCompleted, stagePayload(1, artifact.PromptKey, "HTML report"))
	return result, nil
}

// PublishArtifact stores the extracted document as the party's HTML report
// and completes the run.
func (a *ResearchActivities) PublishArtifact(ctx context.Context, input PublishArtifactInput) error {
	if strings.TrimSpace(input.RunID) == "" {
		return errors.New("run_id required")
	}
	metrics.ArtifactExtractions.WithLabelValues(string(input.Artifact.Source)).Inc()
	a.emitBestEffort(ctx, input.RunID, store.EventArtifactExtracted, map[string]any{
		"source":   string(input.Artifact.Source),
		"title":    input.Artifact.Title,
		"bytes":    len(input.Artifact.HTML),
		"fallback": input.Fallback,
		"reason":   input.Reason,
	})

	partyID := resolvePartyID(input.PartyID, input.PartyName)
	payload := map[string]any{"party_id": partyID, "fallback": input.Fallback}
	if partyID == "" {
		payload["persisted"] = false
	} else {
		if err := a.store.UpsertPartySummary(ctx, store.PartySummary{
			PartyID:     partyID,
			RunID:       input.RunID,
			HTMLContent: input.Artifact.HTML,
		}); err != nil {
			return err
		}
		payload["persisted"] = true
	}
	if err := a.emitEvent(ctx, input.RunID, store.EventRunCompleted, payload); err != nil {
		return err
	}
	a.finishMode(ModeHTML, research.StateComplete)
	return nil
}

// FetchPartyNews asks the backend for recent news and validates the items.
func (a *ResearchActivities) FetchPartyNews(ctx context.Context, input FetchNewsInput) (FetchNewsOutput, error) {
	if strings.TrimSpace(input.RunID) == "" {
		return FetchNewsOutput{}, toApplicationError(errors.New("run_id required"))
	}
	a.emitBestEffort(ctx, input.RunID, store.EventStageStarted, stagePayload(1, research.ContractNews, "News"))
	started := time.Now()
	items, err := a.fetchNews(ctx, input.PartyName)
	a.observeStage(research.ContractNews, started, err)
	if err != nil {
		return FetchNewsOutput{}, toApplicationError(err)
	}
	a.emitBestEffort(ctx, input.RunID, store.EventStageCompleted, stagePayload(1, research.ContractNews, "News"))
	return FetchNewsOutput{Items: items}, nil
}

func (a *ResearchActivities) fetchNews(ctx context.Context, partyName string) ([]research.NewsItem, error) {
	provider, err := a.resolveProvider(ctx)
	if err != nil {
		return nil, &research.BackendError{Stage: research.ContractNews, Message: err.Error(), Err: err}
	}
	rendered, err := a.prompts.Render(research.ContractNews, prompts.Data{Topic: partyName, PartyName: partyName})
	if err != nil {
		return nil, err
	}
	callCtx, cancel := context.WithTimeout(ctx, a.stageTimeout)
	defer cancel()
	result, err := provider.Generate(callCtx, llm.Request{
		Name:        research.ContractNews,
		System:      rendered.System,
		Instruction: rendered.Instruction,
		Schema:      a.registry.NewsSchema(),
		Grounding:   a.grounding,
	})
	if err != nil {
		timedOut := errors.Is(err, context.DeadlineExceeded) || errors.Is(callCtx.Err(), context.DeadlineExceeded)
		return nil, &research.BackendError{Stage: research.ContractNews, Timeout: timedOut, Message: err.Error(), Err: err}
	}
	return a.registry.DecodeNews([]byte(result.Text))
}

func (a *ResearchActivities) PersistNews(ctx context.Context, input PersistNewsInput) error {
	if strings.TrimSpace(input.RunID) == "" {
		return errors.New("run_id required")
	}
	if strings.TrimSpace(input.PartyID) == "" {
		return errors.New("party_id required")
	}
	items := make([]store.PartyNewsItem, 0, len(input.Items))
	for _, item := range input.Items {
		items = append(items, store.PartyNewsItem{Title: item.Title, Summary: item.Summary, URL: item.URL})
	}
	if err := a.store.UpsertPartyNews(ctx, store.PartyNews{PartyID: input.PartyID, Items: items}); err != nil {
		return err
	}
	if err := a.emitEvent(ctx, input.RunID, store.EventRunCompleted, map[string]any{
		"party_id":  input.PartyID,
		"persisted": true,
		"items":     len(items),
	}); err != nil {
		return err
	}
	a.finishMode(ModeNews, research.StateComplete)
	return nil
}

func (a *ResearchActivities) finish(ctx context.Context, runID string, state research.State) {
	mode := ModeStructured
	if run, err := a.store.GetRun(ctx, runID); err == nil && run != nil && run.Mode != "" {
		mode = run.Mode
	}
	a.finishMode(mode, state)
}

func (a *ResearchActivities) finishMode(mode string, state research.State) {
	metrics.RunsFinished.WithLabelValues(mode, state.String()).Inc()
}

// resolveProvider returns the backend for the current settings. Providers are
// reused while the settings are unchanged so request pacing carries across
// stages. The fallback backend is used only when the primary cannot be built.
func (a *ResearchActivities) resolveProvider(ctx context.Context) (llm.Provider, error) {
	cfg, err := a.resolveConfig(ctx)
	if err != nil {
		return nil, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.provider != nil && a.providerConfig == cfg {
		return a.provider, nil
	}
	provider, err := a.newProvider(cfg)
	if err != nil {
		fallback, ok := cfg.Fallback()
		if !ok {
			return nil, err
		}
		a.logger.Warn("primary backend unavailable, using fallback",
			zap.String("provider", cfg.Provider),
			zap.String("fallback", fallback.Provider),
			zap.Error(err),
		)
		provider, err = a.newProvider(fallback)
		if err != nil {
			return nil, err
		}
	}
	a.provider = provider
	a.providerConfig = cfg
	return provider, nil
}

// resolveConfig overlays the stored LLM settings on the environment defaults.
func (a *ResearchActivities) resolveConfig(ctx context.Context) (llm.Config, error) {
	cfg := a.defaultConfig
	settings, err := a.store.GetLLMSettings(ctx)
	if err != nil {
		return cfg, err
	}
	if settings == nil {
		return cfg, nil
	}
	if settings.Mode != "" {
		cfg.Mode = settings.Mode
	}
	if settings.Provider != "" {
		cfg.Provider = settings.Provider
	}
	if settings.Model != "" {
		cfg.Model = settings.Model
	}
	if settings.BaseURL != "" {
		cfg.BaseURL = settings.BaseURL
	}
	if settings.APIKeyEnc != "" {
		if a.sealer == nil {
			return cfg, errors.New("LLM_SECRETS_KEY is required to decrypt API keys")
		}
		apiKey, err := a.sealer.Open(settings.Provider, settings.APIKeyEnc)
		if err != nil {
			return cfg, err
		}
		switch settings.Provider {
		case "openai":
			cfg.OpenAIAPIKey = apiKey
		case "openrouter":
			cfg.OpenRouterAPIKey = apiKey
		default:
			cfg.GeminiAPIKey = apiKey
		}
	}
	return cfg, nil
}

func resolvePartyID(partyID string, partyName string) string {
	if id := strings.TrimSpace(partyID); id != "" {
		return id
	}
	if entry, ok := parties.FindByName(partyName); ok {
		return entry.ID
	}
	return ""
}

func stagePayload(index int, stageID string, name string) map[string]any {
	return map[string]any{
		"stage":    index,
		"stage_id": stageID,
		"name":     name,
	}
}

// emitBestEffort emits progress events whose loss does not change the run's
// outcome.
func (a *ResearchActivities) emitBestEffort(ctx context.Context, runID string, eventType string, payload map[string]any) {
	if err := a.emitEvent(ctx, runID, eventType, payload); err != nil {
		a.logger.Warn("failed to emit event", zap.String("run_id", runID), zap.String("type", eventType), zap.Error(err))
	}
}

func (a *ResearchActivities) emitEvent(ctx context.Context, runID string, eventType string, payload map[string]any) error {
	if err := a.postEvent(ctx, runID, eventType, payload); err == nil {
		return nil
	}
	return a.appendLocalEvent(ctx, runID, eventType, payload)
}

func (a *ResearchActivities) appendLocalEvent(ctx context.Context, runID string, eventType string, payload map[string]any) error {
	seq, err := a.store.NextSeq(ctx, runID)
	if err != nil {
		return err
	}
	return a.store.AppendEvent(ctx, store.RunEvent{
		RunID:     runID,
		Seq:       seq,
		Type:      eventType,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Source:    eventSource,
		TraceID:   uuid.New().String(),
		Payload:   payload,
	})
}

func (a *ResearchActivities) postEvent(ctx context.Context, runID string, eventType string, payload map[string]any) error {
	if a.server == "" {
		return errors.New("server url not configured")
	}
	url := fmt.Sprintf("%s/research/%s/events", a.server, runID)
	body, err := json.Marshal(map[string]any{
		"type":      eventType,
		"source":    eventSource,
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
		"trace_id":  uuid.New().String(),
		"payload":   payload,
	})
	if err != nil {
		return err
	}
	requestCtx, cancel := context.WithTimeout(ctx, a.requestTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(requestCtx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := a.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("server event failed: %s", resp.Status)
	}
	return nil
}
