package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/musoukun/policyScope/internal/events"
	"github.com/musoukun/policyScope/internal/limits"
	"github.com/musoukun/policyScope/internal/metrics"
	"github.com/musoukun/policyScope/internal/parties"
	"github.com/musoukun/policyScope/internal/store"
	"github.com/musoukun/policyScope/internal/workflows"
)

type createResearchRequest struct {
	PartyID   string `json:"party_id"`
	PartyName string `json:"party_name"`
	Mode      string `json:"mode"`
}

type runResponse struct {
	RunID         string `json:"run_id"`
	PartyID       string `json:"party_id,omitempty"`
	PartyName     string `json:"party_name"`
	Mode          string `json:"mode"`
	Status        string `json:"status"`
	FailedStage   int    `json:"failed_stage,omitempty"`
	FailedStageID string `json:"failed_stage_id,omitempty"`
	Reason        string `json:"reason,omitempty"`
	LastSeq       int64  `json:"last_seq"`
	CreatedAt     string `json:"created_at"`
	UpdatedAt     string `json:"updated_at"`
}

type stageResponse struct {
	Index       int            `json:"index"`
	StageID     string         `json:"stage_id"`
	Name        string         `json:"name"`
	Status      string         `json:"status"`
	StartedAt   string         `json:"started_at,omitempty"`
	CompletedAt string         `json:"completed_at,omitempty"`
	Error       string         `json:"error,omitempty"`
	ErrorKind   string         `json:"error_kind,omitempty"`
	Diagnostics map[string]any `json:"diagnostics,omitempty"`
}

func toRunResponse(run store.Run) runResponse {
	return runResponse{
		RunID:         run.ID,
		PartyID:       run.PartyID,
		PartyName:     run.PartyName,
		Mode:          run.Mode,
		Status:        run.Status,
		FailedStage:   run.FailedStage,
		FailedStageID: run.FailedStageID,
		Reason:        run.Reason,
		LastSeq:       run.LastSeq,
		CreatedAt:     run.CreatedAt,
		UpdatedAt:     run.UpdatedAt,
	}
}

// resolveParty fills in whichever of id and name the caller left out.
func (s *Server) resolveParty(ctx context.Context, partyID string, partyName string) (string, string) {
	partyID = strings.TrimSpace(partyID)
	partyName = strings.TrimSpace(partyName)
	if partyName == "" && partyID != "" {
		if party, err := s.store.GetParty(ctx, partyID); err == nil && party != nil {
			partyName = party.Name
		} else if entry, ok := parties.Lookup(partyID); ok {
			partyName = entry.Name
		}
	}
	if partyID == "" && partyName != "" {
		if entry, ok := parties.FindByName(partyName); ok {
			partyID = entry.ID
		}
	}
	return partyID, partyName
}

func (s *Server) createResearch(w http.ResponseWriter, r *http.Request) {
	req := createResearchRequest{}
	if r.Body != nil {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			http.Error(w, "invalid request", http.StatusBadRequest)
			return
		}
	}
	partyID, partyName := s.resolveParty(r.Context(), req.PartyID, req.PartyName)
	if partyName == "" {
		http.Error(w, "party name required", http.StatusBadRequest)
		return
	}
	mode := strings.ToLower(strings.TrimSpace(req.Mode))
	if mode == "" {
		mode = workflows.ModeStructured
	}
	if mode != workflows.ModeStructured && mode != workflows.ModeHTML {
		http.Error(w, "mode must be structured or html", http.StatusBadRequest)
		return
	}
	release, ok := s.consumeBudget(w, r, limits.WikiGeneration)
	if !ok {
		return
	}

	run, err := s.startRun(r.Context(), partyID, partyName, mode)
	if err != nil {
		release()
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if run.Status == store.RunStatusFailed {
		release()
	}
	writeJSONStatus(w, toRunResponse(run), http.StatusAccepted)
}

// startRun records the run, emits run.started and hands it to the workflow
// service.
func (s *Server) startRun(ctx context.Context, partyID string, partyName string, mode string) (store.Run, error) {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	run := store.Run{
		ID:        uuid.New().String(),
		PartyID:   partyID,
		PartyName: partyName,
		Mode:      mode,
		Status:    store.RunStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.CreateRun(ctx, run); err != nil {
		return store.Run{}, err
	}
	s.appendEvent(ctx, run.ID, store.EventRunStarted, map[string]any{
		"party_id":   partyID,
		"party_name": partyName,
		"mode":       mode,
	})
	run.Status = store.RunStatusRunning
	metrics.RunsStarted.WithLabelValues(mode).Inc()

	if s.workflows == nil {
		return run, nil
	}
	timeout := s.cfg.StageTimeout
	var err error
	switch mode {
	case workflows.ModeHTML:
		err = s.workflows.StartArtifact(ctx, workflows.ArtifactInput{RunID: run.ID, PartyID: partyID, PartyName: partyName, Timeout: timeout})
	case workflows.ModeNews:
		err = s.workflows.StartNews(ctx, workflows.NewsInput{RunID: run.ID, PartyID: partyID, PartyName: partyName, Timeout: timeout})
	default:
		err = s.workflows.StartResearch(ctx, workflows.ResearchInput{RunID: run.ID, PartyID: partyID, PartyName: partyName, StageTimeout: timeout})
	}
	if err != nil {
		s.logger.Error("failed to start workflow", zap.String("run_id", run.ID), zap.String("mode", mode), zap.Error(err))
		s.appendEvent(ctx, run.ID, store.EventRunFailed, map[string]any{"reason": "start workflow: " + err.Error()})
		run.Status = store.RunStatusFailed
		run.Reason = "start workflow: " + err.Error()
	}
	return run, nil
}

// consumeBudget spends one call of the daily budget, writing a 429 when it
// is exhausted. Budget backend errors do not block the request. The returned
// release gives the call back when the run never started.
func (s *Server) consumeBudget(w http.ResponseWriter, r *http.Request, callType limits.CallType) (func(), bool) {
	noop := func() {}
	if s.budget == nil {
		return noop, true
	}
	status, ok, err := s.budget.Consume(r.Context(), callType)
	if err != nil {
		s.logger.Warn("budget check failed", zap.String("call_type", string(callType)), zap.Error(err))
		return noop, true
	}
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(status.DailyLimit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(status.Remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(status.ResetAt.Unix(), 10))
	if ok {
		ctx := context.WithoutCancel(r.Context())
		return func() {
			if _, err := s.budget.Release(ctx, callType); err != nil {
				s.logger.Warn("budget release failed", zap.String("call_type", string(callType)), zap.Error(err))
			}
		}, true
	}
	metrics.BudgetRejections.WithLabelValues(string(callType)).Inc()
	s.logger.Warn("rate limit exceeded", zap.String("call_type", string(callType)), zap.Int("daily_limit", status.DailyLimit))
	w.Header().Set("Retry-After", strconv.FormatInt(int64(time.Until(status.ResetAt).Seconds()), 10))
	writeJSONStatus(w, map[string]any{
		"error":   "Rate limit exceeded",
		"message": fmt.Sprintf("本日の利用上限（%d回）に達しました。明日以降に再度お試しください。", status.DailyLimit),
		"limit":   status,
	}, http.StatusTooManyRequests)
	return noop, false
}

func (s *Server) listResearch(w http.ResponseWriter, r *http.Request) {
	runs, err := s.store.ListRuns(r.Context(), strings.TrimSpace(r.URL.Query().Get("party_id")))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	response := make([]runResponse, 0, len(runs))
	for _, run := range runs {
		response = append(response, toRunResponse(run))
	}
	writeJSON(w, map[string]any{"runs": response})
}

func (s *Server) getResearch(w http.ResponseWriter, r *http.Request) {
	run, err := s.store.GetRun(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if run == nil {
		writeJSONError(w, "Run not found", http.StatusNotFound)
		return
	}
	writeJSON(w, toRunResponse(*run))
}

func (s *Server) listResearchStages(w http.ResponseWriter, r *http.Request) {
	stages, err := s.store.ListRunStages(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	response := make([]stageResponse, 0, len(stages))
	for _, stage := range stages {
		response = append(response, stageResponse{
			Index:       stage.Index,
			StageID:     stage.StageID,
			Name:        stage.Name,
			Status:      stage.Status,
			StartedAt:   stage.StartedAt,
			CompletedAt: stage.CompletedAt,
			Error:       stage.Error,
			ErrorKind:   stage.ErrorKind,
			Diagnostics: stage.Diagnostics,
		})
	}
	writeJSON(w, map[string]any{"stages": response})
}

// cancelResearch asks the workflow to stop. The worker records run.cancelled
// once the workflow observes the request.
func (s *Server) cancelResearch(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "id")
	run, err := s.store.GetRun(r.Context(), runID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if run == nil {
		writeJSONError(w, "Run not found", http.StatusNotFound)
		return
	}
	switch run.Status {
	case store.RunStatusComplete, store.RunStatusFailed, store.RunStatusCancelled:
		writeJSONError(w, "run already finished", http.StatusConflict)
		return
	}
	if s.workflows == nil {
		s.appendEvent(r.Context(), runID, store.EventRunCancelled, map[string]any{"reason": "user_requested"})
		w.WriteHeader(http.StatusAccepted)
		return
	}
	if err := s.workflows.CancelRun(r.Context(), runID); err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

type ingestEventRequest struct {
	Type      string         `json:"type"`
	Source    string         `json:"source"`
	Timestamp string         `json:"timestamp"`
	TraceID   string         `json:"trace_id"`
	Payload   map[string]any `json:"payload"`
}

func (s *Server) ingestEvent(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "id")
	var req ingestEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}
	if req.Type == "" {
		http.Error(w, "event type required", http.StatusBadRequest)
		return
	}
	if strings.Contains(req.Type, "_") {
		http.Error(w, "event type must use dot notation", http.StatusBadRequest)
		return
	}
	timestamp := req.Timestamp
	if timestamp == "" {
		timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	}
	traceID := strings.TrimSpace(req.TraceID)
	if traceID == "" {
		traceID = uuid.New().String()
	}
	seq, err := s.store.NextSeq(r.Context(), runID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	event := store.RunEvent{
		RunID:     runID,
		Seq:       seq,
		Type:      store.NormalizeEventType(req.Type),
		Timestamp: timestamp,
		Source:    req.Source,
		TraceID:   traceID,
		Payload:   req.Payload,
	}
	if err := s.store.AppendEvent(r.Context(), event); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.broker.Publish(events.FromStore(event))
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) appendEvent(ctx context.Context, runID string, eventType string, payload map[string]any) {
	seq, err := s.store.NextSeq(ctx, runID)
	if err != nil {
		s.logger.Error("failed to allocate event seq", zap.String("run_id", runID), zap.Error(err))
		return
	}
	event := store.RunEvent{
		RunID:     runID,
		Seq:       seq,
		Type:      eventType,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Source:    eventSource,
		TraceID:   uuid.New().String(),
		Payload:   payload,
	}
	if err := s.store.AppendEvent(ctx, event); err != nil {
		s.logger.Error("failed to append event", zap.String("run_id", runID), zap.String("type", eventType), zap.Error(err))
		return
	}
	s.broker.Publish(events.FromStore(event))
}

// streamEvents replays stored events after the client's cursor, then follows
// the live broker until a terminal event or disconnect.
func (s *Server) streamEvents(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "id")
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	ctx := r.Context()
	eventsChan := s.broker.Subscribe(ctx, runID)
	afterSeq := parseAfterSeq(runID, r)
	stored, err := s.store.ListEvents(ctx, runID, afterSeq)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	lastSeq := afterSeq
	for _, event := range stored {
		streamed := events.FromStore(event)
		sendSSE(w, streamed)
		lastSeq = event.Seq
		if streamed.Terminal() {
			flusher.Flush()
			return
		}
	}
	flusher.Flush()

	heartbeat := time.NewTicker(s.heartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case event, ok := <-eventsChan:
			if !ok {
				return
			}
			if event.Seq <= lastSeq {
				continue
			}
			lastSeq = event.Seq
			sendSSE(w, event)
			flusher.Flush()
			if event.Terminal() {
				return
			}
		case <-heartbeat.C:
			fmt.Fprint(w, ": keep-alive\n\n")
			flusher.Flush()
		case <-ctx.Done():
			return
		}
	}
}

func sendSSE(w http.ResponseWriter, event events.RunEvent) {
	payload, _ := json.Marshal(event)
	fmt.Fprintf(w, "id: %s:%d\n", event.RunID, event.Seq)
	fmt.Fprint(w, "event: run_event\n")
	fmt.Fprintf(w, "data: %s\n\n", payload)
}

func parseAfterSeq(runID string, r *http.Request) int64 {
	afterParam := strings.TrimSpace(r.URL.Query().Get("after_seq"))
	if afterParam != "" {
		if parsed, err := strconv.ParseInt(afterParam, 10, 64); err == nil {
			return parsed
		}
	}
	lastEventID := r.Header.Get("Last-Event-ID")
	if lastEventID == "" {
		return 0
	}
	id, seqPart, found := strings.Cut(lastEventID, ":")
	if !found || id != runID {
		return 0
	}
	seq, err := strconv.ParseInt(seqPart, 10, 64)
	if err != nil {
		return 0
	}
	return seq
}
