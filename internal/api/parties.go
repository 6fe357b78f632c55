package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/musoukun/policyScope/internal/limits"
	"github.com/musoukun/policyScope/internal/parties"
	"github.com/musoukun/policyScope/internal/store"
	"github.com/musoukun/policyScope/internal/workflows"
)

type partyResponse struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	NameEn      string `json:"name_en,omitempty"`
	FoundedYear int    `json:"founded_year,omitempty"`
	Description string `json:"description,omitempty"`
	Color       string `json:"color,omitempty"`
}

type summaryResponse struct {
	PartyID     string         `json:"party_id"`
	RunID       string         `json:"run_id,omitempty"`
	SummaryData map[string]any `json:"summary_data,omitempty"`
	HTMLContent string         `json:"html_content,omitempty"`
	CreatedAt   string         `json:"created_at"`
	UpdatedAt   string         `json:"updated_at"`
}

type newsResponse struct {
	PartyID   string                `json:"party_id"`
	NewsData  []store.PartyNewsItem `json:"news_data"`
	CreatedAt string                `json:"created_at"`
	UpdatedAt string                `json:"updated_at"`
}

func toPartyResponse(party store.Party) partyResponse {
	return partyResponse{
		ID:          party.ID,
		Name:        party.Name,
		NameEn:      party.NameEn,
		FoundedYear: party.FoundedYear,
		Description: party.Description,
		Color:       parties.Color(party.ID),
	}
}

func (s *Server) listParties(w http.ResponseWriter, r *http.Request) {
	list := parties.List(r.Context(), s.store)
	response := make([]partyResponse, 0, len(list))
	for _, party := range list {
		response = append(response, toPartyResponse(party))
	}
	writeJSON(w, map[string]any{"parties": response})
}

func (s *Server) getParty(w http.ResponseWriter, r *http.Request) {
	partyID := chi.URLParam(r, "id")
	party, err := s.store.GetParty(r.Context(), partyID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if party == nil {
		entry, ok := parties.Lookup(partyID)
		if !ok {
			writeJSONError(w, "Party not found", http.StatusNotFound)
			return
		}
		builtin := entry.Party()
		party = &builtin
	}
	writeJSON(w, toPartyResponse(*party))
}

func (s *Server) getPartySummary(w http.ResponseWriter, r *http.Request) {
	summary, err := s.store.GetPartySummary(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if summary == nil {
		writeJSONError(w, "Summary not found", http.StatusNotFound)
		return
	}
	writeJSON(w, summaryResponse{
		PartyID:     summary.PartyID,
		RunID:       summary.RunID,
		SummaryData: summary.SummaryData,
		HTMLContent: summary.HTMLContent,
		CreatedAt:   summary.CreatedAt,
		UpdatedAt:   summary.UpdatedAt,
	})
}

type upsertSummaryRequest struct {
	HTMLContent string         `json:"html_content"`
	SummaryData map[string]any `json:"summary_data"`
}

func (s *Server) upsertPartySummary(w http.ResponseWriter, r *http.Request) {
	partyID := chi.URLParam(r, "id")
	var req upsertSummaryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.HTMLContent) == "" && len(req.SummaryData) == 0 {
		http.Error(w, "html_content or summary_data required", http.StatusBadRequest)
		return
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	if err := s.store.UpsertPartySummary(r.Context(), store.PartySummary{
		PartyID:     partyID,
		SummaryData: req.SummaryData,
		HTMLContent: req.HTMLContent,
		CreatedAt:   now,
		UpdatedAt:   now,
	}); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.getPartySummary(w, r)
}

func (s *Server) getPartyNews(w http.ResponseWriter, r *http.Request) {
	news, err := s.store.GetPartyNews(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if news == nil {
		writeJSONError(w, "News not found", http.StatusNotFound)
		return
	}
	items := news.Items
	if items == nil {
		items = []store.PartyNewsItem{}
	}
	writeJSON(w, newsResponse{
		PartyID:   news.PartyID,
		NewsData:  items,
		CreatedAt: news.CreatedAt,
		UpdatedAt: news.UpdatedAt,
	})
}

type fetchNewsRequest struct {
	PartyName string `json:"party_name"`
}

// fetchPartyNews starts a news run for the party. Progress is followed on
// the run's event stream.
func (s *Server) fetchPartyNews(w http.ResponseWriter, r *http.Request) {
	var req fetchNewsRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request", http.StatusBadRequest)
			return
		}
	}
	partyID, partyName := s.resolveParty(r.Context(), chi.URLParam(r, "id"), req.PartyName)
	if partyName == "" {
		http.Error(w, "party name required", http.StatusBadRequest)
		return
	}
	release, ok := s.consumeBudget(w, r, limits.NewsFetch)
	if !ok {
		return
	}
	run, err := s.startRun(r.Context(), partyID, partyName, workflows.ModeNews)
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
