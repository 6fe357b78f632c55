package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/musoukun/policyScope/internal/limits"
)

func (s *Server) listLimits(w http.ResponseWriter, r *http.Request) {
	if s.budget == nil {
		writeJSON(w, map[string]any{"limits": []limits.Status{}})
		return
	}
	statuses, err := s.budget.List(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]any{"limits": statuses})
}

func (s *Server) resetLimit(w http.ResponseWriter, r *http.Request) {
	callType, err := limits.ParseCallType(chi.URLParam(r, "type"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if s.budget == nil {
		writeJSONError(w, "budget disabled", http.StatusNotFound)
		return
	}
	status, err := s.budget.Reset(r.Context(), callType)
	if errors.Is(err, limits.ErrUnknownCallType) {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, status)
}
