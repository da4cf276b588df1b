// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/okian/leadscore/internal/domain/model"
)

// LeadsHandler handles lead requests.
type LeadsHandler struct {
	deps Dependencies
}

// NewLeadsHandler creates a new leads handler.
func NewLeadsHandler(deps Dependencies) *LeadsHandler {
	return &LeadsHandler{deps: deps}
}

// leadRequest mirrors the wire schema for lead creation.
type leadRequest struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// HandlePostLead handles POST /leads requests.
func (h *LeadsHandler) HandlePostLead(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	var req leadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", fmt.Errorf("%w: %w", ErrBadRequest, err))
		return
	}
	if strings.TrimSpace(req.ID) == "" {
		writeError(w, http.StatusBadRequest, "bad_request", fmt.Errorf("%w: missing id", ErrBadRequest))
		return
	}

	lead, err := h.deps.CreateLead(r.Context(), model.Lead{
		ID:    req.ID,
		Name:  req.Name,
		Email: req.Email,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, lead)
}

// HandleLeadSubpath routes /leads/{id}, /leads/{id}/history, and
// /leads/{id}/recalculate.
func (h *LeadsHandler) HandleLeadSubpath(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/leads/")
	leadID, action, _ := strings.Cut(rest, "/")
	if leadID == "" || strings.Contains(action, "/") {
		writeError(w, http.StatusBadRequest, "bad_request", ErrBadRequest)
		return
	}

	switch {
	case action == "" && r.Method == http.MethodGet:
		h.getLead(w, r, leadID)
	case action == "history" && r.Method == http.MethodGet:
		h.getHistory(w, r, leadID)
	case action == "recalculate" && r.Method == http.MethodPost:
		h.recalculate(w, r, leadID)
	default:
		http.NotFound(w, r)
	}
}

func (h *LeadsHandler) getLead(w http.ResponseWriter, r *http.Request, leadID string) {
	lead, err := h.deps.Lead(r.Context(), leadID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, lead)
}

func (h *LeadsHandler) getHistory(w http.ResponseWriter, r *http.Request, leadID string) {
	history, err := h.deps.LeadHistory(r.Context(), leadID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, history)
}

func (h *LeadsHandler) recalculate(w http.ResponseWriter, r *http.Request, leadID string) {
	sum, err := h.deps.Recalculate(r.Context(), leadID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}
