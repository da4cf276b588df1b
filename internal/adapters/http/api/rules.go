// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/okian/leadscore/internal/domain/model"
)

// RulesHandler handles scoring rule requests.
type RulesHandler struct {
	deps Dependencies
}

// NewRulesHandler creates a new rules handler.
func NewRulesHandler(deps Dependencies) *RulesHandler {
	return &RulesHandler{deps: deps}
}

// HandleListRules handles GET /rules requests.
func (h *RulesHandler) HandleListRules(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}
	list, err := h.deps.Rules(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// HandleRule handles GET and PUT /rules/{event_type} requests.
func (h *RulesHandler) HandleRule(w http.ResponseWriter, r *http.Request) {
	eventType := strings.TrimPrefix(r.URL.Path, "/rules/")
	if eventType == "" || strings.Contains(eventType, "/") {
		writeError(w, http.StatusBadRequest, "bad_request", ErrBadRequest)
		return
	}

	switch r.Method {
	case http.MethodGet:
		rule, err := h.deps.Rule(r.Context(), model.EventType(eventType))
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, rule)

	case http.MethodPut:
		var rule model.ScoringRule
		if err := json.NewDecoder(r.Body).Decode(&rule); err != nil {
			writeError(w, http.StatusBadRequest, "bad_request", fmt.Errorf("%w: %w", ErrBadRequest, err))
			return
		}
		// The path is authoritative for which rule is being written.
		rule.EventType = model.EventType(eventType)
		if err := h.deps.UpdateRule(r.Context(), rule); err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, rule)

	default:
		http.NotFound(w, r)
	}
}
