// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/okian/leadscore/internal/adapters/mq/queue"
	"github.com/okian/leadscore/internal/adapters/repository"
	"github.com/okian/leadscore/internal/domain/model"
	"github.com/okian/leadscore/internal/domain/rules"
	"github.com/okian/leadscore/internal/domain/scoring"
	"github.com/okian/leadscore/internal/domain/types"
)

// Dependencies required by HTTP handlers. Using an interface bundle keeps
// the handler layer loosely coupled to implementations in other packages.
type Dependencies interface {
	// Submit queues an event for async processing.
	Submit(ctx context.Context, ev model.Event) (queue.Job, error)

	// SubmitBatch queues up to MaxBatch events, isolating per-event failures.
	SubmitBatch(ctx context.Context, evs []model.Event) (types.BatchResult, error)

	// Apply processes an event inline, bypassing the queue.
	Apply(ctx context.Context, ev model.Event) (scoring.Result, error)

	// Recalculate rebuilds one lead's score from its event history.
	Recalculate(ctx context.Context, leadID string) (scoring.Summary, error)

	// Job reports the state of a queued submission.
	Job(jobID string) (queue.Job, error)

	// Rule table access.
	Rules(ctx context.Context) ([]model.ScoringRule, error)
	Rule(ctx context.Context, eventType model.EventType) (model.ScoringRule, error)
	UpdateRule(ctx context.Context, rule model.ScoringRule) error

	// Lead access.
	CreateLead(ctx context.Context, lead model.Lead) (model.Lead, error)
	Lead(ctx context.Context, leadID string) (model.Lead, error)
	LeadHistory(ctx context.Context, leadID string) ([]model.HistoryEntry, error)

	// MaxBatch caps batch submissions.
	MaxBatch() int
}

// Server wires HTTP routes for the business API.
type Server struct {
	healthHandler *HealthHandler
	statsHandler  *StatsHandler
	eventsHandler *EventsHandler
	leadsHandler  *LeadsHandler
	rulesHandler  *RulesHandler
	jobsHandler   *JobsHandler
}

// NewServer creates a new API server with all handlers.
func NewServer(deps Dependencies, statsProvider StatsProvider) *Server {
	return &Server{
		healthHandler: NewHealthHandler(),
		statsHandler:  NewStatsHandler(statsProvider),
		eventsHandler: NewEventsHandler(deps),
		leadsHandler:  NewLeadsHandler(deps),
		rulesHandler:  NewRulesHandler(deps),
		jobsHandler:   NewJobsHandler(deps),
	}
}

// Register attaches all HTTP routes to mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("/healthz", MetricsMiddleware(s.healthHandler.HandleHealth, "healthz"))
	mux.HandleFunc("/metrics", s.healthHandler.HandleMetrics)
	mux.HandleFunc("/stats", MetricsMiddleware(s.statsHandler.HandleStats, "stats"))
	mux.HandleFunc("/events", MetricsMiddleware(s.eventsHandler.HandlePostEvent, "events"))
	mux.HandleFunc("/events/batch", MetricsMiddleware(s.eventsHandler.HandlePostBatch, "events_batch"))
	mux.HandleFunc("/jobs/", MetricsMiddleware(s.jobsHandler.HandleGetJob, "jobs"))
	mux.HandleFunc("/rules", MetricsMiddleware(s.rulesHandler.HandleListRules, "rules"))
	mux.HandleFunc("/rules/", MetricsMiddleware(s.rulesHandler.HandleRule, "rules"))
	mux.HandleFunc("/leads", MetricsMiddleware(s.leadsHandler.HandlePostLead, "leads"))
	mux.HandleFunc("/leads/", MetricsMiddleware(s.leadsHandler.HandleLeadSubpath, "leads"))
}

// eventRequest mirrors the wire schema for event submission.
type eventRequest struct {
	EventID   string            `json:"event_id"`
	LeadID    string            `json:"lead_id"`
	EventType string            `json:"event_type"`
	Timestamp string            `json:"timestamp"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

func (e eventRequest) validate() error {
	switch {
	case strings.TrimSpace(e.EventID) == "":
		return errors.New("missing event_id")
	case strings.TrimSpace(e.LeadID) == "":
		return errors.New("missing lead_id")
	case strings.TrimSpace(e.EventType) == "":
		return errors.New("missing event_type")
	case strings.TrimSpace(e.Timestamp) == "":
		return errors.New("missing timestamp")
	}
	if _, err := time.Parse(time.RFC3339, e.Timestamp); err != nil {
		return errors.New("invalid timestamp; must be RFC3339")
	}
	return nil
}

// toEvent converts a validated request to the domain event.
func (e eventRequest) toEvent() model.Event {
	ts, _ := time.Parse(time.RFC3339, e.Timestamp)
	return model.Event{
		EventID:   e.EventID,
		LeadID:    e.LeadID,
		EventType: model.EventType(e.EventType),
		Timestamp: ts,
		Metadata:  e.Metadata,
	}
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	msg := http.StatusText(status)
	if err != nil {
		msg = err.Error()
	}
	writeJSON(w, status, errorResponse{Code: code, Message: msg})
}

// writeDomainError maps domain sentinel errors onto HTTP statuses.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, scoring.ErrInvalidEvent), errors.Is(err, rules.ErrInvalidRule):
		writeError(w, http.StatusBadRequest, "bad_request", err)
	case errors.Is(err, scoring.ErrLeadNotFound),
		errors.Is(err, repository.ErrLeadNotFound),
		errors.Is(err, repository.ErrEventNotFound),
		errors.Is(err, rules.ErrNoRule),
		errors.Is(err, queue.ErrJobNotFound):
		writeError(w, http.StatusNotFound, "not_found", err)
	case errors.Is(err, scoring.ErrRecalculationConflict):
		writeError(w, http.StatusConflict, "conflict", err)
	case errors.Is(err, queue.ErrQueueFull):
		writeError(w, http.StatusTooManyRequests, "backpressure", err)
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err)
	}
}
