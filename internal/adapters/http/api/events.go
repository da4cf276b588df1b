// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/okian/leadscore/internal/domain/model"
	"github.com/okian/leadscore/internal/domain/types"
)

// EventsHandler handles event submission requests.
type EventsHandler struct {
	deps Dependencies
}

// NewEventsHandler creates a new events handler.
func NewEventsHandler(deps Dependencies) *EventsHandler {
	return &EventsHandler{deps: deps}
}

// jobResponse acknowledges an async submission.
type jobResponse struct {
	JobID    string `json:"job_id"`
	State    string `json:"state"`
	Priority int    `json:"priority"`
}

// HandlePostEvent handles POST /events requests. The sync=true query
// parameter bypasses the queue and applies the event inline.
func (h *EventsHandler) HandlePostEvent(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	var req eventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", fmt.Errorf("%w: %w", ErrBadRequest, err))
		return
	}
	if err := req.validate(); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", fmt.Errorf("%w: %w", ErrBadRequest, err))
		return
	}

	if r.URL.Query().Get("sync") == "true" {
		res, err := h.deps.Apply(r.Context(), req.toEvent())
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
		return
	}

	job, err := h.deps.Submit(r.Context(), req.toEvent())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, jobResponse{
		JobID:    job.ID,
		State:    string(job.State),
		Priority: job.Priority,
	})
}

// batchRequest carries a list of events for bulk submission.
type batchRequest struct {
	Events []eventRequest `json:"events"`
}

// HandlePostBatch handles POST /events/batch requests. Event failures are
// isolated: a bad event is reported in the result without rejecting its
// siblings.
func (h *EventsHandler) HandlePostBatch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	var req batchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", fmt.Errorf("%w: %w", ErrBadRequest, err))
		return
	}
	if len(req.Events) == 0 {
		writeError(w, http.StatusBadRequest, "bad_request", fmt.Errorf("%w: empty batch", ErrBadRequest))
		return
	}
	if limit := h.deps.MaxBatch(); len(req.Events) > limit {
		writeError(w, http.StatusBadRequest, "batch_too_big",
			fmt.Errorf("%w: %d events, limit %d", ErrBatchTooBig, len(req.Events), limit))
		return
	}

	// Request-level validation stops at shape; per-event validation happens
	// inside the batch so one malformed event cannot sink the rest.
	events := make([]eventRequestPair, 0, len(req.Events))
	for _, er := range req.Events {
		events = append(events, eventRequestPair{req: er, err: er.validate()})
	}

	var result types.BatchResult
	if valid := validEvents(events); len(valid) > 0 {
		res, err := h.deps.SubmitBatch(r.Context(), valid)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		result = res
	}
	for _, pair := range events {
		if pair.err != nil {
			result.Failed++
			result.Errors = append(result.Errors, types.BatchError{
				EventID: pair.req.EventID,
				Error:   pair.err.Error(),
			})
		}
	}
	writeJSON(w, http.StatusOK, result)
}

// eventRequestPair keeps a request next to its validation outcome.
type eventRequestPair struct {
	req eventRequest
	err error
}

func validEvents(pairs []eventRequestPair) []model.Event {
	events := make([]model.Event, 0, len(pairs))
	for _, p := range pairs {
		if p.err == nil {
			events = append(events, p.req.toEvent())
		}
	}
	return events
}
