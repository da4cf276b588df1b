// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"net/http"
	"strings"
	"time"
)

// JobsHandler handles job status requests.
type JobsHandler struct {
	deps Dependencies
}

// NewJobsHandler creates a new jobs handler.
func NewJobsHandler(deps Dependencies) *JobsHandler {
	return &JobsHandler{deps: deps}
}

// jobStatusResponse reports the lifecycle of one submission.
type jobStatusResponse struct {
	JobID        string     `json:"job_id"`
	EventID      string     `json:"event_id"`
	LeadID       string     `json:"lead_id"`
	State        string     `json:"state"`
	Priority     int        `json:"priority"`
	AttemptsMade int        `json:"attempts_made"`
	FailedReason string     `json:"failed_reason,omitempty"`
	EnqueuedAt   time.Time  `json:"enqueued_at"`
	FinishedOn   *time.Time `json:"finished_on,omitempty"`
}

// HandleGetJob handles GET /jobs/{id} requests.
func (h *JobsHandler) HandleGetJob(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}
	jobID := strings.TrimPrefix(r.URL.Path, "/jobs/")
	if jobID == "" || strings.Contains(jobID, "/") {
		writeError(w, http.StatusBadRequest, "bad_request", ErrBadRequest)
		return
	}

	job, err := h.deps.Job(jobID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	resp := jobStatusResponse{
		JobID:        job.ID,
		EventID:      job.Event.EventID,
		LeadID:       job.Event.LeadID,
		State:        string(job.State),
		Priority:     job.Priority,
		AttemptsMade: job.AttemptsMade,
		FailedReason: job.FailedReason,
		EnqueuedAt:   job.EnqueuedAt,
	}
	if !job.FinishedOn.IsZero() {
		finished := job.FinishedOn
		resp.FinishedOn = &finished
	}
	writeJSON(w, http.StatusOK, resp)
}
