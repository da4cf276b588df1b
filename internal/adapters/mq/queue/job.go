package queue

import (
	"time"

	"github.com/google/uuid"

	"github.com/okian/leadscore/internal/domain/model"
)

// State is the lifecycle state of a job.
type State string

// Job lifecycle states. A job moves waiting -> active, then to completed,
// failed, or back through delayed -> waiting on retry.
const (
	StateWaiting   State = "waiting"
	StateActive    State = "active"
	StateDelayed   State = "delayed"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

// Pending reports whether the state still occupies queue capacity.
func (s State) Pending() bool {
	switch s {
	case StateWaiting, StateActive, StateDelayed:
		return true
	default:
		return false
	}
}

// Job wraps one event submission for asynchronous processing.
type Job struct {
	ID           string      `json:"id"`
	Event        model.Event `json:"event"`
	Priority     int         `json:"priority"`
	State        State       `json:"state"`
	AttemptsMade int         `json:"attempts_made"`
	FailedReason string      `json:"failed_reason,omitempty"`
	EnqueuedAt   time.Time   `json:"enqueued_at"`
	RunAt        time.Time   `json:"run_at,omitempty"`
	FinishedOn   time.Time   `json:"finished_on,omitempty"`

	// seq is the admission order, used to break priority ties so equal
	// priority jobs dequeue first-in first-out.
	seq uint64
}

func newJob(ev model.Event, seq uint64) *Job {
	return &Job{
		ID:         uuid.NewString(),
		Event:      ev,
		Priority:   ev.EventType.Priority(),
		State:      StateWaiting,
		EnqueuedAt: time.Now().UTC(),
		seq:        seq,
	}
}

// readyHeap orders waiting jobs by priority descending, admission order
// ascending. Implements container/heap.
type readyHeap []*Job

func (h readyHeap) Len() int { return len(h) }

func (h readyHeap) Less(i, j int) bool {
	if h[i].Priority != h[j].Priority {
		return h[i].Priority > h[j].Priority
	}
	return h[i].seq < h[j].seq
}

func (h readyHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *readyHeap) Push(x any) { *h = append(*h, x.(*Job)) }

func (h *readyHeap) Pop() any {
	old := *h
	n := len(old)
	job := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return job
}

// delayHeap orders delayed jobs by RunAt ascending. Implements
// container/heap.
type delayHeap []*Job

func (h delayHeap) Len() int { return len(h) }

func (h delayHeap) Less(i, j int) bool { return h[i].RunAt.Before(h[j].RunAt) }

func (h delayHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *delayHeap) Push(x any) { *h = append(*h, x.(*Job)) }

func (h *delayHeap) Pop() any {
	old := *h
	n := len(old)
	job := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return job
}
