// Package queue provides the in-memory priority job queue feeding the
// worker pool.
//
// Jobs dequeue highest priority first, admission order breaking ties.
// Retried jobs sit in a delayed set until their RunAt passes, then rejoin
// the ready set at their original priority. One pending job exists per
// event id: resubmitting an event whose job is still waiting, active, or
// delayed returns the existing job instead of queueing a second one.
// Finished jobs are retained for status queries until evicted.
package queue

import (
	"container/heap"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/okian/leadscore/internal/domain/model"
	"github.com/okian/leadscore/pkg/metrics"
)

// Default queue configuration constants.
const (
	defaultCapacity      = 100000
	defaultFinishedLimit = 10000
)

// Counts is a point-in-time census of job states.
type Counts struct {
	Waiting   int `json:"waiting"`
	Active    int `json:"active"`
	Delayed   int `json:"delayed"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Total     int `json:"total"`
}

// PriorityQueue is an in-memory job queue. Safe for concurrent use.
type PriorityQueue struct {
	mu       sync.Mutex
	ready    readyHeap
	delayed  delayHeap
	jobs     map[string]*Job // jobID -> job, finished jobs included
	byEvent  map[string]*Job // eventID -> pending job
	finished []string        // finished job ids, eviction order
	counts   Counts

	capacity      int
	finishedLimit int
	seq           uint64
	closed        bool

	// wake carries at most one token. A consumer that drains the token and
	// still sees ready work must re-arm it before returning.
	wake chan struct{}
}

// New creates a PriorityQueue with configuration options.
func New(opts ...Option) *PriorityQueue {
	q := &PriorityQueue{
		jobs:          make(map[string]*Job),
		byEvent:       make(map[string]*Job),
		capacity:      defaultCapacity,
		finishedLimit: defaultFinishedLimit,
		wake:          make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(q)
	}
	metrics.UpdateQueueDepth(0)
	return q
}

// Enqueue admits an event as a waiting job and returns it. If a pending
// job already exists for the same event id that job is returned with no
// new admission.
func (q *PriorityQueue) Enqueue(ctx context.Context, ev model.Event) (Job, error) {
	if err := ctx.Err(); err != nil {
		return Job{}, err
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		metrics.RecordQueueEnqueueError()
		return Job{}, ErrClosed
	}
	if existing, ok := q.byEvent[ev.EventID]; ok {
		return *existing, nil
	}
	if q.pendingLocked() >= q.capacity {
		metrics.RecordQueueEnqueueError()
		return Job{}, fmt.Errorf("%w: capacity %d", ErrQueueFull, q.capacity)
	}

	q.seq++
	job := newJob(ev, q.seq)
	q.jobs[job.ID] = job
	q.byEvent[ev.EventID] = job
	heap.Push(&q.ready, job)
	q.counts.Waiting++

	metrics.RecordQueueEnqueue()
	metrics.UpdateQueueDepth(q.pendingLocked())
	q.signalLocked()
	return *job, nil
}

// Next blocks until a job is ready and returns it in the active state with
// AttemptsMade already incremented. Returns ErrClosed once the queue is
// closed and drained.
func (q *PriorityQueue) Next(ctx context.Context) (Job, error) {
	for {
		q.mu.Lock()
		q.promoteDueLocked(time.Now())

		if q.ready.Len() > 0 {
			job := heap.Pop(&q.ready).(*Job)
			job.State = StateActive
			job.AttemptsMade++
			q.counts.Waiting--
			q.counts.Active++
			if q.ready.Len() > 0 {
				q.signalLocked()
			}
			metrics.RecordQueueDequeue()
			metrics.UpdateQueueDepth(q.pendingLocked())
			out := *job
			q.mu.Unlock()
			return out, nil
		}

		if q.closed && q.delayed.Len() == 0 {
			q.mu.Unlock()
			return Job{}, ErrClosed
		}

		var timer *time.Timer
		var due <-chan time.Time
		if q.delayed.Len() > 0 {
			wait := time.Until(q.delayed[0].RunAt)
			if wait < 0 {
				wait = 0
			}
			timer = time.NewTimer(wait)
			due = timer.C
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return Job{}, ctx.Err()
		case <-q.wake:
			if timer != nil {
				timer.Stop()
			}
		case <-due:
		}
	}
}

// Complete marks an active job as completed.
func (q *PriorityQueue) Complete(jobID string) error {
	return q.finish(jobID, StateCompleted, "")
}

// Fail marks an active job as permanently failed, recording the reason.
// Failed jobs form the dead letter set.
func (q *PriorityQueue) Fail(jobID, reason string) error {
	if err := q.finish(jobID, StateFailed, reason); err != nil {
		return err
	}
	metrics.RecordDeadLetter()
	return nil
}

// Retry moves an active job to the delayed set. It rejoins the ready set
// once delay elapses, keeping its priority and attempt count.
func (q *PriorityQueue) Retry(jobID, reason string, delay time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, ok := q.jobs[jobID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	if job.State != StateActive {
		return fmt.Errorf("%w: retry from %s", ErrBadTransition, job.State)
	}

	job.State = StateDelayed
	job.FailedReason = reason
	job.RunAt = time.Now().Add(delay)
	heap.Push(&q.delayed, job)
	q.counts.Active--
	q.counts.Delayed++

	metrics.UpdateQueueDepth(q.pendingLocked())
	q.signalLocked()
	return nil
}

// Job returns the job with the given id.
func (q *PriorityQueue) Job(jobID string) (Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, ok := q.jobs[jobID]
	if !ok {
		return Job{}, fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	return *job, nil
}

// JobByEvent returns the pending job for an event id, if one exists.
func (q *PriorityQueue) JobByEvent(eventID string) (Job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, ok := q.byEvent[eventID]
	if !ok {
		return Job{}, false
	}
	return *job, true
}

// Counts returns a snapshot of job state tallies.
func (q *PriorityQueue) Counts() Counts {
	q.mu.Lock()
	defer q.mu.Unlock()

	c := q.counts
	c.Total = len(q.jobs)
	return c
}

// Close stops admissions. Jobs already queued keep flowing to consumers;
// Next returns ErrClosed once the queue drains.
func (q *PriorityQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil
	}
	q.closed = true
	q.signalLocked()
	return nil
}

// IsClosed reports whether the queue has been closed.
func (q *PriorityQueue) IsClosed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// finish transitions an active job to a terminal state and releases its
// event id for future submissions.
func (q *PriorityQueue) finish(jobID string, state State, reason string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, ok := q.jobs[jobID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	if job.State != StateActive {
		return fmt.Errorf("%w: %s from %s", ErrBadTransition, state, job.State)
	}

	job.State = state
	job.FailedReason = reason
	job.FinishedOn = time.Now().UTC()
	delete(q.byEvent, job.Event.EventID)
	q.counts.Active--
	if state == StateCompleted {
		q.counts.Completed++
	} else {
		q.counts.Failed++
	}

	q.finished = append(q.finished, jobID)
	q.evictFinishedLocked()

	metrics.UpdateQueueDepth(q.pendingLocked())
	// Closing leaves delayed jobs draining through Next; finishing the last
	// active job may be what lets a blocked consumer observe the drain.
	if q.closed {
		q.signalLocked()
	}
	return nil
}

// evictFinishedLocked caps the retained finished jobs, dropping oldest
// first.
func (q *PriorityQueue) evictFinishedLocked() {
	for len(q.finished) > q.finishedLimit {
		id := q.finished[0]
		q.finished = q.finished[1:]
		if job, ok := q.jobs[id]; ok {
			if job.State == StateCompleted {
				q.counts.Completed--
			} else {
				q.counts.Failed--
			}
			delete(q.jobs, id)
		}
	}
}

// promoteDueLocked moves delayed jobs whose RunAt has passed into the
// ready set.
func (q *PriorityQueue) promoteDueLocked(now time.Time) {
	for q.delayed.Len() > 0 && !q.delayed[0].RunAt.After(now) {
		job := heap.Pop(&q.delayed).(*Job)
		job.State = StateWaiting
		heap.Push(&q.ready, job)
		q.counts.Delayed--
		q.counts.Waiting++
	}
}

func (q *PriorityQueue) pendingLocked() int {
	return q.counts.Waiting + q.counts.Active + q.counts.Delayed
}

func (q *PriorityQueue) signalLocked() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}
