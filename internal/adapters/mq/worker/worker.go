// Package worker runs the pool that drains the job queue through the
// scoring engine.
//
// Each job gets a per-attempt timeout. Failures split into terminal and
// transient: malformed events fail their job immediately, everything else
// retries with exponential backoff until the attempt ceiling, after which
// the job is dead-lettered with its last error as the reason.
package worker

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/okian/leadscore/internal/adapters/mq/queue"
	"github.com/okian/leadscore/internal/domain/model"
	"github.com/okian/leadscore/internal/domain/scoring"
	"github.com/okian/leadscore/pkg/logger"
	"github.com/okian/leadscore/pkg/metrics"
)

// Default worker configuration constants.
const (
	defaultWorkerCount = 5
	defaultMaxAttempts = 5
	defaultBackoffBase = 200 * time.Millisecond
	defaultBackoffMax  = 30 * time.Second
	defaultJobTimeout  = 5 * time.Second
)

// Applier applies one event to its lead.
type Applier interface {
	ApplyEvent(ctx context.Context, ev model.Event) (scoring.Result, error)
}

// Source is how workers pull and resolve jobs.
type Source interface {
	Next(ctx context.Context) (queue.Job, error)
	Complete(jobID string) error
	Fail(jobID, reason string) error
	Retry(jobID, reason string, delay time.Duration) error
}

// Pool drains a job source through an applier with bounded concurrency.
type Pool struct {
	source  Source
	applier Applier

	workers     int
	maxAttempts int
	backoffBase time.Duration
	backoffMax  time.Duration
	jobTimeout  time.Duration

	wg     sync.WaitGroup
	cancel context.CancelFunc
	logger logger.Logger
}

// NewPool creates a worker pool with configuration options.
func NewPool(source Source, applier Applier, opts ...Option) *Pool {
	p := &Pool{
		source:      source,
		applier:     applier,
		workers:     defaultWorkerCount,
		maxAttempts: defaultMaxAttempts,
		backoffBase: defaultBackoffBase,
		backoffMax:  defaultBackoffMax,
		jobTimeout:  defaultJobTimeout,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.logger == nil {
		p.logger = logger.Get().Named("worker")
	}
	return p
}

// Workers returns the configured pool size.
func (p *Pool) Workers() int {
	return p.workers
}

// Start launches the workers. They run until Shutdown or ctx cancellation.
func (p *Pool) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel

	metrics.UpdateWorkerCount(p.workers)
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.run(runCtx, p.logger.Named("worker-"+strconv.Itoa(i)))
	}
}

// Shutdown stops the pool and waits for in-flight jobs to settle, bounded
// by ctx.
func (p *Pool) Shutdown(ctx context.Context) error {
	if p.cancel != nil {
		p.cancel()
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		p.logger.Warn(ctx, "worker shutdown timed out")
		return ctx.Err()
	}
}

// run is one worker's loop: pull, process, resolve, repeat.
func (p *Pool) run(ctx context.Context, log logger.Logger) {
	defer p.wg.Done()

	for {
		job, err := p.source.Next(ctx)
		if err != nil {
			if errors.Is(err, queue.ErrClosed) || errors.Is(err, context.Canceled) {
				return
			}
			log.Error(ctx, "dequeue failed", logger.Error(err))
			continue
		}
		p.process(ctx, log, job)
	}
}

// process applies the job's event and resolves the job.
func (p *Pool) process(ctx context.Context, log logger.Logger, job queue.Job) {
	start := time.Now()
	defer func() {
		metrics.RecordWorkerProcessingLatency(float64(time.Since(start).Milliseconds()))
	}()

	jobCtx, cancel := context.WithTimeout(ctx, p.jobTimeout)
	defer cancel()

	_, err := p.applier.ApplyEvent(jobCtx, job.Event)
	if err == nil {
		if cerr := p.source.Complete(job.ID); cerr != nil {
			log.Error(ctx, "complete failed", logger.String("jobID", job.ID), logger.Error(cerr))
		}
		return
	}

	metrics.RecordWorkerError()

	if terminal(err) {
		log.Warn(ctx, "job failed terminally",
			logger.String("jobID", job.ID),
			logger.String("eventID", job.Event.EventID),
			logger.Error(err),
		)
		if ferr := p.source.Fail(job.ID, err.Error()); ferr != nil {
			log.Error(ctx, "fail failed", logger.String("jobID", job.ID), logger.Error(ferr))
		}
		return
	}

	if job.AttemptsMade >= p.maxAttempts {
		log.Warn(ctx, "job dead-lettered after exhausting attempts",
			logger.String("jobID", job.ID),
			logger.String("eventID", job.Event.EventID),
			logger.Int("attempts", job.AttemptsMade),
			logger.Error(err),
		)
		if ferr := p.source.Fail(job.ID, err.Error()); ferr != nil {
			log.Error(ctx, "fail failed", logger.String("jobID", job.ID), logger.Error(ferr))
		}
		return
	}

	delay := p.backoff(job.AttemptsMade)
	metrics.RecordWorkerRetry()
	log.Debug(ctx, "job retrying",
		logger.String("jobID", job.ID),
		logger.Int("attempt", job.AttemptsMade),
		logger.Duration("delay", delay),
		logger.Error(err),
	)
	if rerr := p.source.Retry(job.ID, err.Error(), delay); rerr != nil {
		log.Error(ctx, "retry failed", logger.String("jobID", job.ID), logger.Error(rerr))
	}
}

// backoff computes the exponential delay for the attempt just made,
// capped at backoffMax.
func (p *Pool) backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := p.backoffBase
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= p.backoffMax {
			return p.backoffMax
		}
	}
	if delay > p.backoffMax {
		return p.backoffMax
	}
	return delay
}

// terminal reports whether the error can never succeed on retry.
func terminal(err error) bool {
	return errors.Is(err, scoring.ErrInvalidEvent)
}
