// Package service provides the core business service that implements
// the dependencies required by the HTTP API.
package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	jobqueue "github.com/okian/leadscore/internal/adapters/mq/queue"
	workerpool "github.com/okian/leadscore/internal/adapters/mq/worker"
	"github.com/okian/leadscore/internal/adapters/repository"
	"github.com/okian/leadscore/internal/adapters/ws"
	"github.com/okian/leadscore/internal/config"
	"github.com/okian/leadscore/internal/domain/model"
	"github.com/okian/leadscore/internal/domain/rules"
	"github.com/okian/leadscore/internal/domain/scoring"
	"github.com/okian/leadscore/internal/domain/types"
	"github.com/okian/leadscore/pkg/logger"
	"github.com/okian/leadscore/pkg/metrics"
)

// Service wires the store, rule table, queue, workers, scoring engine,
// and notification hub into the API dependency surface.
type Service struct {
	mu sync.RWMutex

	// Core components
	store  repository.Store
	rules  *rules.Store
	queue  *jobqueue.PriorityQueue
	engine *scoring.Engine
	pool   *workerpool.Pool
	hub    *ws.Hub

	// Configuration
	cfg *config.Config

	// State
	started bool
	cancel  context.CancelFunc

	// Logging
	logger logger.Logger
}

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithConfig sets the full service configuration.
func WithConfig(cfg *config.Config) Option {
	return func(s *Service) {
		if cfg != nil {
			s.cfg = cfg
		}
	}
}

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithStore overrides the storage backend, bypassing config selection.
func WithStore(store repository.Store) Option {
	return func(s *Service) {
		if store != nil {
			s.store = store
		}
	}
}

// New constructs a Service with default configuration.
func New(opts ...Option) *Service {
	s := &Service{
		cfg: config.New(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logger.Get().Named("service")
	}
	return s
}

// Start initializes and starts the service components.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}

	s.logger.Info(ctx, "starting lead scoring service...")

	if s.store == nil {
		store, err := s.openStore(ctx)
		if err != nil {
			return err
		}
		s.store = store
	}

	s.rules = rules.NewStore()
	if s.cfg.RulesPath != "" {
		if err := s.rules.LoadFile(ctx, s.cfg.RulesPath); err != nil {
			return fmt.Errorf("load rules: %w", err)
		}
	}

	s.queue = jobqueue.New(jobqueue.WithCapacity(s.cfg.QueueSize))
	s.hub = ws.NewHub(ws.WithSendBuffer(s.cfg.NotifyBuffer))
	s.engine = scoring.NewEngine(s.store, s.rules,
		scoring.WithMaxScore(s.cfg.MaxScore),
		scoring.WithLockStripes(s.cfg.LockStripes),
		scoring.WithNotifier(s.hub),
	)
	s.pool = workerpool.NewPool(s.queue, s.engine,
		workerpool.WithWorkers(s.cfg.WorkerCount),
		workerpool.WithMaxAttempts(s.cfg.MaxAttempts),
		workerpool.WithBackoff(s.cfg.BackoffBase(), s.cfg.BackoffMax()),
		workerpool.WithJobTimeout(s.cfg.JobTimeout()),
	)

	runCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.pool.Start(runCtx)

	if s.cfg.RulesPath != "" && s.cfg.WatchRules {
		go func() {
			if err := s.rules.Watch(runCtx, s.cfg.RulesPath); err != nil {
				s.logger.Warn(runCtx, "rules watch stopped", logger.Error(err))
			}
		}()
	}

	s.started = true
	s.logger.Info(ctx, "lead scoring service started",
		logger.Int("workers", s.cfg.WorkerCount),
		logger.Int("queueSize", s.cfg.QueueSize),
		logger.Int("maxScore", s.cfg.MaxScore),
		logger.String("storage", s.cfg.Storage),
	)

	return nil
}

// openStore builds the configured storage backend.
func (s *Service) openStore(ctx context.Context) (repository.Store, error) {
	switch s.cfg.Storage {
	case config.StorageSQLite:
		store, err := repository.OpenSQLite(s.cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("open sqlite store: %w", err)
		}
		s.logger.Info(ctx, "using sqlite store", logger.String("path", s.cfg.SQLitePath))
		return store, nil
	default:
		s.logger.Info(ctx, "using in-memory store")
		return repository.NewMemoryStore(), nil
	}
}

// Stop gracefully shuts down the service.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return
	}

	ctx := context.Background()
	s.logger.Info(ctx, "stopping lead scoring service...")

	_ = s.queue.Close()

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := s.pool.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn(ctx, "worker pool shutdown incomplete", logger.Error(err))
	}
	if s.cancel != nil {
		s.cancel()
	}

	s.hub.Shutdown()
	if err := s.store.Close(); err != nil {
		s.logger.Warn(ctx, "store close failed", logger.Error(err))
	}

	s.started = false
	s.logger.Info(ctx, "lead scoring service stopped")
}

// Hub exposes the WebSocket hub for route registration.
func (s *Service) Hub() *ws.Hub {
	return s.hub
}

// Submit validates an event and queues it for asynchronous processing.
// Resubmitting an event whose job is still pending returns that job.
func (s *Service) Submit(ctx context.Context, ev model.Event) (jobqueue.Job, error) {
	if err := ev.Validate(); err != nil {
		return jobqueue.Job{}, fmt.Errorf("%w: %w", scoring.ErrInvalidEvent, err)
	}
	job, err := s.queue.Enqueue(ctx, ev)
	if err != nil {
		return jobqueue.Job{}, fmt.Errorf("enqueue event %s: %w", ev.EventID, err)
	}
	return job, nil
}

// SubmitBatch queues a batch of events, isolating per-event failures. The
// batch itself must hold between one and MaxBatch events.
func (s *Service) SubmitBatch(ctx context.Context, evs []model.Event) (types.BatchResult, error) {
	if len(evs) == 0 {
		return types.BatchResult{}, errors.New("empty batch")
	}
	if len(evs) > s.cfg.MaxBatch {
		return types.BatchResult{}, fmt.Errorf("batch of %d exceeds limit %d", len(evs), s.cfg.MaxBatch)
	}

	var result types.BatchResult
	for _, ev := range evs {
		if err := ev.Validate(); err != nil {
			result.Failed++
			result.Errors = append(result.Errors, types.BatchError{EventID: ev.EventID, Error: err.Error()})
			continue
		}
		if existing, ok := s.queue.JobByEvent(ev.EventID); ok {
			result.Duplicates++
			result.JobIDs = append(result.JobIDs, existing.ID)
			continue
		}
		job, err := s.queue.Enqueue(ctx, ev)
		if err != nil {
			result.Failed++
			result.Errors = append(result.Errors, types.BatchError{EventID: ev.EventID, Error: err.Error()})
			continue
		}
		result.Queued++
		result.JobIDs = append(result.JobIDs, job.ID)
	}
	return result, nil
}

// Apply processes an event inline, bypassing the queue.
func (s *Service) Apply(ctx context.Context, ev model.Event) (scoring.Result, error) {
	return s.engine.ApplyEvent(ctx, ev)
}

// Recalculate rebuilds one lead's score from its full event history.
func (s *Service) Recalculate(ctx context.Context, leadID string) (scoring.Summary, error) {
	return s.engine.Recalculate(ctx, leadID)
}

// Job reports the state of a queued submission.
func (s *Service) Job(jobID string) (jobqueue.Job, error) {
	return s.queue.Job(jobID)
}

// Rules lists all configured scoring rules.
func (s *Service) Rules(ctx context.Context) ([]model.ScoringRule, error) {
	return s.rules.Rules(ctx), nil
}

// Rule returns one rule regardless of its active flag.
func (s *Service) Rule(ctx context.Context, eventType model.EventType) (model.ScoringRule, error) {
	return s.rules.Rule(ctx, eventType)
}

// UpdateRule inserts or replaces a scoring rule.
func (s *Service) UpdateRule(ctx context.Context, rule model.ScoringRule) error {
	return s.rules.Update(ctx, rule)
}

// CreateLead registers a lead. Re-registering an existing lead updates
// its profile fields but preserves score and history.
func (s *Service) CreateLead(ctx context.Context, lead model.Lead) (model.Lead, error) {
	if err := s.store.PutLead(ctx, lead); err != nil {
		return model.Lead{}, fmt.Errorf("put lead %s: %w", lead.ID, err)
	}
	created, err := s.store.Lead(ctx, lead.ID)
	if err != nil {
		return model.Lead{}, fmt.Errorf("load lead %s: %w", lead.ID, err)
	}
	metrics.UpdateTotalLeads(s.store.LeadCount(ctx))
	return created, nil
}

// Lead returns one lead's current state.
func (s *Service) Lead(ctx context.Context, leadID string) (model.Lead, error) {
	return s.store.Lead(ctx, leadID)
}

// LeadHistory returns one lead's score ledger in applied order.
func (s *Service) LeadHistory(ctx context.Context, leadID string) ([]model.HistoryEntry, error) {
	if _, err := s.store.Lead(ctx, leadID); err != nil {
		return nil, err
	}
	return s.store.History(ctx, leadID)
}

// MaxBatch caps batch submissions.
func (s *Service) MaxBatch() int {
	return s.cfg.MaxBatch
}

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := map[string]interface{}{
		"started":     s.started,
		"workerCount": s.cfg.WorkerCount,
		"maxScore":    s.cfg.MaxScore,
		"storage":     s.cfg.Storage,
	}

	if s.started {
		counts := s.queue.Counts()
		stats["queue"] = counts
		stats["wsClients"] = s.hub.Count()

		leads := s.store.LeadCount(context.Background())
		stats["totalLeads"] = leads
		metrics.UpdateTotalLeads(leads)
	}

	return stats
}
