// Package scoring applies interaction events to lead scores.
//
// The engine guarantees exactly-once business effect under at-least-once
// delivery: the event ledger is the idempotency gate, score arithmetic is
// clamped to [0, MaxScore] at every step, and an event arriving behind the
// ledger's tail triggers a full deterministic recalculation instead of a
// local delta (clamping makes accumulation order-dependent, so an insertion
// before the tail invalidates every later entry).
package scoring

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/okian/leadscore/internal/adapters/repository"
	"github.com/okian/leadscore/internal/domain/model"
	"github.com/okian/leadscore/pkg/logger"
	"github.com/okian/leadscore/pkg/metrics"
)

// Default engine configuration constants.
const (
	DefaultMaxScore    = 1000
	defaultLockStripes = 64
)

// RuleSource abstracts the rule table read path.
type RuleSource interface {
	// ActiveRule returns the rule for eventType if present and active.
	ActiveRule(ctx context.Context, eventType model.EventType) (model.ScoringRule, error)
}

// Notifier receives score updates after every transition. Implementations
// must be fire-and-forget; the engine never blocks on delivery outcomes.
type Notifier interface {
	Broadcast(ctx context.Context, update model.ScoreUpdate)
}

// nopNotifier drops updates.
type nopNotifier struct{}

func (nopNotifier) Broadcast(context.Context, model.ScoreUpdate) {}

// Result reports the outcome of applying one event.
type Result struct {
	Duplicate     bool
	OutOfOrder    bool
	PreviousScore int
	NewScore      int
	Change        int
	EventType     model.EventType
}

// Engine applies events to leads. Safe for concurrent use.
type Engine struct {
	store    repository.Store
	rules    RuleSource
	notifier Notifier
	maxScore int
	stripes  int
	locks    *stripedLock
	recalc   *Recalculator
	logger   logger.Logger
}

// Option applies a configuration option to the Engine.
type Option func(*Engine)

// WithMaxScore sets the score ceiling (floor is always 0).
func WithMaxScore(max int) Option {
	return func(e *Engine) {
		if max > 0 {
			e.maxScore = max
		}
	}
}

// WithLockStripes sets the number of per-lead lock stripes.
func WithLockStripes(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.stripes = n
		}
	}
}

// WithNotifier sets the score update notifier.
func WithNotifier(n Notifier) Option {
	return func(e *Engine) {
		if n != nil {
			e.notifier = n
		}
	}
}

// WithLogger sets a custom logger for the engine.
func WithLogger(l logger.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// NewEngine constructs an Engine over the given store and rule source.
func NewEngine(store repository.Store, rules RuleSource, opts ...Option) *Engine {
	e := &Engine{
		store:    store,
		rules:    rules,
		notifier: nopNotifier{},
		maxScore: DefaultMaxScore,
		stripes:  defaultLockStripes,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = logger.Get().Named("scoring")
	}
	e.locks = newStripedLock(e.stripes)
	e.recalc = newRecalculator(e.store, e.rules, e.maxScore)
	return e
}

// clamp bounds v to [0, max]. Applied at every accumulation step, never only
// at the end: hitting the floor or ceiling mid-sequence changes all
// subsequent deltas, which is exactly why reordering forces recalculation.
func clamp(v, max int) int {
	if v < 0 {
		return 0
	}
	if v > max {
		return max
	}
	return v
}

// ApplyEvent applies one event to its lead.
//
// Duplicate-and-processed events return Result{Duplicate: true} with no side
// effects. In-order events mutate score and append one ledger row. An event
// whose timestamp precedes the ledger tail is answered by a full
// recalculation that splices it in at its chronological position; the result
// carries the recalculation's before and after totals with OutOfOrder set.
func (e *Engine) ApplyEvent(ctx context.Context, ev model.Event) (Result, error) {
	start := time.Now()
	defer func() {
		metrics.RecordApplyLatency(float64(time.Since(start).Milliseconds()))
	}()

	if err := ev.Validate(); err != nil {
		return Result{}, fmt.Errorf("%w: %w", ErrInvalidEvent, err)
	}

	// Idempotency gate: insert-or-fetch. A processed record means the
	// business effect already happened; observing it again is a no-op.
	rec, isNew, err := e.store.RecordIfNew(ctx, ev)
	if err != nil {
		return Result{}, fmt.Errorf("record event %s: %w", ev.EventID, err)
	}
	if !isNew && rec.Processed {
		metrics.RecordEventDuplicate()
		e.logger.Debug(ctx, "duplicate event",
			logger.String("eventID", rec.EventID),
			logger.String("leadID", rec.LeadID),
		)
		return Result{Duplicate: true, EventType: rec.EventType}, nil
	}
	// A pre-existing unprocessed record is an interrupted attempt; it rides
	// the same path as a fresh insert.

	rule, err := e.rules.ActiveRule(ctx, rec.EventType)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %w", ErrNoActiveRule, err)
	}

	unlock := e.locks.lock(rec.LeadID)
	defer unlock()

	lead, err := e.store.Lead(ctx, rec.LeadID)
	if err != nil {
		if errors.Is(err, repository.ErrLeadNotFound) {
			return Result{}, fmt.Errorf("%w: %s", ErrLeadNotFound, rec.LeadID)
		}
		return Result{}, fmt.Errorf("load lead %s: %w", rec.LeadID, err)
	}

	latest, hasHistory, err := e.store.LatestEntry(ctx, rec.LeadID)
	if err != nil {
		return Result{}, fmt.Errorf("load ledger tail for %s: %w", rec.LeadID, err)
	}

	if hasHistory && rec.Timestamp.Before(latest.Timestamp) {
		return e.applyOutOfOrder(ctx, lead, rec)
	}
	return e.applyInOrder(ctx, lead, rec, rule)
}

// applyInOrder performs the fast path: one clamped delta, one ledger row.
func (e *Engine) applyInOrder(ctx context.Context, lead model.Lead, ev model.Event, rule model.ScoringRule) (Result, error) {
	newScore := clamp(lead.Score+rule.Points, e.maxScore)
	entry := model.HistoryEntry{
		LeadID:        lead.ID,
		EventID:       ev.EventID,
		EventType:     ev.EventType,
		Score:         newScore,
		PreviousScore: lead.Score,
		Change:        newScore - lead.Score,
		Reason:        reasonFor(rule),
		Timestamp:     ev.Timestamp,
	}
	if _, err := e.store.CommitApplication(ctx, entry); err != nil {
		return Result{}, fmt.Errorf("commit event %s: %w", ev.EventID, err)
	}

	res := Result{
		PreviousScore: lead.Score,
		NewScore:      newScore,
		Change:        newScore - lead.Score,
		EventType:     ev.EventType,
	}
	metrics.RecordEventProcessed()
	e.broadcast(ctx, lead, res, ev.Timestamp)
	return res, nil
}

// applyOutOfOrder rebuilds the lead's ledger from scratch with the new event
// spliced in at its chronological position. No local delta is applied. The
// event's processed flag only flips inside the replay's atomic ledger swap:
// a failed or conflicted replay leaves the event unprocessed, so the retry
// repeats the whole application instead of hitting the duplicate gate.
func (e *Engine) applyOutOfOrder(ctx context.Context, lead model.Lead, ev model.Event) (Result, error) {
	e.logger.Debug(ctx, "out-of-order event, recalculating",
		logger.String("eventID", ev.EventID),
		logger.String("leadID", ev.LeadID),
		logger.Time("eventTS", ev.Timestamp),
	)

	release, err := e.recalc.tryAcquire(ev.LeadID)
	if err != nil {
		return Result{}, err
	}
	defer release()

	sum, err := e.recalc.replay(ctx, ev.LeadID, &ev)
	if err != nil {
		return Result{}, err
	}

	res := Result{
		OutOfOrder:    true,
		PreviousScore: sum.PreviousScore,
		NewScore:      sum.NewScore,
		Change:        sum.NewScore - sum.PreviousScore,
		EventType:     ev.EventType,
	}
	metrics.RecordEventOutOfOrder()
	metrics.RecordEventProcessed()
	e.broadcast(ctx, lead, res, ev.Timestamp)
	return res, nil
}

// Recalculate rebuilds the lead's ledger on demand. The replay guard is
// taken first (non-blocking, so a concurrent request is rejected with
// ErrRecalculationConflict), then the stripe lock serializes against event
// applications for the same lead.
func (e *Engine) Recalculate(ctx context.Context, leadID string) (Summary, error) {
	release, err := e.recalc.tryAcquire(leadID)
	if err != nil {
		return Summary{}, err
	}
	defer release()

	unlock := e.locks.lock(leadID)
	defer unlock()
	return e.recalc.replay(ctx, leadID, nil)
}

// MaxScore returns the configured score ceiling.
func (e *Engine) MaxScore() int {
	return e.maxScore
}

func (e *Engine) broadcast(ctx context.Context, lead model.Lead, res Result, ts time.Time) {
	e.notifier.Broadcast(ctx, model.ScoreUpdate{
		LeadID:        lead.ID,
		LeadName:      lead.Name,
		LeadEmail:     lead.Email,
		PreviousScore: res.PreviousScore,
		NewScore:      res.NewScore,
		Change:        res.Change,
		EventType:     res.EventType,
		Timestamp:     ts,
		OutOfOrder:    res.OutOfOrder,
	})
}

func reasonFor(rule model.ScoringRule) string {
	if rule.Description != "" {
		return rule.Description
	}
	return string(rule.EventType)
}
