package scoring

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/okian/leadscore/internal/adapters/repository"
	"github.com/okian/leadscore/internal/domain/model"
	"github.com/okian/leadscore/pkg/metrics"
)

// Summary reports the before/after totals of one recalculation.
type Summary struct {
	PreviousScore   int
	NewScore        int
	EventsProcessed int
}

// Recalculator rebuilds a lead's ledger by replaying every processed event
// from score zero, clamping at each step. Replays for the same lead are
// guarded: a second concurrent request is rejected with
// ErrRecalculationConflict and retried through the queue. Replays for
// different leads run fully in parallel.
//
// Rule values used are those active at recalculation time. Editing a rule and
// recalculating retroactively rewrites that lead's historical scoring; this
// is the documented semantic of the unversioned rule table.
type Recalculator struct {
	store    repository.Store
	rules    RuleSource
	maxScore int
	guards   sync.Map // leadID -> *sync.Mutex
}

func newRecalculator(store repository.Store, rules RuleSource, maxScore int) *Recalculator {
	return &Recalculator{
		store:    store,
		rules:    rules,
		maxScore: maxScore,
	}
}

// tryAcquire takes the lead's replay guard without blocking. The guard is
// always acquired via TryLock, so a replay holder and a stripe holder can
// never deadlock on each other.
func (r *Recalculator) tryAcquire(leadID string) (func(), error) {
	guard, _ := r.guards.LoadOrStore(leadID, &sync.Mutex{})
	mu := guard.(*sync.Mutex)
	if !mu.TryLock() {
		metrics.RecordRecalcConflict()
		return nil, fmt.Errorf("%w: lead %s", ErrRecalculationConflict, leadID)
	}
	return mu.Unlock, nil
}

// replay rebuilds and atomically publishes the lead's ledger. A pending
// event, when given, joins the replay at its chronological position and has
// its processed flag flipped inside the same ledger swap; a failed swap
// leaves it unprocessed so the caller's retry repeats the whole application.
// The caller must hold both the replay guard and the lead's stripe lock.
func (r *Recalculator) replay(ctx context.Context, leadID string, pending *model.Event) (Summary, error) {
	start := time.Now()
	defer func() {
		metrics.RecordRecalcLatency(float64(time.Since(start).Milliseconds()))
	}()

	lead, err := r.store.Lead(ctx, leadID)
	if err != nil {
		if errors.Is(err, repository.ErrLeadNotFound) {
			return Summary{}, fmt.Errorf("%w: %s", ErrLeadNotFound, leadID)
		}
		return Summary{}, fmt.Errorf("load lead %s: %w", leadID, err)
	}

	events, err := r.store.ProcessedEvents(ctx, leadID)
	if err != nil {
		return Summary{}, fmt.Errorf("load events for %s: %w", leadID, err)
	}

	processID := ""
	if pending != nil && !pending.Processed {
		events = insertOrdered(events, *pending)
		processID = pending.EventID
	}

	score := 0
	entries := make([]model.HistoryEntry, 0, len(events))
	for _, ev := range events {
		rule, err := r.rules.ActiveRule(ctx, ev.EventType)
		if err != nil {
			// Rule missing or inactive at replay time: the event stays
			// ledgered but contributes nothing to this replay.
			continue
		}
		next := clamp(score+rule.Points, r.maxScore)
		entries = append(entries, model.HistoryEntry{
			LeadID:        leadID,
			EventID:       ev.EventID,
			EventType:     ev.EventType,
			Score:         next,
			PreviousScore: score,
			Change:        next - score,
			Reason:        reasonFor(rule),
			Timestamp:     ev.Timestamp,
		})
		score = next
	}

	// Build-then-publish: the swap of ledger, score, and the pending event's
	// processed flag is a single atomic store operation, so no observer ever
	// sees a partially rebuilt ledger or a half-applied event.
	if _, err := r.store.ReplaceHistory(ctx, leadID, entries, score, processID); err != nil {
		return Summary{}, fmt.Errorf("publish ledger for %s: %w", leadID, err)
	}

	metrics.RecordRecalculation()
	return Summary{
		PreviousScore:   lead.Score,
		NewScore:        score,
		EventsProcessed: len(events),
	}, nil
}

// insertOrdered splices ev into a slice ordered by (timestamp, ingestion
// seq), preserving the order.
func insertOrdered(events []model.Event, ev model.Event) []model.Event {
	i := sort.Search(len(events), func(i int) bool {
		if !events[i].Timestamp.Equal(ev.Timestamp) {
			return events[i].Timestamp.After(ev.Timestamp)
		}
		return events[i].Seq > ev.Seq
	})
	events = append(events, model.Event{})
	copy(events[i+1:], events[i:])
	events[i] = ev
	return events
}
