// Package repository defines the persistence contract for leads, the event
// ledger, and the per-lead score history, plus its in-memory and SQLite
// implementations.
//
// The store is the sole authority for a lead's current score. The contract
// the engines rely on:
//   - RecordIfNew is an atomic insert-or-fetch keyed by event id; concurrent
//     identical inserts resolve to exactly one winner.
//   - CommitApplication writes score, history row, and the processed flag as
//     one atomic unit.
//   - ReplaceHistory swaps a lead's entire ledger and score atomically; an
//     observer sees either the old consistent ledger or the new one, never a
//     mixture.
package repository

import (
	"context"
	"time"

	"github.com/okian/leadscore/internal/domain/model"
)

// Store provides read/write access to leads, events, and score history.
type Store interface {
	// PutLead inserts or replaces a lead record. Score is preserved when the
	// lead already exists; lead identity lifecycle is owned elsewhere.
	PutLead(ctx context.Context, lead model.Lead) error

	// Lead returns the lead by id. Returns ErrLeadNotFound if unknown.
	Lead(ctx context.Context, leadID string) (model.Lead, error)

	// LeadCount returns the number of tracked leads.
	LeadCount(ctx context.Context) int

	// RecordIfNew atomically inserts the event or fetches the existing record
	// with the same event id. Returns the stored record and true when the
	// caller won the insert. The stored record carries the ingestion Seq.
	RecordIfNew(ctx context.Context, e model.Event) (model.Event, bool, error)

	// Event returns the ledgered event by id. Returns ErrEventNotFound.
	Event(ctx context.Context, eventID string) (model.Event, error)

	// MarkProcessed flips the processed flag. Idempotent: marking an already
	// processed event is a no-op.
	MarkProcessed(ctx context.Context, eventID string, at time.Time) error

	// ProcessedEvents returns every processed event for the lead ordered by
	// (timestamp, ingestion seq). This is the replay source.
	ProcessedEvents(ctx context.Context, leadID string) ([]model.Event, error)

	// LatestEntry returns the history entry with the greatest (timestamp,
	// seq) for the lead, or ok=false when the ledger is empty.
	LatestEntry(ctx context.Context, leadID string) (model.HistoryEntry, bool, error)

	// History returns the lead's full ledger ordered by (timestamp, seq).
	History(ctx context.Context, leadID string) ([]model.HistoryEntry, error)

	// CommitApplication atomically sets the lead's score to entry.Score,
	// appends entry to the ledger (assigning the ledger-write sequence), and
	// marks entry.EventID processed. Returns the completed entry.
	CommitApplication(ctx context.Context, entry model.HistoryEntry) (model.HistoryEntry, error)

	// ReplaceHistory atomically replaces the lead's ledger with entries (in
	// the given order, sequences reassigned from 1) and sets the score. A
	// non-empty processEventID marks that event processed in the same atomic
	// unit, so a failed replacement leaves the event unprocessed. Returns the
	// stored entries.
	ReplaceHistory(ctx context.Context, leadID string, entries []model.HistoryEntry, newScore int, processEventID string) ([]model.HistoryEntry, error)

	// Close releases underlying resources.
	Close() error
}
