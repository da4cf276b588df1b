// Package model contains domain models passed between layers.
package model

import (
	"errors"
	"strings"
	"time"
)

// EventType identifies the kind of interaction an event records. The set is
// extensible through configuration: any type with an active scoring rule is
// accepted.
type EventType string

// Well-known event types, ordered here from least to most significant.
const (
	EventPageView       EventType = "page_view"
	EventEmailOpen      EventType = "email_open"
	EventFormSubmission EventType = "form_submission"
	EventDemoRequest    EventType = "demo_request"
	EventPurchase       EventType = "purchase"
)

// Priority returns the queue scheduling priority for the event type.
// Higher values are dequeued first. This is a throughput hint only;
// correctness does not depend on delivery order.
func (t EventType) Priority() int {
	switch t {
	case EventPurchase:
		return 4
	case EventDemoRequest:
		return 3
	case EventFormSubmission:
		return 2
	case EventEmailOpen:
		return 1
	default:
		return 0
	}
}

// Event is an interaction record submitted by producers. EventID is the
// idempotency key: the ledger holds at most one row per EventID, and the
// processed flag transitions false->true exactly once.
type Event struct {
	EventID   string            // globally unique idempotency key
	LeadID    string            // subject lead
	EventType EventType         // scored against the rule table
	Timestamp time.Time         // event-time, caller-supplied
	Metadata  map[string]string // opaque attributes, never interpreted

	// Assigned by the ledger on first ingestion.
	Seq         uint64 // monotonic ingestion sequence, tie-break for equal timestamps
	Processed   bool
	ProcessedAt time.Time
}

// Validation errors returned by Event.Validate.
var (
	ErrMissingEventID   = errors.New("missing event_id")
	ErrMissingLeadID    = errors.New("missing lead_id")
	ErrMissingEventType = errors.New("missing event_type")
	ErrMissingTimestamp = errors.New("missing timestamp")
)

// Validate checks the fields a producer must supply. It runs synchronously at
// ingestion time; invalid events are never queued.
func (e *Event) Validate() error {
	switch {
	case strings.TrimSpace(e.EventID) == "":
		return ErrMissingEventID
	case strings.TrimSpace(e.LeadID) == "":
		return ErrMissingLeadID
	case strings.TrimSpace(string(e.EventType)) == "":
		return ErrMissingEventType
	case e.Timestamp.IsZero():
		return ErrMissingTimestamp
	}
	return nil
}

// Lead is a tracked prospect carrying a bounded interest score. Score is
// mutable only through the scoring and recalculation engines; the repository
// is the sole authority for its value.
type Lead struct {
	ID        string
	Name      string
	Email     string
	Score     int
	CreatedAt time.Time
}

// ScoringRule configures the signed point delta for one event type.
// Inactive rules block scoring while still allowing events to be ledgered.
type ScoringRule struct {
	EventType   EventType `yaml:"event_type"`
	Points      int       `yaml:"points"`
	Active      bool      `yaml:"active"`
	Description string    `yaml:"description"`
}

// HistoryEntry is one row of a lead's append-only score ledger. Entries are
// ordered by (Timestamp, Seq); Seq is assigned at ledger-write time so that
// ordering stays deterministic under equal timestamps.
type HistoryEntry struct {
	LeadID        string
	EventID       string
	EventType     EventType
	Score         int // score after this transition
	PreviousScore int
	Change        int // applied delta after clamping
	Reason        string
	Timestamp     time.Time // event-time of the triggering event
	Seq           uint64    // per-lead monotonic ledger sequence
	RecordedAt    time.Time
}

// ScoreUpdate is the notification payload broadcast after every score
// transition. Delivery is best-effort; loss never affects stored state.
type ScoreUpdate struct {
	LeadID        string    `json:"lead_id"`
	LeadName      string    `json:"lead_name"`
	LeadEmail     string    `json:"lead_email"`
	PreviousScore int       `json:"previous_score"`
	NewScore      int       `json:"new_score"`
	Change        int       `json:"change"`
	EventType     EventType `json:"event_type"`
	Timestamp     time.Time `json:"timestamp"`
	OutOfOrder    bool      `json:"out_of_order"`
}
