package loadgen

import (
	"context"
	"crypto/rand"
	"math/big"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/okian/leadscore/pkg/logger"
)

// Constants for random number generation.
const (
	percentDivisor = 100
	weightDivisor  = 100
)

// Cumulative weights for event type selection, out of 100. Page views
// dominate real funnels; purchases are rare.
const (
	weightPageView       = 55
	weightEmailOpen      = 75
	weightFormSubmission = 90
	weightDemoRequest    = 97
)

// randomInt returns a random int in [0, max) using crypto/rand.
func randomInt(max int64) int64 {
	n, _ := rand.Int(rand.Reader, big.NewInt(max))
	return n.Int64()
}

// generateLeads creates lead records with unique IDs.
func generateLeads(ctx context.Context, config *Config) []Lead {
	logger.Get().Info(ctx, "generating leads", logger.Int("numLeads", config.NumLeads))

	leads := make([]Lead, config.NumLeads)
	for i := range leads {
		id := uuid.New().String()
		leads[i] = Lead{
			ID:    id,
			Name:  "lead-" + strconv.Itoa(i),
			Email: "lead-" + strconv.Itoa(i) + "@example.com",
		}
	}
	return leads
}

// generateEvents creates events spread across the given leads. A
// configurable share of events is backdated behind earlier events for
// the same lead, and another share reuses an earlier event ID to
// exercise the idempotency gate.
func generateEvents(ctx context.Context, config *Config, leads []Lead, stats *Stats) []Event {
	logger.Get().Info(ctx, "generating events",
		logger.Int("numEvents", config.NumEvents),
		logger.Int("outOfOrderPct", config.OutOfOrderPct),
		logger.Int("duplicatePct", config.DuplicatePct))

	events := make([]Event, 0, config.NumEvents)
	base := time.Now().UTC().Add(-time.Duration(config.NumEvents) * time.Second)

	for i := 0; i < config.NumEvents; i++ {
		lead := leads[randomInt(int64(len(leads)))]
		ts := base.Add(time.Duration(i) * time.Second)

		if len(events) > 0 && randomInt(percentDivisor) < int64(config.DuplicatePct) {
			// Resend an earlier event verbatim.
			events = append(events, events[randomInt(int64(len(events)))])
			continue
		}

		if randomInt(percentDivisor) < int64(config.OutOfOrderPct) {
			// Backdate behind everything generated so far.
			ts = base.Add(-time.Duration(randomInt(3600)) * time.Second)
		}

		events = append(events, Event{
			EventID:   "evt_" + strconv.Itoa(i) + "_" + uuid.New().String(),
			LeadID:    lead.ID,
			EventType: randomEventType(),
			Timestamp: ts.Format(time.RFC3339),
		})
	}

	stats.EventsGenerated = len(events)
	logger.Get().Info(ctx, "generated events", logger.Int("count", len(events)))
	return events
}

// randomEventType picks an event type from a weighted distribution.
func randomEventType() string {
	n := randomInt(weightDivisor)
	switch {
	case n < weightPageView:
		return "page_view"
	case n < weightEmailOpen:
		return "email_open"
	case n < weightFormSubmission:
		return "form_submission"
	case n < weightDemoRequest:
		return "demo_request"
	default:
		return "purchase"
	}
}
