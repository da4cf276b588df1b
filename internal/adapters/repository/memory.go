package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/okian/leadscore/internal/domain/model"
)

// MemoryStore implements Store with in-process maps. All multi-row writes
// happen under one mutex, which gives the atomicity the contract requires.
type MemoryStore struct {
	mu sync.RWMutex

	leads   map[string]model.Lead
	events  map[string]model.Event
	history map[string][]model.HistoryEntry // ordered by (timestamp, seq)

	ingestSeq uint64            // global ingestion counter for event tie-breaks
	ledgerSeq map[string]uint64 // per-lead ledger-write counter
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		leads:     make(map[string]model.Lead),
		events:    make(map[string]model.Event),
		history:   make(map[string][]model.HistoryEntry),
		ledgerSeq: make(map[string]uint64),
	}
}

// PutLead inserts or replaces a lead, preserving the stored score on replace.
func (s *MemoryStore) PutLead(ctx context.Context, lead model.Lead) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.leads[lead.ID]; ok {
		lead.Score = existing.Score
		lead.CreatedAt = existing.CreatedAt
	} else if lead.CreatedAt.IsZero() {
		lead.CreatedAt = time.Now().UTC()
	}
	s.leads[lead.ID] = lead
	return nil
}

// Lead returns the lead by id.
func (s *MemoryStore) Lead(ctx context.Context, leadID string) (model.Lead, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	lead, ok := s.leads[leadID]
	if !ok {
		return model.Lead{}, fmt.Errorf("%w: %s", ErrLeadNotFound, leadID)
	}
	return lead, nil
}

// LeadCount returns the number of tracked leads.
func (s *MemoryStore) LeadCount(ctx context.Context) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.leads)
}

// RecordIfNew atomically inserts the event or returns the existing record.
func (s *MemoryStore) RecordIfNew(ctx context.Context, e model.Event) (model.Event, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.events[e.EventID]; ok {
		return existing, false, nil
	}

	s.ingestSeq++
	e.Seq = s.ingestSeq
	e.Processed = false
	e.ProcessedAt = time.Time{}
	s.events[e.EventID] = e
	return e, true, nil
}

// Event returns the ledgered event by id.
func (s *MemoryStore) Event(ctx context.Context, eventID string) (model.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.events[eventID]
	if !ok {
		return model.Event{}, fmt.Errorf("%w: %s", ErrEventNotFound, eventID)
	}
	return e, nil
}

// MarkProcessed flips the processed flag exactly once.
func (s *MemoryStore) MarkProcessed(ctx context.Context, eventID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.markProcessedLocked(eventID, at)
}

func (s *MemoryStore) markProcessedLocked(eventID string, at time.Time) error {
	e, ok := s.events[eventID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrEventNotFound, eventID)
	}
	if e.Processed {
		return nil
	}
	e.Processed = true
	e.ProcessedAt = at
	s.events[eventID] = e
	return nil
}

// ProcessedEvents returns the replay source: processed events ordered by
// (timestamp, ingestion seq).
func (s *MemoryStore) ProcessedEvents(ctx context.Context, leadID string) ([]model.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.Event
	for _, e := range s.events {
		if e.LeadID == leadID && e.Processed {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.Before(out[j].Timestamp)
		}
		return out[i].Seq < out[j].Seq
	})
	return out, nil
}

// LatestEntry returns the tail of the lead's ledger.
func (s *MemoryStore) LatestEntry(ctx context.Context, leadID string) (model.HistoryEntry, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := s.history[leadID]
	if len(entries) == 0 {
		return model.HistoryEntry{}, false, nil
	}
	return entries[len(entries)-1], true, nil
}

// History returns the lead's full ledger.
func (s *MemoryStore) History(ctx context.Context, leadID string) ([]model.HistoryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := s.history[leadID]
	out := make([]model.HistoryEntry, len(entries))
	copy(out, entries)
	return out, nil
}

// CommitApplication performs the in-order write: score, ledger row, processed
// flag, all under one lock acquisition.
func (s *MemoryStore) CommitApplication(ctx context.Context, entry model.HistoryEntry) (model.HistoryEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	lead, ok := s.leads[entry.LeadID]
	if !ok {
		return model.HistoryEntry{}, fmt.Errorf("%w: %s", ErrLeadNotFound, entry.LeadID)
	}
	if _, ok := s.events[entry.EventID]; !ok {
		return model.HistoryEntry{}, fmt.Errorf("%w: %s", ErrEventNotFound, entry.EventID)
	}

	s.ledgerSeq[entry.LeadID]++
	entry.Seq = s.ledgerSeq[entry.LeadID]
	if entry.RecordedAt.IsZero() {
		entry.RecordedAt = time.Now().UTC()
	}

	lead.Score = entry.Score
	s.leads[entry.LeadID] = lead
	s.history[entry.LeadID] = append(s.history[entry.LeadID], entry)
	if err := s.markProcessedLocked(entry.EventID, entry.RecordedAt); err != nil {
		return model.HistoryEntry{}, err
	}
	return entry, nil
}

// ReplaceHistory swaps the lead's whole ledger, score, and optionally one
// event's processed flag in one step.
func (s *MemoryStore) ReplaceHistory(ctx context.Context, leadID string, entries []model.HistoryEntry, newScore int, processEventID string) ([]model.HistoryEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	lead, ok := s.leads[leadID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrLeadNotFound, leadID)
	}
	if processEventID != "" {
		if _, ok := s.events[processEventID]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrEventNotFound, processEventID)
		}
	}

	now := time.Now().UTC()
	next := make([]model.HistoryEntry, len(entries))
	for i, e := range entries {
		e.LeadID = leadID
		e.Seq = uint64(i + 1)
		if e.RecordedAt.IsZero() {
			e.RecordedAt = now
		}
		next[i] = e
	}

	lead.Score = newScore
	s.leads[leadID] = lead
	s.history[leadID] = next
	s.ledgerSeq[leadID] = uint64(len(next))
	if processEventID != "" {
		_ = s.markProcessedLocked(processEventID, now)
	}
	return next, nil
}

// Close is a no-op for the in-memory store.
func (s *MemoryStore) Close() error {
	return nil
}
