package repository_test

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/okian/leadscore/internal/adapters/repository"
	"github.com/okian/leadscore/internal/domain/model"
	. "github.com/smartystreets/goconvey/convey"
)

// newStores returns one factory per Store implementation so the contract
// suite runs against both.
func newStores(t *testing.T) map[string]func() repository.Store {
	t.Helper()
	return map[string]func() repository.Store{
		"memory": func() repository.Store {
			return repository.NewMemoryStore()
		},
		"sqlite": func() repository.Store {
			s, err := repository.OpenSQLite(filepath.Join(t.TempDir(), "leadscore.db"))
			if err != nil {
				t.Fatalf("open sqlite: %v", err)
			}
			return s
		},
	}
}

func TestStoreContract(t *testing.T) {
	for name, newStore := range newStores(t) {
		name, newStore := name, newStore
		t.Run(name, func(t *testing.T) {
			testStoreContract(t, newStore)
		})
	}
}

func testStoreContract(t *testing.T, newStore func() repository.Store) {
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	Convey("Given an empty store", t, func() {
		s := newStore()
		defer s.Close()

		Convey("When looking up an unknown lead", func() {
			_, err := s.Lead(ctx, "nobody")
			So(errors.Is(err, repository.ErrLeadNotFound), ShouldBeTrue)
		})

		Convey("When a lead is stored", func() {
			So(s.PutLead(ctx, model.Lead{ID: "lead-1", Name: "Ada", Email: "ada@example.com"}), ShouldBeNil)

			Convey("Then it can be read back with score 0", func() {
				lead, err := s.Lead(ctx, "lead-1")
				So(err, ShouldBeNil)
				So(lead.Score, ShouldEqual, 0)
				So(lead.Name, ShouldEqual, "Ada")
				So(s.LeadCount(ctx), ShouldEqual, 1)
			})

			Convey("And re-putting it preserves the stored score", func() {
				_, err := s.CommitApplication(ctx, applyEntry(s, ctx, "lead-1", "evt-keep", base, 10))
				So(err, ShouldBeNil)
				So(s.PutLead(ctx, model.Lead{ID: "lead-1", Name: "Ada L."}), ShouldBeNil)

				lead, err := s.Lead(ctx, "lead-1")
				So(err, ShouldBeNil)
				So(lead.Score, ShouldEqual, 10)
				So(lead.Name, ShouldEqual, "Ada L.")
			})
		})

		Convey("When the same event is recorded twice", func() {
			ev := model.Event{EventID: "evt-1", LeadID: "lead-1", EventType: model.EventPurchase, Timestamp: base}

			first, isNew, err := s.RecordIfNew(ctx, ev)
			So(err, ShouldBeNil)
			So(isNew, ShouldBeTrue)
			So(first.Seq, ShouldBeGreaterThan, 0)

			second, isNew, err := s.RecordIfNew(ctx, ev)
			So(err, ShouldBeNil)

			Convey("Then the second insert observes the existing record", func() {
				So(isNew, ShouldBeFalse)
				So(second.Seq, ShouldEqual, first.Seq)
			})
		})

		Convey("When identical events are recorded concurrently", func() {
			ev := model.Event{EventID: "evt-race", LeadID: "lead-1", EventType: model.EventPageView, Timestamp: base}

			const n = 16
			var wg sync.WaitGroup
			wins := make(chan bool, n)
			for i := 0; i < n; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					_, isNew, err := s.RecordIfNew(ctx, ev)
					if err == nil && isNew {
						wins <- true
					}
				}()
			}
			wg.Wait()
			close(wins)

			Convey("Then exactly one insert wins", func() {
				So(len(wins), ShouldEqual, 1)
			})
		})

		Convey("When an application is committed", func() {
			So(s.PutLead(ctx, model.Lead{ID: "lead-2"}), ShouldBeNil)
			_, isNew, err := s.RecordIfNew(ctx, model.Event{
				EventID: "evt-2", LeadID: "lead-2", EventType: model.EventDemoRequest, Timestamp: base,
			})
			So(err, ShouldBeNil)
			So(isNew, ShouldBeTrue)

			entry, err := s.CommitApplication(ctx, model.HistoryEntry{
				LeadID: "lead-2", EventID: "evt-2", EventType: model.EventDemoRequest,
				Score: 50, PreviousScore: 0, Change: 50, Reason: "demo_request", Timestamp: base,
			})
			So(err, ShouldBeNil)

			Convey("Then score, ledger, and processed flag move together", func() {
				So(entry.Seq, ShouldEqual, 1)

				lead, err := s.Lead(ctx, "lead-2")
				So(err, ShouldBeNil)
				So(lead.Score, ShouldEqual, 50)

				ev, err := s.Event(ctx, "evt-2")
				So(err, ShouldBeNil)
				So(ev.Processed, ShouldBeTrue)
				So(ev.ProcessedAt.IsZero(), ShouldBeFalse)

				latest, ok, err := s.LatestEntry(ctx, "lead-2")
				So(err, ShouldBeNil)
				So(ok, ShouldBeTrue)
				So(latest.Score, ShouldEqual, 50)
			})

			Convey("And sequences grow monotonically per lead", func() {
				e2, err := s.CommitApplication(ctx, applyEntry(s, ctx, "lead-2", "evt-3", base.Add(time.Minute), 60))
				So(err, ShouldBeNil)
				So(e2.Seq, ShouldEqual, 2)
			})
		})

		Convey("When committing for an unknown lead", func() {
			_, _, err := s.RecordIfNew(ctx, model.Event{
				EventID: "evt-orphan", LeadID: "ghost", EventType: model.EventPageView, Timestamp: base,
			})
			So(err, ShouldBeNil)

			_, err = s.CommitApplication(ctx, model.HistoryEntry{
				LeadID: "ghost", EventID: "evt-orphan", EventType: model.EventPageView,
				Score: 5, Change: 5, Timestamp: base,
			})
			So(errors.Is(err, repository.ErrLeadNotFound), ShouldBeTrue)
		})

		Convey("When processed events are listed", func() {
			So(s.PutLead(ctx, model.Lead{ID: "lead-3"}), ShouldBeNil)

			// Same timestamp twice: ingestion seq must break the tie.
			for _, id := range []string{"evt-a", "evt-b", "evt-c"} {
				ts := base
				if id == "evt-c" {
					ts = base.Add(-time.Hour)
				}
				_, _, err := s.RecordIfNew(ctx, model.Event{
					EventID: id, LeadID: "lead-3", EventType: model.EventPageView, Timestamp: ts,
				})
				So(err, ShouldBeNil)
				So(s.MarkProcessed(ctx, id, base), ShouldBeNil)
			}

			events, err := s.ProcessedEvents(ctx, "lead-3")
			So(err, ShouldBeNil)

			Convey("Then order is (timestamp, ingestion seq)", func() {
				So(len(events), ShouldEqual, 3)
				So(events[0].EventID, ShouldEqual, "evt-c") // earliest timestamp first
				So(events[1].EventID, ShouldEqual, "evt-a")
				So(events[2].EventID, ShouldEqual, "evt-b")
			})
		})

		Convey("When marking an already processed event", func() {
			_, _, err := s.RecordIfNew(ctx, model.Event{
				EventID: "evt-twice", LeadID: "lead-1", EventType: model.EventPageView, Timestamp: base,
			})
			So(err, ShouldBeNil)
			So(s.MarkProcessed(ctx, "evt-twice", base), ShouldBeNil)

			Convey("Then the second mark is a no-op preserving processed_at", func() {
				before, err := s.Event(ctx, "evt-twice")
				So(err, ShouldBeNil)
				So(s.MarkProcessed(ctx, "evt-twice", base.Add(time.Hour)), ShouldBeNil)
				after, err := s.Event(ctx, "evt-twice")
				So(err, ShouldBeNil)
				So(after.ProcessedAt.Equal(before.ProcessedAt), ShouldBeTrue)
			})
		})

		Convey("When a ledger is replaced", func() {
			So(s.PutLead(ctx, model.Lead{ID: "lead-4"}), ShouldBeNil)
			_, err := s.CommitApplication(ctx, applyEntry(s, ctx, "lead-4", "evt-old", base, 25))
			So(err, ShouldBeNil)

			replacement := []model.HistoryEntry{
				{EventID: "evt-new-1", EventType: model.EventPurchase, Score: 100, PreviousScore: 0, Change: 100, Timestamp: base.Add(-time.Hour)},
				{EventID: "evt-old", EventType: model.EventFormSubmission, Score: 125, PreviousScore: 100, Change: 25, Timestamp: base},
			}
			stored, err := s.ReplaceHistory(ctx, "lead-4", replacement, 125, "")
			So(err, ShouldBeNil)

			Convey("Then the ledger and score swap as one unit", func() {
				So(len(stored), ShouldEqual, 2)
				So(stored[0].Seq, ShouldEqual, 1)
				So(stored[1].Seq, ShouldEqual, 2)

				lead, err := s.Lead(ctx, "lead-4")
				So(err, ShouldBeNil)
				So(lead.Score, ShouldEqual, 125)

				history, err := s.History(ctx, "lead-4")
				So(err, ShouldBeNil)
				So(len(history), ShouldEqual, 2)
				So(history[0].EventID, ShouldEqual, "evt-new-1")

				latest, ok, err := s.LatestEntry(ctx, "lead-4")
				So(err, ShouldBeNil)
				So(ok, ShouldBeTrue)
				So(latest.EventID, ShouldEqual, "evt-old")
			})

			Convey("And subsequent commits continue the new sequence", func() {
				e, err := s.CommitApplication(ctx, applyEntry(s, ctx, "lead-4", "evt-after", base.Add(time.Hour), 150))
				So(err, ShouldBeNil)
				So(e.Seq, ShouldEqual, 3)
			})
		})

		Convey("When a replacement also settles its triggering event", func() {
			So(s.PutLead(ctx, model.Lead{ID: "lead-6"}), ShouldBeNil)
			_, _, err := s.RecordIfNew(ctx, model.Event{
				EventID: "evt-trigger", LeadID: "lead-6", EventType: model.EventPurchase, Timestamp: base,
			})
			So(err, ShouldBeNil)

			entries := []model.HistoryEntry{
				{EventID: "evt-trigger", EventType: model.EventPurchase, Score: 100, Change: 100, Timestamp: base},
			}
			_, err = s.ReplaceHistory(ctx, "lead-6", entries, 100, "evt-trigger")
			So(err, ShouldBeNil)

			Convey("Then the processed flag flips with the swap", func() {
				ev, err := s.Event(ctx, "evt-trigger")
				So(err, ShouldBeNil)
				So(ev.Processed, ShouldBeTrue)
				So(ev.ProcessedAt.IsZero(), ShouldBeFalse)
			})
		})

		Convey("When timestamps differ only below the second", func() {
			So(s.PutLead(ctx, model.Lead{ID: "lead-7"}), ShouldBeNil)
			onSecond := base
			midSecond := base.Add(300 * time.Millisecond)

			// The event on the whole second is recorded last, so only the
			// timestamp can put it first.
			for _, ev := range []model.Event{
				{EventID: "evt-mid", LeadID: "lead-7", EventType: model.EventPageView, Timestamp: midSecond},
				{EventID: "evt-on", LeadID: "lead-7", EventType: model.EventPageView, Timestamp: onSecond},
			} {
				_, _, err := s.RecordIfNew(ctx, ev)
				So(err, ShouldBeNil)
				So(s.MarkProcessed(ctx, ev.EventID, base), ShouldBeNil)
			}

			Convey("Then the replay source is chronological", func() {
				events, err := s.ProcessedEvents(ctx, "lead-7")
				So(err, ShouldBeNil)
				So(len(events), ShouldEqual, 2)
				So(events[0].EventID, ShouldEqual, "evt-on")
				So(events[1].EventID, ShouldEqual, "evt-mid")
			})

			Convey("And the ledger tail is the chronologically later entry", func() {
				entries := []model.HistoryEntry{
					{EventID: "evt-on", EventType: model.EventPageView, Score: 5, Change: 5, Timestamp: onSecond},
					{EventID: "evt-mid", EventType: model.EventPageView, Score: 10, PreviousScore: 5, Change: 5, Timestamp: midSecond},
				}
				_, err := s.ReplaceHistory(ctx, "lead-7", entries, 10, "")
				So(err, ShouldBeNil)

				latest, ok, err := s.LatestEntry(ctx, "lead-7")
				So(err, ShouldBeNil)
				So(ok, ShouldBeTrue)
				So(latest.EventID, ShouldEqual, "evt-mid")
			})
		})
	})
}

// applyEntry ledgers an event and builds a matching history entry for
// CommitApplication, keeping tests terse.
func applyEntry(s repository.Store, ctx context.Context, leadID, eventID string, ts time.Time, score int) model.HistoryEntry {
	_, _, _ = s.RecordIfNew(ctx, model.Event{
		EventID: eventID, LeadID: leadID, EventType: model.EventPageView, Timestamp: ts,
	})
	lead, _ := s.Lead(ctx, leadID)
	return model.HistoryEntry{
		LeadID: leadID, EventID: eventID, EventType: model.EventPageView,
		Score: score, PreviousScore: lead.Score, Change: score - lead.Score,
		Reason: "page_view", Timestamp: ts,
	}
}
