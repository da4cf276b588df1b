package loadgen

import (
	"context"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
)

func TestGenerateLeads(t *testing.T) {
	Convey("Given a lead count", t, func() {
		config := &Config{NumLeads: 25}

		Convey("When leads are generated", func() {
			leads := generateLeads(context.Background(), config)

			Convey("Then each lead has a unique ID and contact fields", func() {
				So(leads, ShouldHaveLength, 25)
				seen := make(map[string]struct{}, len(leads))
				for _, lead := range leads {
					So(lead.ID, ShouldNotBeEmpty)
					So(lead.Email, ShouldContainSubstring, "@")
					_, dup := seen[lead.ID]
					So(dup, ShouldBeFalse)
					seen[lead.ID] = struct{}{}
				}
			})
		})
	})
}

func TestGenerateEvents(t *testing.T) {
	Convey("Given leads and an event budget", t, func() {
		ctx := context.Background()
		leads := generateLeads(ctx, &Config{NumLeads: 5})

		Convey("When injection is disabled", func() {
			config := &Config{NumEvents: 200}
			stats := &Stats{}
			events := generateEvents(ctx, config, leads, stats)

			Convey("Then events are unique and timestamps ascend", func() {
				So(events, ShouldHaveLength, 200)
				So(stats.EventsGenerated, ShouldEqual, 200)

				seen := make(map[string]struct{}, len(events))
				var prev time.Time
				for _, ev := range events {
					_, dup := seen[ev.EventID]
					So(dup, ShouldBeFalse)
					seen[ev.EventID] = struct{}{}

					ts, err := time.Parse(time.RFC3339, ev.Timestamp)
					So(err, ShouldBeNil)
					So(ts.Before(prev), ShouldBeFalse)
					prev = ts
				}
			})
		})

		Convey("When duplicates are forced on every event", func() {
			config := &Config{NumEvents: 50, DuplicatePct: 100}
			stats := &Stats{}
			events := generateEvents(ctx, config, leads, stats)

			Convey("Then only the first event ID is ever used", func() {
				So(events, ShouldHaveLength, 50)
				for _, ev := range events {
					So(ev.EventID, ShouldEqual, events[0].EventID)
				}
			})
		})
	})
}

func TestRandomEventType(t *testing.T) {
	Convey("Given the weighted type distribution", t, func() {
		valid := map[string]struct{}{
			"page_view":       {},
			"email_open":      {},
			"form_submission": {},
			"demo_request":    {},
			"purchase":        {},
		}

		Convey("Then every draw lands on a known type", func() {
			for i := 0; i < 500; i++ {
				_, ok := valid[randomEventType()]
				So(ok, ShouldBeTrue)
			}
		})
	})
}
