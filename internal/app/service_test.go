package service_test

import (
	"context"
	"errors"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	jobqueue "github.com/okian/leadscore/internal/adapters/mq/queue"
	service "github.com/okian/leadscore/internal/app"
	"github.com/okian/leadscore/internal/config"
	"github.com/okian/leadscore/internal/domain/model"
	"github.com/okian/leadscore/internal/domain/scoring"
)

func testConfig() *config.Config {
	cfg := config.New()
	cfg.WorkerCount = 2
	cfg.MaxAttempts = 2
	cfg.BackoffBaseMS = 1
	cfg.BackoffMaxMS = 5
	return cfg
}

func startService(cfg *config.Config) (*service.Service, func()) {
	svc := service.New(service.WithConfig(cfg))
	if err := svc.Start(context.Background()); err != nil {
		panic(err)
	}
	return svc, svc.Stop
}

func event(id, leadID string, et model.EventType, ts time.Time) model.Event {
	return model.Event{
		EventID:   id,
		LeadID:    leadID,
		EventType: et,
		Timestamp: ts,
	}
}

// waitForJob polls until the job leaves the pending states or the
// deadline expires.
func waitForJob(svc *service.Service, jobID string) (jobqueue.Job, bool) {
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		job, err := svc.Job(jobID)
		if err == nil && !job.State.Pending() {
			return job, true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return jobqueue.Job{}, false
}

func TestServiceSubmitLifecycle(t *testing.T) {
	Convey("Given a started service with a registered lead", t, func() {
		svc, stop := startService(testConfig())
		defer stop()

		ctx := context.Background()
		_, err := svc.CreateLead(ctx, model.Lead{ID: "lead-1", Name: "Ada", Email: "ada@example.com"})
		So(err, ShouldBeNil)

		Convey("When an event is submitted", func() {
			job, err := svc.Submit(ctx, event("evt-1", "lead-1", model.EventPurchase, time.Now()))
			So(err, ShouldBeNil)
			So(job.ID, ShouldNotBeEmpty)

			Convey("Then the job completes and the score is applied", func() {
				done, ok := waitForJob(svc, job.ID)
				So(ok, ShouldBeTrue)
				So(done.State, ShouldEqual, jobqueue.StateCompleted)
				So(done.AttemptsMade, ShouldEqual, 1)

				lead, err := svc.Lead(ctx, "lead-1")
				So(err, ShouldBeNil)
				So(lead.Score, ShouldEqual, 100)

				history, err := svc.LeadHistory(ctx, "lead-1")
				So(err, ShouldBeNil)
				So(history, ShouldHaveLength, 1)
				So(history[0].EventID, ShouldEqual, "evt-1")
			})
		})

		Convey("When an invalid event is submitted", func() {
			_, err := svc.Submit(ctx, model.Event{LeadID: "lead-1"})
			So(errors.Is(err, scoring.ErrInvalidEvent), ShouldBeTrue)
		})

	})
}

func TestServiceSubmitDedup(t *testing.T) {
	Convey("Given a started service with a slow retry schedule", t, func() {
		cfg := testConfig()
		cfg.BackoffBaseMS = 500
		cfg.BackoffMaxMS = 1000
		svc, stop := startService(cfg)
		defer stop()

		ctx := context.Background()

		Convey("When the same event is submitted while still queued", func() {
			first, err := svc.Submit(ctx, event("evt-dup", "ghost-dup", model.EventPageView, time.Now()))
			So(err, ShouldBeNil)
			second, err := svc.Submit(ctx, event("evt-dup", "ghost-dup", model.EventPageView, time.Now()))
			So(err, ShouldBeNil)
			So(second.ID, ShouldEqual, first.ID)
		})
	})
}

func TestServiceDeadLetter(t *testing.T) {
	Convey("Given a started service with no leads", t, func() {
		svc, stop := startService(testConfig())
		defer stop()

		ctx := context.Background()

		Convey("When an event targets an unknown lead", func() {
			job, err := svc.Submit(ctx, event("evt-orphan", "ghost", model.EventDemoRequest, time.Now()))
			So(err, ShouldBeNil)

			Convey("Then the job retries and dead-letters", func() {
				done, ok := waitForJob(svc, job.ID)
				So(ok, ShouldBeTrue)
				So(done.State, ShouldEqual, jobqueue.StateFailed)
				So(done.AttemptsMade, ShouldEqual, 2)
				So(done.FailedReason, ShouldContainSubstring, "lead")
			})
		})
	})
}

func TestServiceSyncApply(t *testing.T) {
	Convey("Given a started service with a registered lead", t, func() {
		svc, stop := startService(testConfig())
		defer stop()

		ctx := context.Background()
		_, err := svc.CreateLead(ctx, model.Lead{ID: "lead-sync"})
		So(err, ShouldBeNil)

		Convey("When an event is applied synchronously", func() {
			res, err := svc.Apply(ctx, event("evt-sync", "lead-sync", model.EventFormSubmission, time.Now()))
			So(err, ShouldBeNil)
			So(res.NewScore, ShouldEqual, 25)
			So(res.Duplicate, ShouldBeFalse)

			Convey("And applying it again reports a duplicate", func() {
				res, err := svc.Apply(ctx, event("evt-sync", "lead-sync", model.EventFormSubmission, time.Now()))
				So(err, ShouldBeNil)
				So(res.Duplicate, ShouldBeTrue)
				So(res.NewScore, ShouldEqual, 25)
			})
		})

		Convey("When a recalculation is requested", func() {
			_, err := svc.Apply(ctx, event("evt-r1", "lead-sync", model.EventEmailOpen, time.Now()))
			So(err, ShouldBeNil)

			summary, err := svc.Recalculate(ctx, "lead-sync")
			So(err, ShouldBeNil)
			So(summary.NewScore, ShouldEqual, 10)
			So(summary.EventsProcessed, ShouldEqual, 1)
		})
	})
}

func TestServiceSubmitBatch(t *testing.T) {
	Convey("Given a started service", t, func() {
		cfg := testConfig()
		cfg.MaxBatch = 3
		// Long retry delay keeps unprocessable jobs pending for the
		// duration of the assertions below.
		cfg.BackoffBaseMS = 500
		cfg.BackoffMaxMS = 1000
		svc, stop := startService(cfg)
		defer stop()

		ctx := context.Background()

		Convey("When a mixed batch is submitted", func() {
			evs := []model.Event{
				event("evt-b1", "ghost-b", model.EventPageView, time.Now()),
				event("evt-b1", "ghost-b", model.EventPageView, time.Now()),
				{LeadID: "ghost-b"},
			}
			result, err := svc.SubmitBatch(ctx, evs)
			So(err, ShouldBeNil)
			So(result.Queued, ShouldEqual, 1)
			So(result.Duplicates, ShouldEqual, 1)
			So(result.Failed, ShouldEqual, 1)
			So(result.JobIDs, ShouldHaveLength, 2)
			So(result.Errors, ShouldHaveLength, 1)
		})

		Convey("When the batch exceeds the limit", func() {
			evs := make([]model.Event, 4)
			_, err := svc.SubmitBatch(ctx, evs)
			So(err, ShouldNotBeNil)
		})

		Convey("When the batch is empty", func() {
			_, err := svc.SubmitBatch(ctx, nil)
			So(err, ShouldNotBeNil)
			So(err.Error(), ShouldContainSubstring, "empty batch")
		})
	})
}

func TestServiceStats(t *testing.T) {
	Convey("Given a started service", t, func() {
		svc, stop := startService(testConfig())
		defer stop()

		ctx := context.Background()
		_, err := svc.CreateLead(ctx, model.Lead{ID: "lead-s"})
		So(err, ShouldBeNil)

		Convey("Then stats report the running state", func() {
			stats := svc.GetStats()
			So(stats["started"], ShouldBeTrue)
			So(stats["totalLeads"], ShouldEqual, 1)
			So(stats["queue"], ShouldNotBeNil)
		})
	})
}
