package queue_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/leadscore/internal/adapters/mq/queue"
	"github.com/okian/leadscore/internal/domain/model"
)

func eventOf(id string, et model.EventType) model.Event {
	return model.Event{
		EventID:   id,
		LeadID:    "lead-1",
		EventType: et,
		Timestamp: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
	}
}

func TestPriorityOrdering(t *testing.T) {
	ctx := context.Background()

	Convey("Given a queue holding one job of each event type", t, func() {
		q := queue.New()
		defer q.Close()

		for _, et := range []model.EventType{
			model.EventPageView, model.EventEmailOpen, model.EventPurchase,
			model.EventFormSubmission, model.EventDemoRequest,
		} {
			_, err := q.Enqueue(ctx, eventOf("evt-"+string(et), et))
			So(err, ShouldBeNil)
		}

		Convey("When all jobs are dequeued", func() {
			var got []model.EventType
			for i := 0; i < 5; i++ {
				job, err := q.Next(ctx)
				So(err, ShouldBeNil)
				got = append(got, job.Event.EventType)
			}

			Convey("Then they arrive highest priority first", func() {
				So(got, ShouldResemble, []model.EventType{
					model.EventPurchase, model.EventDemoRequest,
					model.EventFormSubmission, model.EventEmailOpen,
					model.EventPageView,
				})
			})
		})
	})

	Convey("Given jobs of equal priority", t, func() {
		q := queue.New()
		defer q.Close()

		for i := 0; i < 3; i++ {
			_, err := q.Enqueue(ctx, eventOf(fmt.Sprintf("evt-%d", i), model.EventPurchase))
			So(err, ShouldBeNil)
		}

		Convey("Then they dequeue in admission order", func() {
			for i := 0; i < 3; i++ {
				job, err := q.Next(ctx)
				So(err, ShouldBeNil)
				So(job.Event.EventID, ShouldEqual, fmt.Sprintf("evt-%d", i))
			}
		})
	})
}

func TestPendingDeduplication(t *testing.T) {
	ctx := context.Background()

	Convey("Given an event already queued", t, func() {
		q := queue.New()
		defer q.Close()

		first, err := q.Enqueue(ctx, eventOf("evt-1", model.EventPurchase))
		So(err, ShouldBeNil)

		Convey("When the same event is submitted again", func() {
			second, err := q.Enqueue(ctx, eventOf("evt-1", model.EventPurchase))
			So(err, ShouldBeNil)

			Convey("Then the existing job is returned, not a new one", func() {
				So(second.ID, ShouldEqual, first.ID)
				So(q.Counts().Waiting, ShouldEqual, 1)
			})
		})

		Convey("When the job finishes, the event id is released", func() {
			job, err := q.Next(ctx)
			So(err, ShouldBeNil)
			So(q.Complete(job.ID), ShouldBeNil)

			_, pending := q.JobByEvent("evt-1")
			So(pending, ShouldBeFalse)

			again, err := q.Enqueue(ctx, eventOf("evt-1", model.EventPurchase))
			So(err, ShouldBeNil)
			So(again.ID, ShouldNotEqual, first.ID)
		})
	})
}

func TestCapacityLimit(t *testing.T) {
	ctx := context.Background()

	Convey("Given a queue with capacity 2", t, func() {
		q := queue.New(queue.WithCapacity(2))
		defer q.Close()

		_, err := q.Enqueue(ctx, eventOf("evt-1", model.EventPageView))
		So(err, ShouldBeNil)
		_, err = q.Enqueue(ctx, eventOf("evt-2", model.EventPageView))
		So(err, ShouldBeNil)

		Convey("When a third job is enqueued", func() {
			_, err := q.Enqueue(ctx, eventOf("evt-3", model.EventPageView))

			Convey("Then admission is refused", func() {
				So(errors.Is(err, queue.ErrQueueFull), ShouldBeTrue)
			})
		})

		Convey("When one job completes, capacity frees up", func() {
			job, err := q.Next(ctx)
			So(err, ShouldBeNil)
			So(q.Complete(job.ID), ShouldBeNil)

			_, err = q.Enqueue(ctx, eventOf("evt-3", model.EventPageView))
			So(err, ShouldBeNil)
		})
	})
}

func TestRetryDelay(t *testing.T) {
	ctx := context.Background()

	Convey("Given an active job sent back for retry", t, func() {
		q := queue.New()
		defer q.Close()

		_, err := q.Enqueue(ctx, eventOf("evt-1", model.EventPurchase))
		So(err, ShouldBeNil)

		job, err := q.Next(ctx)
		So(err, ShouldBeNil)
		So(job.AttemptsMade, ShouldEqual, 1)

		So(q.Retry(job.ID, "store unavailable", 30*time.Millisecond), ShouldBeNil)

		Convey("Then it sits in the delayed set until due", func() {
			So(q.Counts().Delayed, ShouldEqual, 1)

			got, err := q.Next(ctx)
			So(err, ShouldBeNil)
			So(got.ID, ShouldEqual, job.ID)
			So(got.AttemptsMade, ShouldEqual, 2)
			So(got.FailedReason, ShouldEqual, "store unavailable")
			So(time.Now().After(job.EnqueuedAt.Add(25*time.Millisecond)), ShouldBeTrue)
		})

		Convey("And it still deduplicates while delayed", func() {
			dup, err := q.Enqueue(ctx, eventOf("evt-1", model.EventPurchase))
			So(err, ShouldBeNil)
			So(dup.ID, ShouldEqual, job.ID)
		})
	})
}

func TestStateTransitions(t *testing.T) {
	ctx := context.Background()

	Convey("Given a dequeued job", t, func() {
		q := queue.New()
		defer q.Close()

		_, err := q.Enqueue(ctx, eventOf("evt-1", model.EventPurchase))
		So(err, ShouldBeNil)
		job, err := q.Next(ctx)
		So(err, ShouldBeNil)

		Convey("When it fails permanently", func() {
			So(q.Fail(job.ID, "invalid event"), ShouldBeNil)

			got, err := q.Job(job.ID)
			So(err, ShouldBeNil)
			So(got.State, ShouldEqual, queue.StateFailed)
			So(got.FailedReason, ShouldEqual, "invalid event")
			So(got.FinishedOn.IsZero(), ShouldBeFalse)
			So(q.Counts().Failed, ShouldEqual, 1)

			Convey("Then completing it afterwards is rejected", func() {
				So(errors.Is(q.Complete(job.ID), queue.ErrBadTransition), ShouldBeTrue)
			})
		})

		Convey("When an unknown job id is finished", func() {
			So(errors.Is(q.Complete("nope"), queue.ErrJobNotFound), ShouldBeTrue)
		})
	})
}

func TestCloseDrains(t *testing.T) {
	ctx := context.Background()

	Convey("Given a closed queue with one waiting job", t, func() {
		q := queue.New()
		_, err := q.Enqueue(ctx, eventOf("evt-1", model.EventPurchase))
		So(err, ShouldBeNil)
		So(q.Close(), ShouldBeNil)
		So(q.IsClosed(), ShouldBeTrue)

		Convey("Then enqueues are refused but the job still drains", func() {
			_, err := q.Enqueue(ctx, eventOf("evt-2", model.EventPurchase))
			So(errors.Is(err, queue.ErrClosed), ShouldBeTrue)

			job, err := q.Next(ctx)
			So(err, ShouldBeNil)
			So(job.Event.EventID, ShouldEqual, "evt-1")
			So(q.Complete(job.ID), ShouldBeNil)

			_, err = q.Next(ctx)
			So(errors.Is(err, queue.ErrClosed), ShouldBeTrue)
		})
	})
}

func TestNextBlocksUntilWork(t *testing.T) {
	Convey("Given an empty queue and a blocked consumer", t, func() {
		q := queue.New()
		defer q.Close()

		type res struct {
			job queue.Job
			err error
		}
		got := make(chan res, 1)
		go func() {
			job, err := q.Next(context.Background())
			got <- res{job, err}
		}()

		Convey("When a job arrives, the consumer wakes", func() {
			time.Sleep(10 * time.Millisecond)
			_, err := q.Enqueue(context.Background(), eventOf("evt-1", model.EventPurchase))
			So(err, ShouldBeNil)

			select {
			case r := <-got:
				So(r.err, ShouldBeNil)
				So(r.job.Event.EventID, ShouldEqual, "evt-1")
			case <-time.After(time.Second):
				So("consumer never woke", ShouldBeEmpty)
			}
		})
	})

	Convey("Given a consumer with a cancelled context", t, func() {
		q := queue.New()
		defer q.Close()

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := q.Next(ctx)
		So(errors.Is(err, context.Canceled), ShouldBeTrue)
	})
}
