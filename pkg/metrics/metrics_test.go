package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	. "github.com/smartystreets/goconvey/convey"
)

func TestMetricsManagerCreation(t *testing.T) {
	Convey("Given metrics manager creation", t, func() {
		Convey("When creating with default options", func() {
			registry := prometheus.NewRegistry()
			manager := NewManager(WithPrometheusRegistry(registry))

			Convey("Then it should be created successfully", func() {
				So(manager, ShouldNotBeNil)
			})
		})

		Convey("When creating with custom options", func() {
			registry := prometheus.NewRegistry()
			manager := NewManager(
				WithNamespace("test-namespace"),
				WithSubsystem("test-subsystem"),
				WithHistogramBuckets([]float64{0.1, 0.5, 1.0}),
				WithMetricsEnabled(true),
				WithRefreshInterval(10*time.Second),
				WithPrometheusRegistry(registry),
			)

			Convey("Then it should be created successfully", func() {
				So(manager, ShouldNotBeNil)
			})
		})
	})
}

func TestMetricsRecording(t *testing.T) {
	Convey("Given the global metrics manager", t, func() {
		Convey("When recording scoring metrics", func() {
			So(func() {
				RecordEventProcessed()
				RecordEventDuplicate()
				RecordEventOutOfOrder()
				RecordApplyLatency(1.5)
			}, ShouldNotPanic)
		})

		Convey("When recording recalculation metrics", func() {
			So(func() {
				RecordRecalculation()
				RecordRecalcConflict()
				RecordRecalcLatency(12.0)
			}, ShouldNotPanic)
		})

		Convey("When recording queue and worker metrics", func() {
			So(func() {
				UpdateQueueDepth(3)
				RecordQueueEnqueue()
				RecordQueueDequeue()
				RecordQueueEnqueueError()
				RecordDeadLetter()
				UpdateWorkerCount(5)
				RecordWorkerProcessingLatency(2.0)
				RecordWorkerError()
				RecordWorkerRetry()
			}, ShouldNotPanic)
		})

		Convey("When recording notification and HTTP metrics", func() {
			So(func() {
				UpdateWSClients(2)
				UpdateTotalLeads(10)
				RecordHTTPRequest("/events", "POST", "202")
				RecordHTTPRequestDuration("/events", "POST", "202", 3.0)
			}, ShouldNotPanic)
		})
	})
}

func TestRegistryAccessor(t *testing.T) {
	Convey("Given the custom registry", t, func() {
		Convey("Then it is exposed for the metrics endpoint", func() {
			So(GetRegistry(), ShouldNotBeNil)
		})
	})
}
