package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	. "github.com/smartystreets/goconvey/convey"
)

func value(c prometheus.Metric) float64 {
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		return -1
	}
	switch {
	case m.Counter != nil:
		return m.GetCounter().GetValue()
	case m.Gauge != nil:
		return m.GetGauge().GetValue()
	}
	return -1
}

func TestMetricsManagerCreation(t *testing.T) {
	Convey("Given metrics manager creation", t, func() {
		Convey("When creating with default options", func() {
			registry := prometheus.NewRegistry()
			manager := NewManager(WithPrometheusRegistry(registry))

			Convey("Then it should be created successfully", func() {
				So(manager, ShouldNotBeNil)
				So(manager.namespace, ShouldEqual, "popscore")
			})
		})

		Convey("When creating with custom options", func() {
			registry := prometheus.NewRegistry()
			manager := NewManager(
				WithNamespace("test_namespace"),
				WithSubsystem("test_subsystem"),
				WithHistogramBuckets([]float64{0.1, 0.5, 1.0}),
				WithConstLabels(map[string]string{"env": "test"}),
				WithPrometheusRegistry(registry),
			)

			Convey("Then the options are applied", func() {
				So(manager.namespace, ShouldEqual, "test_namespace")
				So(manager.subsystem, ShouldEqual, "test_subsystem")
				So(manager.histogramBuckets, ShouldResemble, []float64{0.1, 0.5, 1.0})
				So(manager.constLabels["env"], ShouldEqual, "test")
			})

			Convey("And metrics are registered with the custom namespace", func() {
				manager.aggregateRecordsRead.Add(3)
				families, err := registry.Gather()
				So(err, ShouldBeNil)
				names := make([]string, 0, len(families))
				for _, f := range families {
					names = append(names, f.GetName())
				}
				So(names, ShouldContain, "test_namespace_test_subsystem_aggregate_records_read_total")
			})
		})

		Convey("When empty options are given", func() {
			manager := NewManager(
				WithNamespace(""),
				WithSubsystem(""),
				WithHistogramBuckets(nil),
				WithPrometheusRegistry(prometheus.NewRegistry()),
			)

			Convey("Then defaults are kept", func() {
				So(manager.namespace, ShouldEqual, "popscore")
				So(manager.subsystem, ShouldEqual, "pipeline")
				So(len(manager.histogramBuckets), ShouldBeGreaterThan, 0)
			})
		})
	})
}

func TestMetricsRecording(t *testing.T) {
	Convey("Given the global metrics manager", t, func() {
		Convey("When recording provider metrics", func() {
			before := value(globalManager.providerRequests.WithLabelValues("github", "success"))
			RecordProviderRequest("github", "success", 12)
			RecordProviderRateLimited("github")
			RecordProviderRateWait("github", 250)
			UpdateProviderBreakerState("github", 2)

			Convey("Then the counters move", func() {
				after := value(globalManager.providerRequests.WithLabelValues("github", "success"))
				So(after-before, ShouldEqual, 1)
				So(value(globalManager.providerBreakerState.WithLabelValues("github")), ShouldEqual, 2)
			})
		})

		Convey("When recording collector metrics", func() {
			UpdateCheckpoint("bing", 1, 4)
			RecordCollectorEntity("bing", "placeholder")
			RecordCollectorRun("bing", "in_progress")

			Convey("Then the checkpoint gauges mirror the record", func() {
				So(value(globalManager.checkpointStatus.WithLabelValues("bing")), ShouldEqual, 1)
				So(value(globalManager.checkpointMergedLen.WithLabelValues("bing")), ShouldEqual, 4)
			})
		})

		Convey("When recording a created rank snapshot", func() {
			RecordRankSnapshot("created", 42)

			Convey("Then the entry gauge is set", func() {
				So(value(globalManager.rankEntries), ShouldEqual, 42)
			})
		})

		Convey("When recording the remaining metrics", func() {
			Convey("Then nothing panics", func() {
				So(func() {
					RecordAggregateRecordsRead(10)
					RecordAggregateBucketWritten("weekly")
					RecordAggregateSkipped(2)
					RecordStoreLatency("metric", "update", 1.5)
					RecordStoreConflict("checkpoint")
					UpdateQueueCapacity(100)
					UpdateQueueSize(3)
					RecordQueueEnqueue()
					RecordQueueDequeue()
					UpdateWorkerActiveCount(4)
					RecordWorkerProcessingLatency(30)
					RecordWorkerError()
					RecordHTTPRequest("/leaderboard", "GET", "200")
					RecordHTTPRequestDuration("/leaderboard", "GET", "200", 5.0)
					RecordHTTPError("/aggregate", "POST", "client_error", "medium")
					UpdateSystemMemoryUsage(1 << 20)
					UpdateSystemGoroutineCount(12)
					RecordSystemGCPauseTime(0.4)
				}, ShouldNotPanic)
			})
		})
	})
}

func TestGetRegistry(t *testing.T) {
	Convey("Given the custom registry", t, func() {
		registry := GetRegistry()

		Convey("Then it is shared and gatherable", func() {
			So(registry, ShouldNotBeNil)
			So(registry, ShouldEqual, GetRegistry())
			_, err := registry.Gather()
			So(err, ShouldBeNil)
		})
	})
}
