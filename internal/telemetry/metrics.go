// Package telemetry exposes the process's Prometheus metrics: queue
// throughput, worker status, and lifecycle/rate-check outcomes.
package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var registry = prometheus.NewRegistry()

func init() {
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
}

var factory = promauto.With(registry)

var (
	jobsProcessed = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "shipment_jobs_processed_total",
		Help: "Jobs processed by queue name and outcome.",
	}, []string{"queue", "outcome"})

	jobsInFlight = factory.NewGaugeVec(prometheus.GaugeOpts{
		Name: "shipment_jobs_in_flight",
		Help: "Jobs currently claimed and processing, by queue name.",
	}, []string{"queue"})

	lifecycleTransitions = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "shipment_lifecycle_transitions_total",
		Help: "Lifecycle phase transitions persisted, by resulting phase.",
	}, []string{"phase"})

	lifecycleRefusals = factory.NewCounter(prometheus.CounterOpts{
		Name: "shipment_lifecycle_refusals_total",
		Help: "Derived transitions refused for not matching an allowed edge.",
	})

	rateCheckOutcomes = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "shipment_rate_check_outcomes_total",
		Help: "Rate-check analyses, by outcome (completed, skipped).",
	}, []string{"outcome"})

	rateCheckSavings = factory.NewHistogram(prometheus.HistogramOpts{
		Name:    "shipment_rate_check_savings_dollars",
		Help:    "Computed savings for completed rate-check analyses.",
		Buckets: prometheus.LinearBuckets(0, 1, 10),
	})

	sessionAssignments = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "shipment_session_assignments_total",
		Help: "Shipments assigned to a fulfillment session, by station type.",
	}, []string{"station_type"})

	workerStatus = factory.NewGaugeVec(prometheus.GaugeOpts{
		Name: "shipment_worker_status",
		Help: "1 if the named worker's last cycle reported idle, 0 if error.",
	}, []string{"worker"})
)

// Handler serves the registry in the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry so tests can Gather() and
// assert on recorded values without scraping the HTTP handler.
func Registry() *prometheus.Registry {
	return registry
}

func RecordJobProcessed(queue, outcome string) {
	jobsProcessed.WithLabelValues(queue, outcome).Inc()
}

func SetJobsInFlight(queue string, n float64) {
	jobsInFlight.WithLabelValues(queue).Set(n)
}

func RecordLifecycleTransition(phase string) {
	lifecycleTransitions.WithLabelValues(phase).Inc()
}

func RecordLifecycleRefusal() {
	lifecycleRefusals.Inc()
}

func RecordRateCheckOutcome(outcome string) {
	rateCheckOutcomes.WithLabelValues(outcome).Inc()
}

func RecordRateCheckSavings(dollars float64) {
	rateCheckSavings.Observe(dollars)
}

func RecordSessionAssignment(stationType string) {
	sessionAssignments.WithLabelValues(stationType).Inc()
}

// SetWorkerStatus records a worker's last-cycle health as reported by its
// own Status() accessor (idle=1, error=0).
func SetWorkerStatus(worker string, idle bool) {
	v := 0.0
	if idle {
		v = 1.0
	}
	workerStatus.WithLabelValues(worker).Set(v)
}
