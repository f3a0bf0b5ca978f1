package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const MetricPrefix = "slurmcompose_"

// Metrics holds the counters updated by the lifecycle controller and the reconciler.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	launches             *prometheus.CounterVec
	launchFailures       *prometheus.CounterVec
	cancellations        *prometheus.CounterVec
	cancellationFailures *prometheus.CounterVec
	finished             *prometheus.CounterVec
	passDuration         prometheus.Histogram
	passes               prometheus.Counter
}

func New(registerer prometheus.Registerer) *Metrics {
	factory := promauto.With(registerer)
	return &Metrics{
		launches: factory.NewCounterVec(prometheus.CounterOpts{
			Name: MetricPrefix + "job_launches_total",
			Help: "Jobs submitted to the scheduler",
		}, []string{"device", "workload"}),
		launchFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: MetricPrefix + "job_launch_failures_total",
			Help: "Job submissions that failed",
		}, []string{"device", "workload"}),
		cancellations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: MetricPrefix + "job_cancellations_total",
			Help: "Jobs cancelled",
		}, []string{"key"}),
		cancellationFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: MetricPrefix + "job_cancellation_failures_total",
			Help: "Job cancellations that failed",
		}, []string{"key"}),
		finished: factory.NewCounterVec(prometheus.CounterOpts{
			Name: MetricPrefix + "jobs_finished_total",
			Help: "Tracked jobs found finished or gone, by last status",
		}, []string{"status"}),
		passDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    MetricPrefix + "reconcile_pass_latency_seconds",
			Help:    "Reconciliation pass latency in seconds",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 15),
		}),
		passes: factory.NewCounter(prometheus.CounterOpts{
			Name: MetricPrefix + "reconcile_passes_total",
			Help: "Reconciliation passes run",
		}),
	}
}

func (m *Metrics) RecordLaunch(device string, workload string, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.launchFailures.WithLabelValues(device, workload).Inc()
		return
	}
	m.launches.WithLabelValues(device, workload).Inc()
}

func (m *Metrics) RecordCancellation(key string, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.cancellationFailures.WithLabelValues(key).Inc()
		return
	}
	m.cancellations.WithLabelValues(key).Inc()
}

func (m *Metrics) RecordFinished(status string) {
	if m == nil {
		return
	}
	m.finished.WithLabelValues(status).Inc()
}

func (m *Metrics) RecordPass(duration time.Duration) {
	if m == nil {
		return
	}
	m.passes.Inc()
	m.passDuration.Observe(duration.Seconds())
}
