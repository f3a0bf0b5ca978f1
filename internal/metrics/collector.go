package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/armadaproject/slurmcompose/internal/state"
)

// StateSource is the read side of the job registry.
type StateSource interface {
	Snapshot() state.ClusterState
}

// DesiredSource provides the current target count for every identity key.
type DesiredSource interface {
	Targets() map[string]int
}

var trackedJobsDesc = prometheus.NewDesc(
	MetricPrefix+"tracked_jobs",
	"Number of tracked jobs by identity key and last known status",
	[]string{"key", "status"},
	nil,
)

var targetJobsDesc = prometheus.NewDesc(
	MetricPrefix+"target_jobs",
	"Desired number of jobs by identity key",
	[]string{"key"},
	nil,
)

// ClusterStateCollector reports the registry contents and desired counts at scrape time.
type ClusterStateCollector struct {
	state   StateSource
	desired DesiredSource
}

func NewClusterStateCollector(state StateSource, desired DesiredSource) *ClusterStateCollector {
	return &ClusterStateCollector{state: state, desired: desired}
}

func (c *ClusterStateCollector) Describe(desc chan<- *prometheus.Desc) {
	desc <- trackedJobsDesc
	desc <- targetJobsDesc
}

func (c *ClusterStateCollector) Collect(metrics chan<- prometheus.Metric) {
	counts := map[[2]string]int{}
	for key, jobs := range c.state.Snapshot() {
		for _, job := range jobs {
			counts[[2]string{key, string(job.LastKnownStatus)}]++
		}
	}
	for labels, count := range counts {
		metrics <- prometheus.MustNewConstMetric(trackedJobsDesc, prometheus.GaugeValue, float64(count), labels[0], labels[1])
	}
	if c.desired == nil {
		return
	}
	for key, target := range c.desired.Targets() {
		metrics <- prometheus.MustNewConstMetric(targetJobsDesc, prometheus.GaugeValue, float64(target), key)
	}
}
