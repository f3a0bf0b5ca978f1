package state

import (
	"time"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"github.com/armadaproject/slurmcompose/internal/scheduler"
)

// TrackedJob is a scheduler job owned by this cluster.
type TrackedJob struct {
	JobId string `json:"job_id"`
	// Identity key of the (device, workload) pair; implied by the position in the state file.
	Key             string           `json:"-"`
	SubmittedAt     time.Time        `json:"submitted_at"`
	LastKnownStatus scheduler.Status `json:"last_known_status"`
}

// ClusterState maps identity keys to the jobs tracked under them, oldest first.
type ClusterState map[string][]TrackedJob

func (s ClusterState) DeepCopy() ClusterState {
	result := make(ClusterState, len(s))
	for key, jobs := range s {
		result[key] = slices.Clone(jobs)
	}
	return result
}

// Keys returns the identity keys with at least one tracked job, in lexical order.
func (s ClusterState) Keys() []string {
	keys := make([]string, 0, len(s))
	for _, key := range maps.Keys(s) {
		if len(s[key]) > 0 {
			keys = append(keys, key)
		}
	}
	slices.Sort(keys)
	return keys
}

func (s ClusterState) JobCount() int {
	count := 0
	for _, jobs := range s {
		count += len(jobs)
	}
	return count
}

// Jobs returns every tracked job, ordered by key and then submission order.
func (s ClusterState) Jobs() []TrackedJob {
	result := make([]TrackedJob, 0, s.JobCount())
	for _, key := range s.Keys() {
		result = append(result, s[key]...)
	}
	return result
}
