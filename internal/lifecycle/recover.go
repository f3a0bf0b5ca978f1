package lifecycle

import (
	"context"

	log "github.com/sirupsen/logrus"

	"github.com/armadaproject/slurmcompose/internal/script"
	"github.com/armadaproject/slurmcompose/internal/state"
)

// Recover loads the persisted registry before the first reconciliation pass. If the state file is
// corrupt the registry is rebuilt from the scheduler's live job list, adopting the jobs whose names
// mark them as submitted by this cluster; if the live list is unavailable too, recovery starts from
// an empty registry. Any other load failure is returned.
func (c *Controller) Recover(ctx context.Context) (state.ClusterState, error) {
	loaded, err := c.registry.Load()
	if err == nil {
		log.Infof("Recovered %d tracked jobs from state file", loaded.JobCount())
		return loaded, nil
	}
	if !state.IsCorrupt(err) {
		return nil, err
	}
	log.WithError(err).Warn("State file is corrupt; rebuilding from the scheduler's job list")

	live, listErr := c.scheduler.List(ctx)
	if listErr != nil {
		log.WithError(listErr).Error("Unable to list scheduler jobs; starting with an empty registry")
		if err := c.registry.Adopt(nil); err != nil {
			return nil, err
		}
		return state.ClusterState{}, nil
	}

	now := c.clock.Now().UTC()
	var adopted []state.TrackedJob
	for _, job := range live {
		key, ok := script.KeyFromJobName(job.Name)
		if !ok || !job.Status.IsActive() {
			continue
		}
		adopted = append(adopted, state.TrackedJob{
			JobId:           job.JobId,
			Key:             key,
			SubmittedAt:     now,
			LastKnownStatus: job.Status,
		})
	}
	if err := c.registry.Adopt(adopted); err != nil {
		return nil, err
	}
	log.Infof("Adopted %d live jobs from the scheduler", len(adopted))
	return c.registry.Snapshot(), nil
}
