package slurmcompose

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/armadaproject/slurmcompose/internal/common/logging"
	"github.com/armadaproject/slurmcompose/internal/state"
)

// Destroy cancels the tracked jobs of every identity in the topology, or every tracked job if
// topologyPath is empty. The reconciliation loop is not started.
func (a *App) Destroy(ctx context.Context, topologyPath string) error {
	cl, err := a.newCluster(topologyPath)
	if err != nil {
		return err
	}
	defer cl.close()

	if _, err := cl.controller.Recover(ctx); err != nil {
		return err
	}
	if topologyPath == "" {
		return a.drain(cl, nil)
	}
	return a.drain(cl, cl.desired.Keys())
}

// drain cancels the tracked jobs of keys, or all tracked jobs if keys is nil, bounded by the
// configured drain timeout. Jobs that could not be cancelled stay in the state file and are listed on
// the output.
func (a *App) drain(cl *cluster, keys []string) error {
	targeted := func(snapshot state.ClusterState) []state.TrackedJob {
		if keys == nil {
			return snapshot.Jobs()
		}
		var jobs []state.TrackedJob
		for _, key := range keys {
			jobs = append(jobs, snapshot[key]...)
		}
		return jobs
	}

	tracked := len(targeted(cl.registry.Snapshot()))
	if tracked == 0 {
		fmt.Fprintf(a.Out, "No tracked jobs to cancel\n")
		return nil
	}
	log.Infof("Cancelling %d tracked jobs", tracked)
	start := a.Clock.Now()

	ctx, cancel := context.WithTimeout(context.Background(), a.config().DrainTimeout)
	defer cancel()
	var err error
	if keys == nil {
		err = cl.controller.TerminateAll(ctx)
	} else {
		err = cl.controller.TerminateKeys(ctx, keys)
	}

	remaining := targeted(cl.registry.Snapshot())
	fmt.Fprintf(a.Out, "Cancelled %d of %d jobs in %s\n", tracked-len(remaining), tracked, a.Clock.Since(start).Round(time.Millisecond))
	if err == nil {
		return nil
	}
	logging.WithStacktrace(log.NewEntry(log.StandardLogger()), err).Error("Unable to cancel every job")
	for _, job := range remaining {
		fmt.Fprintf(a.Out, "Still tracked: %s %s (%s)\n", job.Key, job.JobId, job.LastKnownStatus)
	}
	return err
}
