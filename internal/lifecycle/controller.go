// Package lifecycle launches and terminates individual jobs, keeping the job registry consistent
// with what was actually submitted to or cancelled on the scheduler.
package lifecycle

import (
	"context"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"k8s.io/utils/clock"

	"github.com/armadaproject/slurmcompose/internal/catalog"
	"github.com/armadaproject/slurmcompose/internal/common/clustererrors"
	"github.com/armadaproject/slurmcompose/internal/common/logging"
	"github.com/armadaproject/slurmcompose/internal/events"
	"github.com/armadaproject/slurmcompose/internal/metrics"
	"github.com/armadaproject/slurmcompose/internal/scheduler"
	"github.com/armadaproject/slurmcompose/internal/state"
	"github.com/armadaproject/slurmcompose/internal/topology"
)

// ScriptGenerator renders the script submitted for a job.
type ScriptGenerator interface {
	Generate(key string, device *catalog.DeviceSpec, workload *catalog.WorkloadSpec) (string, error)
}

type Controller struct {
	catalog   *catalog.Catalog
	generator ScriptGenerator
	scheduler scheduler.Client
	registry  *state.Registry
	events    events.Publisher
	metrics   *metrics.Metrics
	clock     clock.Clock
}

func NewController(
	catalog *catalog.Catalog,
	generator ScriptGenerator,
	scheduler scheduler.Client,
	registry *state.Registry,
	publisher events.Publisher,
	metrics *metrics.Metrics,
	clock clock.Clock,
) *Controller {
	if publisher == nil {
		publisher = events.Discard{}
	}
	return &Controller{
		catalog:   catalog,
		generator: generator,
		scheduler: scheduler,
		registry:  registry,
		events:    publisher,
		metrics:   metrics,
		clock:     clock,
	}
}

// Launch submits one job for the (device, workload) pair and records it.
// On any failure the registry is left unchanged.
func (c *Controller) Launch(ctx context.Context, device string, workload string) (state.TrackedJob, error) {
	key := topology.IdentityKey(device, workload)
	logger := log.WithFields(log.Fields{"device": device, "workload": workload, "key": key})

	job, err := c.launch(ctx, key, device, workload)
	c.metrics.RecordLaunch(device, workload, err)
	if err != nil {
		logging.WithStacktrace(logger, err).WithError(err).Warn("Failed to launch job")
		c.events.Publish(events.Event{Type: events.JobLaunchFailed, Key: key, Message: "launch failed", Error: err})
		return state.TrackedJob{}, err
	}
	logger.WithField("jobId", job.JobId).Info("Launched job")
	c.events.Publish(events.Event{Type: events.JobLaunched, Key: key, JobId: job.JobId, Message: "launched"})
	return job, nil
}

func (c *Controller) launch(ctx context.Context, key string, device string, workload string) (state.TrackedJob, error) {
	deviceSpec, err := c.catalog.Device(device)
	if err != nil {
		return state.TrackedJob{}, &clustererrors.ErrSubmission{Device: device, Workload: workload, Cause: err}
	}
	workloadSpec, err := c.catalog.Workload(workload)
	if err != nil {
		return state.TrackedJob{}, &clustererrors.ErrSubmission{Device: device, Workload: workload, Cause: err}
	}
	script, err := c.generator.Generate(key, deviceSpec, workloadSpec)
	if err != nil {
		return state.TrackedJob{}, &clustererrors.ErrSubmission{Device: device, Workload: workload, Cause: err}
	}

	jobId, err := c.scheduler.Submit(ctx, key, script)
	if err != nil {
		return state.TrackedJob{}, &clustererrors.ErrSubmission{Device: device, Workload: workload, Cause: err}
	}

	job := state.TrackedJob{
		JobId:           jobId,
		Key:             key,
		SubmittedAt:     c.clock.Now().UTC(),
		LastKnownStatus: scheduler.StatusPending,
	}
	if err := c.registry.Record(job); err != nil {
		// The job exists on the scheduler but nothing tracks it; take it down rather than leak it.
		if cancelErr := c.scheduler.Cancel(context.Background(), jobId); cancelErr != nil && !scheduler.IsJobNotFound(cancelErr) {
			log.WithError(cancelErr).WithField("jobId", jobId).Error("Failed to cancel untracked job; it must be cancelled manually")
		}
		return state.TrackedJob{}, err
	}
	return job, nil
}

// Terminate cancels a tracked job and stops tracking it. A job the scheduler no longer knows counts
// as cancelled. If cancellation fails the job stays tracked and an ErrCancellation is returned.
func (c *Controller) Terminate(ctx context.Context, job state.TrackedJob) error {
	logger := log.WithFields(log.Fields{"key": job.Key, "jobId": job.JobId})

	err := c.scheduler.Cancel(ctx, job.JobId)
	if err != nil && !scheduler.IsJobNotFound(err) {
		cancelErr := &clustererrors.ErrCancellation{JobId: job.JobId, Key: job.Key, Cause: err}
		c.metrics.RecordCancellation(job.Key, cancelErr)
		logger.WithError(err).Warn("Failed to cancel job")
		c.events.Publish(events.Event{Type: events.JobTerminateFailed, Key: job.Key, JobId: job.JobId, Message: "cancel failed", Error: cancelErr})
		return cancelErr
	}
	if err != nil {
		logger.Info("Job was already gone")
	}
	if err := c.registry.Remove(job.Key, job.JobId); err != nil {
		var notFound *clustererrors.ErrNotFound
		if !errors.As(err, &notFound) {
			return err
		}
	}
	c.metrics.RecordCancellation(job.Key, nil)
	logger.Info("Terminated job")
	c.events.Publish(events.Event{Type: events.JobTerminated, Key: job.Key, JobId: job.JobId, Message: "terminated"})
	return nil
}

// TerminateAll attempts to terminate every tracked job. Failures do not stop the remaining
// attempts; they are returned together.
func (c *Controller) TerminateAll(ctx context.Context) error {
	return c.terminateJobs(ctx, c.registry.Snapshot().Jobs())
}

// TerminateKeys terminates every job tracked under the given identity keys.
func (c *Controller) TerminateKeys(ctx context.Context, keys []string) error {
	var jobs []state.TrackedJob
	for _, key := range keys {
		jobs = append(jobs, c.registry.JobsFor(key)...)
	}
	return c.terminateJobs(ctx, jobs)
}

func (c *Controller) terminateJobs(ctx context.Context, jobs []state.TrackedJob) error {
	var result *multierror.Error
	for _, job := range jobs {
		if err := c.Terminate(ctx, job); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

// Refresh queries the scheduler for the status of every tracked job. Jobs that are no longer
// active (finished, failed, or unknown to the scheduler) are dropped from the registry; the status
// of the others is written back. Jobs whose status cannot be queried are left untouched.
func (c *Controller) Refresh(ctx context.Context) error {
	var result *multierror.Error
	for _, job := range c.registry.Snapshot().Jobs() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		logger := log.WithFields(log.Fields{"key": job.Key, "jobId": job.JobId})
		status, err := c.scheduler.Query(ctx, job.JobId)
		if err != nil {
			logger.WithError(err).Warn("Failed to query job status")
			result = multierror.Append(result, err)
			continue
		}
		if status.IsActive() {
			if err := c.registry.UpdateStatus(job.Key, job.JobId, status); err != nil {
				result = multierror.Append(result, err)
			}
			continue
		}
		if err := c.registry.Remove(job.Key, job.JobId); err != nil {
			result = multierror.Append(result, err)
			continue
		}
		c.metrics.RecordFinished(string(status))
		logger.WithField("status", status).Info("Job is no longer active; no longer tracking it")
		c.events.Publish(events.Event{Type: events.JobFinished, Key: job.Key, JobId: job.JobId, Message: "finished with status " + string(status)})
	}
	return result.ErrorOrNil()
}
