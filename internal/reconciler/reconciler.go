// Package reconciler drives the scheduler's job population toward the desired state.
package reconciler

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/exp/slices"
	"k8s.io/utils/clock"

	"github.com/armadaproject/slurmcompose/internal/events"
	"github.com/armadaproject/slurmcompose/internal/metrics"
	"github.com/armadaproject/slurmcompose/internal/state"
	"github.com/armadaproject/slurmcompose/internal/topology"
)

const DefaultInterval = 60 * time.Second

type State int

const (
	Idle State = iota
	Running
	Stopping
	Stopped
)

func (s State) String() string {
	switch s {
	case Idle:
		return "Idle"
	case Running:
		return "Running"
	case Stopping:
		return "Stopping"
	case Stopped:
		return "Stopped"
	}
	return "State(" + strconv.Itoa(int(s)) + ")"
}

// Lifecycle is the job-level interface the reconciler acts through.
type Lifecycle interface {
	Launch(ctx context.Context, device string, workload string) (state.TrackedJob, error)
	Terminate(ctx context.Context, job state.TrackedJob) error
	Refresh(ctx context.Context) error
}

// Registry is the read side of the job registry.
type Registry interface {
	JobsFor(key string) []state.TrackedJob
	Snapshot() state.ClusterState
}

type Config struct {
	Interval time.Duration
	// Cancel tracked jobs whose identity key is not part of the desired state.
	PruneUnknown bool
}

// Reconciler runs reconciliation passes on a single goroutine: one immediately on Start and then
// one per interval. Stop is cooperative and takes effect between entries; a pass never leaves a
// launch or cancellation half done. A pass that fails to persist the cluster state stops the loop,
// and the failure is returned by Err.
type Reconciler struct {
	config    Config
	desired   []topology.DesiredEntry
	lifecycle Lifecycle
	registry  Registry
	events    events.Publisher
	metrics   *metrics.Metrics
	clock     clock.Clock

	mutex      sync.Mutex
	state      State
	stopCh     chan struct{}
	doneCh     chan struct{}
	lastReport *PassReport
	err        error
}

func New(
	config Config,
	desired []topology.DesiredEntry,
	lifecycle Lifecycle,
	registry Registry,
	publisher events.Publisher,
	metrics *metrics.Metrics,
	clock clock.Clock,
) *Reconciler {
	if config.Interval <= 0 {
		config.Interval = DefaultInterval
	}
	if publisher == nil {
		publisher = events.Discard{}
	}
	return &Reconciler{
		config:    config,
		desired:   slices.Clone(desired),
		lifecycle: lifecycle,
		registry:  registry,
		events:    publisher,
		metrics:   metrics,
		clock:     clock,
		state:     Idle,
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
}

func (r *Reconciler) State() State {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return r.state
}

// Start launches the loop goroutine. It may only be called once.
func (r *Reconciler) Start(ctx context.Context) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	if r.state != Idle {
		return errors.Errorf("reconciler cannot be started in state %s", r.state)
	}
	r.state = Running
	log.WithField("interval", r.config.Interval).Infof("Starting reconciler for %d desired entries", len(r.desired))
	go r.run(ctx)
	return nil
}

// Stop requests the loop to finish. It does not wait; use Join for that.
func (r *Reconciler) Stop() {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	switch r.state {
	case Idle:
		r.state = Stopped
		close(r.stopCh)
		close(r.doneCh)
	case Running:
		r.state = Stopping
		close(r.stopCh)
		log.Info("Reconciler stopping after the current entry")
	}
}

// Join blocks until the reconciler is Stopped. It returns immediately if it was never started.
func (r *Reconciler) Join() {
	if r.State() == Idle {
		return
	}
	<-r.doneCh
}

// JoinWithTimeout is Join bounded by timeout. It reports whether the reconciler stopped in time.
func (r *Reconciler) JoinWithTimeout(timeout time.Duration) bool {
	if r.State() == Idle {
		return true
	}
	select {
	case <-r.doneCh:
		return true
	case <-r.clock.After(timeout):
		return false
	}
}

// Done is closed once the reconciler is Stopped.
func (r *Reconciler) Done() <-chan struct{} {
	return r.doneCh
}

// Err returns the failure that stopped the loop, or nil if it was stopped on request.
func (r *Reconciler) Err() error {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return r.err
}

// LastReport returns the report of the most recent completed pass, or nil.
func (r *Reconciler) LastReport() *PassReport {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return r.lastReport
}

// Targets returns the desired count for every identity key.
func (r *Reconciler) Targets() map[string]int {
	targets := make(map[string]int, len(r.desired))
	for _, entry := range r.desired {
		targets[entry.Key] = entry.TargetCount
	}
	return targets
}

func (r *Reconciler) run(ctx context.Context) {
	defer func() {
		r.mutex.Lock()
		r.state = Stopped
		close(r.doneCh)
		r.mutex.Unlock()
		log.Info("Reconciler stopped")
		r.events.Publish(events.Event{Type: events.ReconcilerStopped, Message: "reconciler stopped"})
	}()

	for {
		if r.stopRequested() || ctx.Err() != nil {
			return
		}
		if report := r.Pass(ctx); report.Fatal != nil {
			r.mutex.Lock()
			r.err = report.Fatal
			r.mutex.Unlock()
			return
		}
		select {
		case <-r.clock.After(r.config.Interval):
		case <-r.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (r *Reconciler) stopRequested() bool {
	select {
	case <-r.stopCh:
		return true
	default:
		return false
	}
}

// Pass performs one reconciliation pass: refresh the status of tracked jobs, then bring each
// desired entry to its target count, then optionally cancel jobs no longer desired.
func (r *Reconciler) Pass(ctx context.Context) *PassReport {
	report := &PassReport{Id: uuid.NewString(), Started: r.clock.Now()}
	logger := log.WithField("passId", report.Id)
	logger.Debug("Starting reconciliation pass")
	r.events.Publish(events.Event{Type: events.PassStarted, Message: "pass " + report.Id + " started"})

	if err := r.lifecycle.Refresh(ctx); err != nil {
		logger.WithError(err).Warn("Some job statuses could not be refreshed")
		report.addError(err)
	}

	desiredKeys := make(map[string]bool, len(r.desired))
	for _, entry := range r.desired {
		desiredKeys[entry.Key] = true
	}
	for _, entry := range r.desired {
		if report.Fatal != nil {
			break
		}
		if r.stopRequested() || ctx.Err() != nil {
			report.Interrupted = true
			break
		}
		r.reconcileEntry(ctx, entry, report)
	}

	if r.config.PruneUnknown && !report.Interrupted && report.Fatal == nil {
		r.prune(ctx, desiredKeys, report)
	}

	report.Finished = r.clock.Now()
	r.metrics.RecordPass(report.Duration())
	r.mutex.Lock()
	r.lastReport = report
	r.mutex.Unlock()

	entry := logger.WithFields(log.Fields{
		"launched":   len(report.Launched),
		"terminated": len(report.Terminated),
		"pruned":     len(report.Pruned),
		"errors":     len(report.Errors),
	})
	if report.Fatal != nil {
		entry.WithError(report.Fatal).Error("Reconciliation pass aborted; the cluster state can no longer be persisted")
	} else if report.Interrupted {
		entry.Info("Reconciliation pass interrupted by stop request")
	} else if len(report.Launched)+len(report.Terminated)+len(report.Pruned)+len(report.Errors) > 0 {
		entry.Info("Reconciliation pass complete")
	} else {
		entry.Debug("Reconciliation pass complete; nothing to do")
	}
	r.events.Publish(events.Event{Type: events.PassCompleted, Message: "pass " + report.Id + " completed", Error: report.Err()})
	return report
}

func (r *Reconciler) reconcileEntry(ctx context.Context, entry topology.DesiredEntry, report *PassReport) {
	jobs := activeJobs(r.registry.JobsFor(entry.Key))
	current := len(jobs)
	logger := log.WithFields(log.Fields{
		"key":      entry.Key,
		"device":   entry.Device,
		"workload": entry.Workload,
		"current":  current,
		"target":   entry.TargetCount,
	})

	switch {
	case current < entry.TargetCount:
		logger.Infof("Launching %d jobs", entry.TargetCount-current)
		for i := current; i < entry.TargetCount; i++ {
			job, err := r.lifecycle.Launch(ctx, entry.Device, entry.Workload)
			if err != nil {
				report.addError(err)
				if report.Fatal != nil {
					return
				}
				continue
			}
			report.Launched = append(report.Launched, job)
		}
	case current > entry.TargetCount:
		excess := current - entry.TargetCount
		logger.Infof("Terminating %d jobs", excess)
		for _, job := range newestFirst(jobs)[:excess] {
			if err := r.lifecycle.Terminate(ctx, job); err != nil {
				report.addError(err)
				if report.Fatal != nil {
					return
				}
				continue
			}
			report.Terminated = append(report.Terminated, job)
		}
	}
}

func (r *Reconciler) prune(ctx context.Context, desiredKeys map[string]bool, report *PassReport) {
	snapshot := r.registry.Snapshot()
	for _, key := range snapshot.Keys() {
		if desiredKeys[key] {
			continue
		}
		if r.stopRequested() || ctx.Err() != nil {
			report.Interrupted = true
			return
		}
		log.WithField("key", key).Infof("Terminating %d jobs that are not part of the desired state", len(snapshot[key]))
		for _, job := range snapshot[key] {
			if err := r.lifecycle.Terminate(ctx, job); err != nil {
				report.addError(err)
				if report.Fatal != nil {
					return
				}
				continue
			}
			report.Pruned = append(report.Pruned, job)
		}
	}
}

// activeJobs returns the jobs that count toward an entry's current count.
func activeJobs(jobs []state.TrackedJob) []state.TrackedJob {
	result := make([]state.TrackedJob, 0, len(jobs))
	for _, job := range jobs {
		if job.LastKnownStatus.Occupies() {
			result = append(result, job)
		}
	}
	return result
}

// newestFirst orders jobs by submission time, most recent first. Ties are broken by job id,
// highest first, comparing numerically where both ids are numbers.
func newestFirst(jobs []state.TrackedJob) []state.TrackedJob {
	sorted := slices.Clone(jobs)
	slices.SortStableFunc(sorted, func(a, b state.TrackedJob) bool {
		if !a.SubmittedAt.Equal(b.SubmittedAt) {
			return a.SubmittedAt.After(b.SubmittedAt)
		}
		return jobIdLess(b.JobId, a.JobId)
	})
	return sorted
}

func jobIdLess(a string, b string) bool {
	na, errA := strconv.ParseUint(a, 10, 64)
	nb, errB := strconv.ParseUint(b, 10, 64)
	if errA == nil && errB == nil {
		return na < nb
	}
	return a < b
}
