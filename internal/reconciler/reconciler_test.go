package reconciler

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	clocktesting "k8s.io/utils/clock/testing"

	"github.com/armadaproject/slurmcompose/internal/catalog"
	"github.com/armadaproject/slurmcompose/internal/common/clustererrors"
	"github.com/armadaproject/slurmcompose/internal/lifecycle"
	"github.com/armadaproject/slurmcompose/internal/scheduler"
	"github.com/armadaproject/slurmcompose/internal/scheduler/fake"
	"github.com/armadaproject/slurmcompose/internal/script"
	"github.com/armadaproject/slurmcompose/internal/state"
	"github.com/armadaproject/slurmcompose/internal/topology"
)

var startTime = time.Date(2024, 11, 5, 10, 0, 0, 0, time.UTC)

type testCluster struct {
	scheduler  *fake.Client
	registry   *state.Registry
	controller *lifecycle.Controller
	clock      *clocktesting.FakeClock
	statePath  string
}

func newTestCluster(t *testing.T) *testCluster {
	return newTestClusterWithState(t, filepath.Join(t.TempDir(), "cluster_state.json"), fake.NewClient())
}

func newTestClusterWithState(t *testing.T, statePath string, client *fake.Client) *testCluster {
	c := newTestClusterWithStore(t, state.NewFileStore(state.FileStoreConfig{Path: statePath, RetryAttempts: 1}), client)
	c.statePath = statePath
	return c
}

func newTestClusterWithStore(t *testing.T, store state.Store, client *fake.Client) *testCluster {
	c, err := catalog.New(
		[]*catalog.DeviceSpec{
			{Name: "l40-8", Type: catalog.DeviceTypeGpu, GpuType: "l40", DeviceCount: 8, Cpus: 32, MemGb: 256, Hours: 24},
			{Name: "a40-4", Type: catalog.DeviceTypeGpu, GpuType: "a40", DeviceCount: 4, Cpus: 16, MemGb: 128, Hours: 24},
		},
		[]*catalog.WorkloadSpec{
			{Name: "llama8b", ScriptType: "literegistry.vllm"},
			{Name: "gsmrm", ScriptType: "rm.gsm"},
		},
	)
	require.NoError(t, err)
	generator, err := script.NewGenerator(script.Config{})
	require.NoError(t, err)

	registry := state.NewRegistry(store)
	clock := clocktesting.NewFakeClock(startTime)
	return &testCluster{
		scheduler:  client,
		registry:   registry,
		controller: lifecycle.NewController(c, generator, client, registry, nil, nil, clock),
		clock:      clock,
	}
}

func (c *testCluster) reconciler(config Config, desired ...topology.DesiredEntry) *Reconciler {
	return New(config, desired, c.controller, c.registry, nil, nil, c.clock)
}

func entry(device string, workload string, target int) topology.DesiredEntry {
	return topology.DesiredEntry{Key: topology.IdentityKey(device, workload), Device: device, Workload: workload, TargetCount: target}
}

// track places a running job on the scheduler and in the registry.
func (c *testCluster) track(t *testing.T, key string, id string, submittedAt time.Time) state.TrackedJob {
	c.scheduler.AddJob(id, script.JobName(key), scheduler.StatusRunning)
	job := state.TrackedJob{JobId: id, Key: key, SubmittedAt: submittedAt, LastKnownStatus: scheduler.StatusRunning}
	require.NoError(t, c.registry.Record(job))
	return job
}

func TestPass_Converges(t *testing.T) {
	c := newTestCluster(t)
	r := c.reconciler(Config{}, entry("l40-8", "llama8b", 3), entry("a40-4", "gsmrm", 2))

	report := r.Pass(context.Background())
	require.NoError(t, report.Err())
	assert.Len(t, report.Launched, 5)
	assert.Len(t, c.registry.JobsFor("l40-8:llama8b"), 3)
	assert.Len(t, c.registry.JobsFor("a40-4:gsmrm"), 2)
	assert.Equal(t, 5, c.scheduler.ActiveCount())

	// A converged cluster needs no further action
	report = r.Pass(context.Background())
	require.NoError(t, report.Err())
	assert.Empty(t, report.Launched)
	assert.Empty(t, report.Terminated)
	assert.Len(t, c.scheduler.SubmittedIds(), 5)
}

func TestPass_ReplacesFinishedJobs(t *testing.T) {
	c := newTestCluster(t)
	r := c.reconciler(Config{}, entry("l40-8", "llama8b", 2))
	first := r.Pass(context.Background())
	require.Len(t, first.Launched, 2)

	c.scheduler.SetStatus(first.Launched[0].JobId, scheduler.StatusTimeout)

	report := r.Pass(context.Background())
	require.NoError(t, report.Err())
	require.Len(t, report.Launched, 1)
	assert.Equal(t, 2, c.scheduler.ActiveCount())
	assert.Len(t, c.registry.JobsFor("l40-8:llama8b"), 2)
}

func TestPass_ScaleDownCancelsNewestFirst(t *testing.T) {
	c := newTestCluster(t)
	key := "l40-8:llama8b"
	c.track(t, key, "101", startTime)
	t2 := c.track(t, key, "102", startTime.Add(time.Minute))
	t3 := c.track(t, key, "103", startTime.Add(2*time.Minute))

	report := c.reconciler(Config{}, entry("l40-8", "llama8b", 1)).Pass(context.Background())
	require.NoError(t, report.Err())

	assert.Equal(t, []string{t3.JobId, t2.JobId}, c.scheduler.CancelledIds())
	assert.Equal(t, []string{"101"}, jobIds(c.registry.JobsFor(key)))
	assert.Empty(t, report.Launched)
}

func TestPass_ScaleDownToZero(t *testing.T) {
	c := newTestCluster(t)
	key := "l40-8:llama8b"
	c.track(t, key, "1", startTime)
	c.track(t, key, "2", startTime)

	report := c.reconciler(Config{}, entry("l40-8", "llama8b", 0)).Pass(context.Background())
	require.NoError(t, report.Err())
	assert.Len(t, report.Terminated, 2)
	assert.Empty(t, c.registry.JobsFor(key))
}

func TestNewestFirst_TieBreaksOnJobId(t *testing.T) {
	jobs := []state.TrackedJob{
		{JobId: "9", SubmittedAt: startTime},
		{JobId: "10", SubmittedAt: startTime},
		{JobId: "8", SubmittedAt: startTime.Add(time.Second)},
		{JobId: "11", SubmittedAt: startTime.Add(-time.Second)},
	}
	assert.Equal(t, []string{"8", "10", "9", "11"}, jobIds(newestFirst(jobs)))
	// Input is not modified
	assert.Equal(t, "9", jobs[0].JobId)
}

func TestPass_RecoveryDoesNotResubmit(t *testing.T) {
	statePath := filepath.Join(t.TempDir(), "cluster_state.json")
	client := fake.NewClient()

	before := newTestClusterWithState(t, statePath, client)
	before.track(t, "l40-8:llama8b", "12", startTime)

	// A new process starts with the same state file and scheduler
	after := newTestClusterWithState(t, statePath, client)
	_, err := after.controller.Recover(context.Background())
	require.NoError(t, err)

	report := after.reconciler(Config{PruneUnknown: true}, entry("l40-8", "llama8b", 1)).Pass(context.Background())
	require.NoError(t, report.Err())
	assert.Empty(t, report.Launched)
	assert.Empty(t, report.Terminated)
	assert.Empty(t, report.Pruned)
	assert.Equal(t, []string{"12"}, jobIds(after.registry.JobsFor("l40-8:llama8b")))
}

func TestPass_UnqueriedJobWithUnrecognisedStatusIsNotReplaced(t *testing.T) {
	statePath := filepath.Join(t.TempDir(), "cluster_state.json")
	require.NoError(t, os.WriteFile(statePath, []byte(`{
  "l40-8:llama8b": [
    {"job_id": "12", "submitted_at": "2024-11-05T09:00:00Z", "last_known_status": ""},
    {"job_id": "13", "submitted_at": "2024-11-05T09:00:00Z", "last_known_status": "RESIZING"}
  ]
}`), 0o644))
	client := fake.NewClient()
	client.FailQueries(errors.New("squeue: error: slurm_load_jobs error: Socket timed out"))
	c := newTestClusterWithState(t, statePath, client)
	_, err := c.controller.Recover(context.Background())
	require.NoError(t, err)

	report := c.reconciler(Config{}, entry("l40-8", "llama8b", 2)).Pass(context.Background())
	assert.Empty(t, report.Launched)
	assert.Empty(t, client.SubmittedIds())
	assert.Equal(t, []string{"12", "13"}, jobIds(c.registry.JobsFor("l40-8:llama8b")))
}

// readOnlyStore loads an empty state and fails every write.
type readOnlyStore struct{}

func (readOnlyStore) Load() (state.ClusterState, error) { return state.ClusterState{}, nil }

func (readOnlyStore) Save(state.ClusterState) error {
	return &clustererrors.ErrPersistence{Path: "cluster_state.json", Op: "write", Cause: errors.New("read-only file system")}
}

func TestPass_PersistenceFailureEndsPass(t *testing.T) {
	c := newTestClusterWithStore(t, readOnlyStore{}, fake.NewClient())
	r := c.reconciler(Config{PruneUnknown: true}, entry("l40-8", "llama8b", 2), entry("a40-4", "gsmrm", 1))

	report := r.Pass(context.Background())
	require.NotNil(t, report.Fatal)
	assert.Len(t, report.Errors, 1)
	assert.Empty(t, report.Launched)
	// The first submission could not be recorded and was cancelled; nothing else was submitted
	assert.Equal(t, []string{"1"}, c.scheduler.SubmittedIds())
	assert.Equal(t, []string{"1"}, c.scheduler.CancelledIds())
}

func TestReconciler_StopsWhenStateCannotBePersisted(t *testing.T) {
	c := newTestClusterWithStore(t, readOnlyStore{}, fake.NewClient())
	r := c.reconciler(Config{Interval: time.Minute}, entry("l40-8", "llama8b", 2))
	require.NoError(t, r.Start(context.Background()))

	select {
	case <-r.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("reconciler kept running after a persistence failure")
	}
	assert.Equal(t, Stopped, r.State())
	var persistence *clustererrors.ErrPersistence
	require.True(t, errors.As(r.Err(), &persistence))
	assert.Equal(t, clustererrors.ExitPersistence, clustererrors.ExitCodeFromError(r.Err()))

	// Later ticks do not run further passes
	c.clock.Step(5 * time.Minute)
	assert.Len(t, c.scheduler.SubmittedIds(), 1)
	assert.Equal(t, 0, c.scheduler.ActiveCount())
}

func TestPass_LaunchFailuresDoNotAbortPass(t *testing.T) {
	c := newTestCluster(t)
	c.scheduler.FailSubmissions(errors.New("sbatch: error: QOSMaxSubmitJobPerUserLimit"))
	r := c.reconciler(Config{}, entry("l40-8", "llama8b", 2), entry("a40-4", "gsmrm", 1))

	report := r.Pass(context.Background())
	assert.Len(t, report.Errors, 3)
	assert.Empty(t, report.Launched)
	assert.Empty(t, c.registry.Snapshot())

	c.scheduler.FailSubmissions(nil)
	report = r.Pass(context.Background())
	require.NoError(t, report.Err())
	assert.Len(t, report.Launched, 3)
}

func TestPass_CancellationFailureKeepsJobTracked(t *testing.T) {
	c := newTestCluster(t)
	key := "l40-8:llama8b"
	c.track(t, key, "1", startTime)
	c.track(t, key, "2", startTime.Add(time.Minute))
	c.scheduler.FailCancel("2", errors.New("scancel: error: Socket timed out"))

	report := c.reconciler(Config{}, entry("l40-8", "llama8b", 1)).Pass(context.Background())
	assert.Len(t, report.Errors, 1)
	assert.Equal(t, []string{"1", "2"}, jobIds(c.registry.JobsFor(key)))
}

func TestPass_PrunesUndesiredKeys(t *testing.T) {
	c := newTestCluster(t)
	c.track(t, "a40-4:retired", "1", startTime)
	c.track(t, "l40-8:llama8b", "2", startTime)

	report := c.reconciler(Config{PruneUnknown: true}, entry("l40-8", "llama8b", 1)).Pass(context.Background())
	require.NoError(t, report.Err())
	assert.Equal(t, []string{"1"}, jobIds(report.Pruned))
	assert.Equal(t, []string{"l40-8:llama8b"}, c.registry.Snapshot().Keys())
}

func TestPass_KeepsUndesiredKeysWhenPruningDisabled(t *testing.T) {
	c := newTestCluster(t)
	c.track(t, "a40-4:retired", "1", startTime)

	report := c.reconciler(Config{PruneUnknown: false}).Pass(context.Background())
	require.NoError(t, report.Err())
	assert.Empty(t, report.Pruned)
	assert.Equal(t, []string{"a40-4:retired"}, c.registry.Snapshot().Keys())
}

// stoppingLifecycle asks the reconciler to stop from inside the first launch.
type stoppingLifecycle struct {
	reconciler *Reconciler
	launched   []string
}

func (l *stoppingLifecycle) Launch(_ context.Context, device string, workload string) (state.TrackedJob, error) {
	l.reconciler.Stop()
	l.launched = append(l.launched, topology.IdentityKey(device, workload))
	return state.TrackedJob{JobId: "x", Key: topology.IdentityKey(device, workload)}, nil
}

func (l *stoppingLifecycle) Terminate(context.Context, state.TrackedJob) error { return nil }

func (l *stoppingLifecycle) Refresh(context.Context) error { return nil }

func TestPass_StopTakesEffectBetweenEntries(t *testing.T) {
	c := newTestCluster(t)
	l := &stoppingLifecycle{}
	r := New(Config{}, []topology.DesiredEntry{entry("l40-8", "llama8b", 3), entry("a40-4", "gsmrm", 2)}, l, c.registry, nil, nil, c.clock)
	l.reconciler = r

	report := r.Pass(context.Background())
	assert.True(t, report.Interrupted)
	// The entry in progress is completed; the next one is never started
	assert.Equal(t, []string{"l40-8:llama8b", "l40-8:llama8b", "l40-8:llama8b"}, l.launched)
}

func TestReconciler_Lifecycle(t *testing.T) {
	c := newTestCluster(t)
	r := c.reconciler(Config{Interval: time.Minute}, entry("l40-8", "llama8b", 2))
	assert.Equal(t, Idle, r.State())

	require.NoError(t, r.Start(context.Background()))
	assert.Error(t, r.Start(context.Background()))

	// The first pass runs immediately
	require.Eventually(t, func() bool { return r.LastReport() != nil }, 5*time.Second, 10*time.Millisecond)
	assert.Len(t, r.LastReport().Launched, 2)
	first := r.LastReport()

	// Later passes run once the interval has elapsed
	c.scheduler.SetStatus(first.Launched[0].JobId, scheduler.StatusFailed)
	require.Eventually(t, func() bool {
		c.clock.Step(time.Minute)
		return r.LastReport() != first
	}, 5*time.Second, 10*time.Millisecond)

	r.Stop()
	r.Join()
	assert.Equal(t, Stopped, r.State())
	assert.NoError(t, r.Err())
	assert.True(t, r.JoinWithTimeout(time.Second))

	// Stop does not drain
	assert.Equal(t, 2, c.scheduler.ActiveCount())
	r.Stop()
	assert.Equal(t, Stopped, r.State())
}

func TestReconciler_StopBeforeStart(t *testing.T) {
	c := newTestCluster(t)
	r := c.reconciler(Config{})
	r.Join()
	r.Stop()
	assert.Equal(t, Stopped, r.State())
	r.Join()
	assert.Error(t, r.Start(context.Background()))
}

func TestReconciler_ContextCancellationStopsLoop(t *testing.T) {
	c := newTestCluster(t)
	r := c.reconciler(Config{}, entry("l40-8", "llama8b", 1))
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, r.Start(ctx))
	require.Eventually(t, func() bool { return r.LastReport() != nil }, 5*time.Second, 10*time.Millisecond)

	cancel()
	r.Join()
	assert.Equal(t, Stopped, r.State())
}

func TestTargets(t *testing.T) {
	r := New(Config{}, []topology.DesiredEntry{entry("l40-8", "llama8b", 3), entry("a40-4", "gsmrm", 0)}, nil, nil, nil, nil, clocktesting.NewFakeClock(startTime))
	assert.Equal(t, map[string]int{"l40-8:llama8b": 3, "a40-4:gsmrm": 0}, r.Targets())
	assert.Equal(t, DefaultInterval, r.config.Interval)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "Running", Running.String())
	assert.Equal(t, "State(9)", State(9).String())
}

func jobIds(jobs []state.TrackedJob) []string {
	ids := make([]string, len(jobs))
	for i, j := range jobs {
		ids[i] = j.JobId
	}
	return ids
}
