package state

import (
	"sync"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/exp/slices"

	"github.com/armadaproject/slurmcompose/internal/common/clustererrors"
	"github.com/armadaproject/slurmcompose/internal/scheduler"
)

// Registry is the authoritative record of the jobs owned by this cluster.
// Every mutation is persisted before it returns; if persisting fails the in-memory state is left as
// it was and an ErrPersistence is returned. Readers always receive copies.
type Registry struct {
	store Store
	state ClusterState
	// Job id to identity key, for uniqueness checks
	owners map[string]string
	mutex  sync.Mutex
}

func NewRegistry(store Store) *Registry {
	return &Registry{
		store:  store,
		state:  ClusterState{},
		owners: map[string]string{},
	}
}

// Load replaces the in-memory state with the persisted one.
func (r *Registry) Load() (ClusterState, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	loaded, err := r.store.Load()
	if err != nil {
		return nil, err
	}
	r.replace(loaded)
	return r.state.DeepCopy(), nil
}

// Save replaces the state wholesale and persists it.
func (r *Registry) Save(state ClusterState) error {
	if err := validate(state); err != nil {
		return &clustererrors.ErrInvalidArgument{Name: "state", Value: "", Message: err.Error()}
	}
	next := state.DeepCopy()
	for key, jobs := range next {
		for i := range jobs {
			jobs[i].Key = key
		}
	}
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return r.commit(next)
}

// Adopt replaces the state with the given jobs, grouped by their keys and ordered by submission
// time. Used to rebuild the registry from the scheduler's live job list.
func (r *Registry) Adopt(jobs []TrackedJob) error {
	state := ClusterState{}
	for _, job := range jobs {
		state[job.Key] = append(state[job.Key], job)
	}
	for _, list := range state {
		sortBySubmission(list)
	}
	return r.Save(state)
}

// Record adds a newly submitted job.
func (r *Registry) Record(job TrackedJob) error {
	if job.JobId == "" || job.Key == "" {
		return &clustererrors.ErrInvalidArgument{Name: "job", Value: job.JobId, Message: "job id and key are required"}
	}
	r.mutex.Lock()
	defer r.mutex.Unlock()
	if owner, ok := r.owners[job.JobId]; ok {
		return &clustererrors.ErrAlreadyExists{Type: "job", Value: job.JobId, Message: "tracked under " + owner}
	}
	next := r.state.DeepCopy()
	next[job.Key] = append(next[job.Key], job)
	return r.commit(next)
}

// Remove stops tracking a job.
func (r *Registry) Remove(key string, jobId string) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	i := r.indexOf(key, jobId)
	if i < 0 {
		return &clustererrors.ErrNotFound{Type: "job", Value: jobId, Message: "not tracked under " + key}
	}
	next := r.state.DeepCopy()
	next[key] = slices.Delete(next[key], i, i+1)
	if len(next[key]) == 0 {
		delete(next, key)
	}
	return r.commit(next)
}

// UpdateStatus records the last status observed for a job. Writing an unchanged status does not
// touch the state file.
func (r *Registry) UpdateStatus(key string, jobId string, status scheduler.Status) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	i := r.indexOf(key, jobId)
	if i < 0 {
		return &clustererrors.ErrNotFound{Type: "job", Value: jobId, Message: "not tracked under " + key}
	}
	if r.state[key][i].LastKnownStatus == status {
		return nil
	}
	next := r.state.DeepCopy()
	next[key][i].LastKnownStatus = status
	return r.commit(next)
}

// JobsFor returns the jobs tracked under key, oldest first.
func (r *Registry) JobsFor(key string) []TrackedJob {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return slices.Clone(r.state[key])
}

func (r *Registry) Snapshot() ClusterState {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return r.state.DeepCopy()
}

// commit persists next and makes it current. Must be called with the mutex held.
func (r *Registry) commit(next ClusterState) error {
	if err := r.store.Save(next); err != nil {
		log.WithError(err).Error("Failed to persist cluster state; keeping previous state")
		var persistence *clustererrors.ErrPersistence
		if errors.As(err, &persistence) {
			return err
		}
		return &clustererrors.ErrPersistence{Op: "write", Cause: err}
	}
	r.replace(next)
	return nil
}

func (r *Registry) replace(state ClusterState) {
	r.state = state
	r.owners = make(map[string]string, state.JobCount())
	for key, jobs := range state {
		for _, job := range jobs {
			r.owners[job.JobId] = key
		}
	}
}

func (r *Registry) indexOf(key string, jobId string) int {
	return slices.IndexFunc(r.state[key], func(job TrackedJob) bool { return job.JobId == jobId })
}

func sortBySubmission(jobs []TrackedJob) {
	slices.SortStableFunc(jobs, func(a, b TrackedJob) bool {
		if a.SubmittedAt.Equal(b.SubmittedAt) {
			return a.JobId < b.JobId
		}
		return a.SubmittedAt.Before(b.SubmittedAt)
	})
}
