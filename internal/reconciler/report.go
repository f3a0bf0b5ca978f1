package reconciler

import (
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"

	"github.com/armadaproject/slurmcompose/internal/common/clustererrors"
	"github.com/armadaproject/slurmcompose/internal/state"
)

// PassReport summarises one reconciliation pass. Failures of individual launches or cancellations
// are recorded here rather than aborting the pass, except for failures to persist the cluster state.
type PassReport struct {
	Id         string
	Started    time.Time
	Finished   time.Time
	Launched   []state.TrackedJob
	Terminated []state.TrackedJob
	// Jobs cancelled because their identity key is no longer desired
	Pruned []state.TrackedJob
	Errors []error
	// Set if a stop request ended the pass before every entry was visited.
	Interrupted bool
	// The first persistence failure of the pass. The pass ends at that point and the loop stops.
	Fatal *clustererrors.ErrPersistence
}

func (r *PassReport) addError(err error) {
	r.Errors = append(r.Errors, err)
	var persistence *clustererrors.ErrPersistence
	if r.Fatal == nil && errors.As(err, &persistence) {
		r.Fatal = persistence
	}
}

// Err returns the pass failures as a single error, or nil if there were none.
func (r *PassReport) Err() error {
	if len(r.Errors) == 0 {
		return nil
	}
	return multierror.Append(nil, r.Errors...)
}

func (r *PassReport) Duration() time.Duration {
	return r.Finished.Sub(r.Started)
}
