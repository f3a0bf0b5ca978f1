package scheduler

import (
	"context"

	"github.com/pkg/errors"
)

// ErrJobNotFound is returned by Cancel when the scheduler no longer knows the job.
// Callers treat it as a successful cancellation.
var ErrJobNotFound = errors.New("job not found")

// LiveJob is a job as reported by the scheduler's job listing.
type LiveJob struct {
	JobId  string
	Name   string
	Status Status
}

// Client is the narrow set of scheduler operations the engine needs.
// All calls block and must honour ctx cancellation.
type Client interface {
	// Submit queues the script and returns the scheduler-assigned job id.
	Submit(ctx context.Context, name string, script string) (string, error)
	Query(ctx context.Context, jobId string) (Status, error)
	Cancel(ctx context.Context, jobId string) error
	// List returns the jobs of the configured user.
	List(ctx context.Context) ([]LiveJob, error)
}

// IsJobNotFound reports whether err indicates the job is already gone.
func IsJobNotFound(err error) bool {
	return errors.Is(err, ErrJobNotFound)
}
