// Package clustererrors contains the typed errors returned by the reconciliation engine.
// Callers classify failures with errors.As rather than by inspecting messages; ExitCodeFromError
// maps the taxonomy onto process exit codes for the command line.
//
// If multiple errors occur in some function (e.g., several topology entries are malformed), that
// function should return an error of type multierror.Error from package
// github.com/hashicorp/go-multierror that encapsulates those individual errors.
package clustererrors

import (
	"fmt"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
)

// ErrStructural is returned when a topology, catalog or workload document is malformed.
// It is always fatal and is raised before any state is mutated.
type ErrStructural struct {
	// Document that failed to parse, e.g., "topology" or a file path
	Source string
	// Position of the offending element inside the document, if any (e.g., "configurations[3]")
	Path    string
	Message string
}

func (err *ErrStructural) Error() string {
	if err.Path != "" {
		return fmt.Sprintf("malformed %s at %s: %s", err.Source, err.Path, err.Message)
	}
	return fmt.Sprintf("malformed %s: %s", err.Source, err.Message)
}

// ErrExpansion reports a wildcard device pattern that matched no known device.
// It is a warning: the entry is dropped and compilation continues.
type ErrExpansion struct {
	Pattern  string
	Workload string
}

func (err *ErrExpansion) Error() string {
	return fmt.Sprintf("device pattern %q (workload %q) matches no known device; entry dropped", err.Pattern, err.Workload)
}

// ErrSubmission is returned when the scheduler rejects or fails to accept a job.
type ErrSubmission struct {
	Device   string
	Workload string
	Cause    error
}

func (err *ErrSubmission) Error() string {
	return fmt.Sprintf("failed to submit job for %s:%s: %s", err.Device, err.Workload, err.Cause)
}

func (err *ErrSubmission) Unwrap() error {
	return err.Cause
}

// ErrCancellation is returned when the scheduler fails to cancel a tracked job.
// The job remains tracked so that the next drain or pass retries it.
type ErrCancellation struct {
	JobId string
	Key   string
	Cause error
}

func (err *ErrCancellation) Error() string {
	return fmt.Sprintf("failed to cancel job %s (%s): %s", err.JobId, err.Key, err.Cause)
}

func (err *ErrCancellation) Unwrap() error {
	return err.Cause
}

// ErrPersistence is returned when the state file cannot be read or written.
type ErrPersistence struct {
	Path  string
	Op    string // "read" or "write"
	Cause error
}

func (err *ErrPersistence) Error() string {
	return fmt.Sprintf("unable to %s state file %s: %s", err.Op, err.Path, err.Cause)
}

func (err *ErrPersistence) Unwrap() error {
	return err.Cause
}

// ErrAlreadyExists is a generic error to be returned whenever some resource already exists.
// Type and Message are optional and are omitted from the error message if not provided.
type ErrAlreadyExists struct {
	Type    string // Resource type, e.g., "workload" or "job"
	Value   string // Resource name, e.g., "llama8b"
	Message string // An optional message to include in the error message
}

func (err *ErrAlreadyExists) Error() (s string) {
	if err.Type != "" {
		s = fmt.Sprintf("resource %q of type %q already exists", err.Value, err.Type)
	} else {
		s = fmt.Sprintf("resource %q already exists", err.Value)
	}
	if err.Message != "" {
		return s + fmt.Sprintf("; %s", err.Message)
	}
	return s
}

// ErrNotFound is a generic error to be returned whenever some resource isn't found.
// Type and Message are optional and are omitted from the error message if not provided.
type ErrNotFound struct {
	Type    string
	Value   string
	Message string
}

func (err *ErrNotFound) Error() (s string) {
	if err.Type != "" {
		s = fmt.Sprintf("resource %q of type %q does not exist", err.Value, err.Type)
	} else {
		s = fmt.Sprintf("resource %q does not exist", err.Value)
	}
	if err.Message != "" {
		return s + fmt.Sprintf("; %s", err.Message)
	}
	return s
}

// ErrInvalidArgument is a generic error to be returned on invalid argument.
// Message is optional and is omitted from the error message if not provided.
type ErrInvalidArgument struct {
	Name    string      // Name of the field referred to, e.g., "target_instances"
	Value   interface{} // The invalid value that was provided
	Message string      // An optional message to include with the error message
}

func (err *ErrInvalidArgument) Error() string {
	if err.Message == "" {
		return fmt.Sprintf("value %q is invalid for field %q", fmt.Sprint(err.Value), err.Name)
	}
	return fmt.Sprintf("value %q is invalid for field %q; %s", fmt.Sprint(err.Value), err.Name, err.Message)
}

// Process exit codes returned by the command line.
const (
	ExitOK          = 0
	ExitUnknown     = 1
	ExitStructural  = 2
	ExitPersistence = 3
	ExitDrain       = 4
)

// ExitCodeFromError maps error types to process exit codes.
// Uses errors.As to look through the chain of errors, as opposed to just considering the topmost error in the chain.
// Aggregated errors are classified by their first member.
func ExitCodeFromError(err error) int {
	if err == nil {
		return ExitOK
	}

	var merr *multierror.Error
	if errors.As(err, &merr) && len(merr.Errors) > 0 {
		return ExitCodeFromError(merr.Errors[0])
	}

	// Using {} scopes just to re-use the "e" variable name for each case.
	{
		var e *ErrStructural
		if errors.As(err, &e) {
			return ExitStructural
		}
	}
	{
		var e *ErrInvalidArgument
		if errors.As(err, &e) {
			return ExitStructural
		}
	}
	{
		var e *ErrNotFound
		if errors.As(err, &e) {
			return ExitStructural
		}
	}
	{
		var e *ErrAlreadyExists
		if errors.As(err, &e) {
			return ExitStructural
		}
	}
	{
		var e *ErrPersistence
		if errors.As(err, &e) {
			return ExitPersistence
		}
	}
	{
		var e *ErrCancellation
		if errors.As(err, &e) {
			return ExitDrain
		}
	}
	return ExitUnknown
}

// IsStructural reports whether err is, or wraps, a structural error.
func IsStructural(err error) bool {
	var e *ErrStructural
	return errors.As(err, &e)
}
