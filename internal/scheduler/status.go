package scheduler

import "strings"

// Status is the normalised state of a scheduler job.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusRunning   Status = "RUNNING"
	StatusRequeued  Status = "REQUEUED"
	StatusCompleted Status = "COMPLETED"
	StatusCancelled Status = "CANCELLED"
	StatusFailed    Status = "FAILED"
	StatusTimeout   Status = "TIMEOUT"
	StatusNodeFail  Status = "NODE_FAIL"
	StatusNotQueued Status = "NOT_QUEUED"
	// The scheduler has no record of the job.
	StatusUnknown Status = "UNKNOWN"
)

// Squeue short codes (%t) and the sacct long-form states they correspond to.
var statusCodes = map[string]Status{
	"PD":  StatusPending,
	"R":   StatusRunning,
	"CA":  StatusCancelled,
	"F":   StatusFailed,
	"TO":  StatusTimeout,
	"NF":  StatusNodeFail,
	"CD":  StatusCompleted,
	"CG":  StatusCompleted,
	"PR":  StatusFailed,
	"S":   StatusFailed,
	"ST":  StatusFailed,
	"BF":  StatusFailed,
	"DL":  StatusFailed,
	"OOM": StatusFailed,
	"NQ":  StatusNotQueued,
	"SE":  StatusFailed,
	"RQ":  StatusRequeued,

	"PENDING":       StatusPending,
	"RUNNING":       StatusRunning,
	"CANCELLED":     StatusCancelled,
	"FAILED":        StatusFailed,
	"TIMEOUT":       StatusTimeout,
	"NODE_FAIL":     StatusNodeFail,
	"COMPLETED":     StatusCompleted,
	"COMPLETING":    StatusCompleted,
	"PREEMPTED":     StatusFailed,
	"SUSPENDED":     StatusFailed,
	"STOPPED":       StatusFailed,
	"BOOT_FAIL":     StatusFailed,
	"DEADLINE":      StatusFailed,
	"OUT_OF_MEMORY": StatusFailed,
	"SPECIAL_EXIT":  StatusFailed,
	"REQUEUED":      StatusRequeued,
}

// ParseStatus maps scheduler output to a Status. Only the first word of the first line is
// considered, since sacct prints one line per job step and may append a reason ("CANCELLED by 1234").
func ParseStatus(output string) Status {
	fields := strings.Fields(strings.TrimSpace(output))
	if len(fields) == 0 {
		return StatusUnknown
	}
	code := strings.TrimSuffix(fields[0], "+")
	if status, ok := statusCodes[code]; ok {
		return status
	}
	return StatusUnknown
}

// IsActive reports whether a job in this state occupies a slot in the desired count.
func (s Status) IsActive() bool {
	switch s {
	case StatusPending, StatusRunning, StatusRequeued:
		return true
	}
	return false
}

// Occupies reports whether a job last seen in this state still counts toward the desired count.
// Only states that say the job is gone release its slot; an empty or unrecognised state counts until
// the scheduler is queried again.
func (s Status) Occupies() bool {
	if s.IsTerminal() {
		return false
	}
	return s != StatusNotQueued && s != StatusUnknown
}

// IsTerminal reports whether the job has finished and will never become active again.
// Unknown is not terminal in this sense but is treated as gone by callers.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusCancelled, StatusFailed, StatusTimeout, StatusNodeFail:
		return true
	}
	return false
}
