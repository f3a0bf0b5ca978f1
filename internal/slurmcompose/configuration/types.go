package configuration

import (
	"time"

	"github.com/armadaproject/slurmcompose/internal/common/logging"
)

const (
	BackendSlurm = "slurm"
	BackendLocal = "local"
)

type RegistryConfiguration struct {
	Enabled bool
	// redis:// url handed to every workload
	Url string
	// Workload argument the url is written to
	ArgName string
	// Interval between reachability checks while apply is running
	CheckInterval time.Duration
}

type SchedulerConfiguration struct {
	// slurm or local
	Backend string
	// Bound on each sbatch/squeue/sacct/scancel invocation
	Timeout time.Duration
	// Start of the sacct window used for jobs that already left the queue
	HistoryWindow string
}

type SlurmComposeConfiguration struct {
	Account string
	User    string
	// Device catalog file
	Devices string
	// Workload name to workload spec file
	Workloads map[string]string
	// Directories of workload spec files, named after the file
	WorkloadDirs []string
	StateFile    string
	// Where generated job scripts are written
	ScriptDir string
	CondaPath string
	CondaEnv  string
	// Extra variables available for ${VAR} substitution in workload arguments
	MetaArgs          map[string]string
	ReconcileInterval time.Duration
	DrainTimeout      time.Duration
	// Cancel tracked jobs whose identity is not part of the topology
	PruneUnknown bool
	// 0 disables the metrics endpoint
	MetricsPort uint16
	Registry    RegistryConfiguration
	Scheduler   SchedulerConfiguration
	Logging     logging.Config
}
