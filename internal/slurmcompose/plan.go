package slurmcompose

import (
	"fmt"
	"text/tabwriter"

	log "github.com/sirupsen/logrus"

	"github.com/armadaproject/slurmcompose/internal/state"
)

// Plan compiles the topology and prints the desired state next to what the state file currently
// tracks, without touching the scheduler.
func (a *App) Plan(topologyPath string) error {
	c, err := a.loadCatalog()
	if err != nil {
		return err
	}
	result, err := compileTopology(topologyPath, c)
	if err != nil {
		return err
	}

	current, err := a.stateRegistry().Load()
	if err != nil {
		if !state.IsCorrupt(err) {
			return err
		}
		log.WithError(err).Warn("Ignoring corrupt state file; apply will rebuild it from the scheduler")
		current = state.ClusterState{}
	}

	for _, name := range result.Registered {
		fmt.Fprintf(a.Out, "Inline workload: %s\n", name)
	}
	for _, warning := range result.Warnings {
		fmt.Fprintf(a.Out, "Warning: %s\n", warning)
	}

	w := tabwriter.NewWriter(a.Out, 1, 1, 2, ' ', 0)
	fmt.Fprintf(w, "KEY\tDEVICE\tWORKLOAD\tTARGET\tCURRENT\tACTION\n")
	desired := map[string]bool{}
	total := 0
	for _, entry := range result.Entries {
		desired[entry.Key] = true
		total += entry.TargetCount
		active := countActive(current[entry.Key])
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%s\n", entry.Key, entry.Device, entry.Workload, entry.TargetCount, active, action(entry.TargetCount, active))
	}
	if a.config().PruneUnknown {
		for _, key := range current.Keys() {
			if desired[key] {
				continue
			}
			active := countActive(current[key])
			fmt.Fprintf(w, "%s\t-\t-\t0\t%d\t%s\n", key, active, action(0, active))
		}
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(a.Out, "%d entries, %d jobs desired, %d jobs tracked\n", len(result.Entries), total, current.JobCount())
	return nil
}

func countActive(jobs []state.TrackedJob) int {
	count := 0
	for _, job := range jobs {
		if job.LastKnownStatus.Occupies() {
			count++
		}
	}
	return count
}

func action(target int, current int) string {
	switch {
	case current < target:
		return fmt.Sprintf("launch %d", target-current)
	case current > target:
		return fmt.Sprintf("terminate %d", current-target)
	default:
		return "-"
	}
}
