package slurmcompose

import (
	"fmt"
	"text/tabwriter"
	"time"
)

// Status prints the jobs recorded in the state file, grouped by identity key.
func (a *App) Status() error {
	current, err := a.stateRegistry().Load()
	if err != nil {
		return err
	}
	if current.JobCount() == 0 {
		fmt.Fprintf(a.Out, "No tracked jobs in %s\n", a.config().StateFile)
		return nil
	}

	w := tabwriter.NewWriter(a.Out, 1, 1, 2, ' ', 0)
	now := a.Clock.Now()
	for _, key := range current.Keys() {
		jobs := current[key]
		fmt.Fprintf(w, "%s\t%d active\t\t\n", key, countActive(jobs))
		for _, job := range jobs {
			age := now.Sub(job.SubmittedAt).Round(time.Second)
			fmt.Fprintf(w, "  %s\t%s\t%s\t%s ago\n", job.JobId, job.LastKnownStatus, job.SubmittedAt.Format(time.RFC3339), age)
		}
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(a.Out, "%d jobs across %d keys\n", current.JobCount(), len(current.Keys()))
	return nil
}
