package cmd

import (
	"github.com/spf13/cobra"

	"github.com/armadaproject/slurmcompose/internal/slurmcompose"
)

func planCmd(a *slurmcompose.App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plan <topology>",
		Short: "Show what apply would launch and cancel.",
		Long: `Compiles the topology against the device catalog and workload specs, expanding wildcards
and merging duplicate entries, and prints the desired job count for each (device, workload) pair next
to the number of jobs currently tracked in the state file. The scheduler is not contacted.`,
		Args: cobra.ExactArgs(1),
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initParams(cmd, a)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.Plan(args[0])
		},
	}
	return cmd
}
