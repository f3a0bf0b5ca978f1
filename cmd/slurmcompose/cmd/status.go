package cmd

import (
	"github.com/spf13/cobra"

	"github.com/armadaproject/slurmcompose/internal/slurmcompose"
)

func statusCmd(a *slurmcompose.App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Print the jobs recorded in the state file.",
		Args:  cobra.ExactArgs(0),
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initParams(cmd, a)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.Status()
		},
	}
	return cmd
}
