package cmd

import (
	"github.com/spf13/cobra"

	"github.com/armadaproject/slurmcompose/internal/slurmcompose"
)

func versionCmd(a *slurmcompose.App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print version.",
		Args:  cobra.ExactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.Version()
		},
	}
	return cmd
}
