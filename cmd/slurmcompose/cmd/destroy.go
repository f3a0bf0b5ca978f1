package cmd

import (
	"github.com/spf13/cobra"

	"github.com/armadaproject/slurmcompose/internal/common/app"
	"github.com/armadaproject/slurmcompose/internal/slurmcompose"
)

func destroyCmd(a *slurmcompose.App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "destroy [topology]",
		Short: "Cancel the tracked jobs of the topology's identities, or every tracked job.",
		Args:  cobra.MaximumNArgs(1),
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initParams(cmd, a)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			topologyPath := ""
			if len(args) == 1 {
				topologyPath = args[0]
			}
			return a.Destroy(app.CreateContextWithShutdown(), topologyPath)
		},
	}
	return cmd
}
