package cmd

import (
	"github.com/spf13/cobra"

	"github.com/armadaproject/slurmcompose/internal/common/app"
	"github.com/armadaproject/slurmcompose/internal/slurmcompose"
)

func runCmd(a *slurmcompose.App) *cobra.Command {
	options := slurmcompose.RunOptions{}
	cmd := &cobra.Command{
		Use:   "run <device> <workload>",
		Short: "Generate the script for one device and workload and run it locally.",
		Args:  cobra.ExactArgs(2),
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initParams(cmd, a)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			options.Device = args[0]
			options.Workload = args[1]
			return a.Run(app.CreateContextWithShutdown(), options)
		},
	}
	cmd.Flags().StringVar(&options.Terminal, "terminal", "bash", "shell the script is passed to with -c")
	cmd.Flags().StringVar(&options.Topology, "topology", "", "topology file whose inline workloads should be available")
	cmd.Flags().BoolVar(&options.DryRun, "dry-run", false, "print the script without running it")
	return cmd
}
