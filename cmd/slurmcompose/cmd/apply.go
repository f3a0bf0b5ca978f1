package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/armadaproject/slurmcompose/internal/common/app"
	"github.com/armadaproject/slurmcompose/internal/common/logging"
	"github.com/armadaproject/slurmcompose/internal/slurmcompose"
)

func applyCmd(a *slurmcompose.App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "apply <topology>",
		Short: "Launch jobs and keep them converged on the topology until interrupted.",
		Long: `Recovers the jobs recorded in the state file, then reconciles every interval: finished
jobs are replaced, missing jobs launched and surplus jobs cancelled, newest first. On SIGINT or SIGTERM
the current launch or cancellation completes, then every tracked job is cancelled.`,
		Args: cobra.ExactArgs(1),
		PreRunE: func(cmd *cobra.Command, args []string) error {
			if err := initParams(cmd, a); err != nil {
				return err
			}
			if err := logging.ConfigureApplicationLogging(a.Params.Config.Logging); err != nil {
				return err
			}
			return logging.AddPrometheusHook()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.Apply(context.Background(), args[0], app.ShutdownSignal())
		},
	}
	cmd.Flags().Uint16("metricsPort", 0, "port to serve /metrics and /health on; 0 disables them")
	cmd.Flags().Duration("interval", 0, "time between reconciliation passes")
	bindFlag("metricsPort", cmd.Flags().Lookup("metricsPort"))
	bindFlag("reconcileInterval", cmd.Flags().Lookup("interval"))
	return cmd
}
