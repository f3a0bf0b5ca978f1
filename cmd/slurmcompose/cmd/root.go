package cmd

import (
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/armadaproject/slurmcompose/internal/slurmcompose"
	"github.com/armadaproject/slurmcompose/internal/slurmcompose/configuration"
)

// RootCmd is the root Cobra command that gets called from the main func.
// All other sub-commands should be registered here.
func RootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "slurmcompose",
		Short: "slurmcompose keeps a fleet of Slurm jobs converged on a declared topology.",
		Long: `slurmcompose keeps a fleet of Slurm jobs converged on a declared topology.

Persistent config can be saved in a config file so it doesn't have to be specified every command.

Example structure:
account: cse
user: graf
devices: ~/slurmcompose/machines.yaml
workloadDirs: ~/slurmcompose/workloads
stateFile: ~/slurmcompose/cluster_state.json

The location of this file can be passed in using the --config argument.
If not provided, $HOME/.slurmcompose.yaml is used.
Every setting can also be given as an environment variable, e.g. SLURMCOMPOSE_ACCOUNT.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().String("config", "", "config file (default is $HOME/.slurmcompose.yaml)")
	cmd.PersistentFlags().String("account", "", "Slurm account jobs are charged to")
	cmd.PersistentFlags().String("user", "", "Slurm user whose jobs are listed during recovery")
	cmd.PersistentFlags().String("devices", "", "device catalog file")
	cmd.PersistentFlags().StringSlice("workloadDirs", nil, "directories of workload spec files")
	cmd.PersistentFlags().String("stateFile", "", "file the tracked jobs are persisted to")
	cmd.PersistentFlags().String("backend", "", "scheduler backend, slurm or local")
	flags := cmd.PersistentFlags()
	bindFlag("account", flags.Lookup("account"))
	bindFlag("user", flags.Lookup("user"))
	bindFlag("devices", flags.Lookup("devices"))
	bindFlag("workloadDirs", flags.Lookup("workloadDirs"))
	bindFlag("stateFile", flags.Lookup("stateFile"))
	bindFlag("scheduler.backend", flags.Lookup("backend"))

	cmd.AddCommand(
		planCmd(slurmcompose.New()),
		applyCmd(slurmcompose.New()),
		destroyCmd(slurmcompose.New()),
		runCmd(slurmcompose.New()),
		statusCmd(slurmcompose.New()),
		versionCmd(slurmcompose.New()),
	)

	return cmd
}

// bindFlag makes flag override the config file value of key when it is set.
func bindFlag(key string, flag *pflag.Flag) {
	// Only fails for a nil flag, which is a programming error.
	if err := viper.BindPFlag(key, flag); err != nil {
		panic(err)
	}
}

// initParams reads the config file, environment and flags into the app's parameters.
func initParams(cmd *cobra.Command, app *slurmcompose.App) error {
	cfgFile, err := cmd.Flags().GetString("config")
	if err != nil {
		return err
	}
	v := viper.GetViper()
	configuration.SetDefaults(v)
	if err := configuration.ReadConfigFile(v, cfgFile); err != nil {
		return err
	}
	config, err := configuration.Load(v)
	if err != nil {
		return err
	}
	app.Params.Config = config
	return nil
}
