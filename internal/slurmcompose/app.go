package slurmcompose

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"k8s.io/utils/clock"

	"github.com/armadaproject/slurmcompose/internal/scheduler"
	"github.com/armadaproject/slurmcompose/internal/slurmcompose/build"
	"github.com/armadaproject/slurmcompose/internal/slurmcompose/configuration"
	"github.com/armadaproject/slurmcompose/internal/state"
)

type App struct {
	// Parameters passed to the CLI by the user.
	Params *Params
	// Out is used to write the output. Defaults to standard out,
	// but can be overridden in tests to make assertions on the applications's output.
	Out io.Writer
	// Scheduler overrides the backend selected by the configuration. Tests use it to run against a
	// fake scheduler.
	Scheduler scheduler.Client
	// Store overrides the state file named by the configuration.
	Store state.Store
	Clock clock.Clock
}

// Params struct holds all user-customizable parameters.
// Using a single struct for all CLI commands ensures that all flags are distinct
// and that they can be provided either dynamically on a command line, or
// statically in a config file that's reused between command runs.
type Params struct {
	Config *configuration.SlurmComposeConfiguration
}

// New instantiates an App with default parameters, writing to standard output.
func New() *App {
	return &App{
		Params: &Params{Config: &configuration.SlurmComposeConfiguration{}},
		Out:    os.Stdout,
		Clock:  clock.RealClock{},
	}
}

// Version prints build information (e.g., current git commit) to the app output.
func (a *App) Version() error {
	w := tabwriter.NewWriter(a.Out, 1, 1, 1, ' ', 0)
	defer w.Flush()
	fmt.Fprintf(w, "Version:\t%s\n", build.ReleaseVersion)
	fmt.Fprintf(w, "Commit:\t%s\n", build.GitCommit)
	fmt.Fprintf(w, "Go version:\t%s\n", build.GoVersion)
	fmt.Fprintf(w, "Built:\t%s\n", build.BuildTime)
	return nil
}
