package slurmcompose

import (
	"context"
	"fmt"
	"os"
	"os/exec"

	"github.com/pkg/errors"

	"github.com/armadaproject/slurmcompose/internal/topology"
)

type RunOptions struct {
	Device   string
	Workload string
	// Optional topology whose inline workloads should be available
	Topology string
	// Shell the script is passed to with -c
	Terminal string
	// Print the script instead of running it
	DryRun bool
}

// Run generates the script for one (device, workload) pair and runs it in the foreground on the
// local machine, bypassing the scheduler.
func (a *App) Run(ctx context.Context, options RunOptions) error {
	c, err := a.loadCatalog()
	if err != nil {
		return err
	}
	if options.Topology != "" {
		if _, err := compileTopology(options.Topology, c); err != nil {
			return err
		}
	}
	discovery, err := a.discoveryEndpoint(c)
	if err != nil {
		return err
	}
	if discovery != nil {
		defer discovery.Close()
	}
	generator, err := a.newGenerator(discovery)
	if err != nil {
		return err
	}

	device, err := c.Device(options.Device)
	if err != nil {
		return err
	}
	workload, err := c.Workload(options.Workload)
	if err != nil {
		return err
	}
	script, err := generator.Generate(topology.IdentityKey(device.Name, workload.Name), device, workload)
	if err != nil {
		return err
	}

	fmt.Fprintln(a.Out, script)
	if options.DryRun {
		return nil
	}

	terminal := options.Terminal
	if terminal == "" {
		terminal = "bash"
	}
	cmd := exec.CommandContext(ctx, terminal, "-c", script)
	cmd.Stdin = os.Stdin
	cmd.Stdout = a.Out
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return errors.Wrapf(err, "error running script for %s in %s", topology.IdentityKey(device.Name, workload.Name), terminal)
	}
	return nil
}
