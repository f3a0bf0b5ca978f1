package main

import (
	"os"

	"github.com/armadaproject/slurmcompose/cmd/slurmcompose/cmd"
	"github.com/armadaproject/slurmcompose/internal/common/clustererrors"
	"github.com/armadaproject/slurmcompose/internal/common/logging"
)

func main() {
	logging.ConfigureCliLogging()
	if err := cmd.RootCmd().Execute(); err != nil {
		os.Exit(clustererrors.ExitCodeFromError(err))
	}
}
