//go:build mage
// +build mage

package main

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/magefile/mage/mg"
	"github.com/magefile/mage/sh"
)

const buildPackage = "github.com/armadaproject/slurmcompose/internal/slurmcompose/build"

var outputDir = filepath.Join(".", "bin")

// Clean up after yourself
func Clean() {
	fmt.Println("Cleaning...")
	for _, path := range []string{outputDir, "coverage.out"} {
		os.RemoveAll(path)
	}
}

// Build compiles the slurmcompose binary into ./bin, stamping version information.
func Build() error {
	if err := os.MkdirAll(outputDir, os.ModePerm); err != nil {
		return err
	}
	ldflags := versionFlags()
	env := map[string]string{"CGO_ENABLED": "0"}
	return sh.RunWith(env, "go", "build", "-ldflags", ldflags, "-o", filepath.Join(outputDir, "slurmcompose"), "./cmd/slurmcompose")
}

// Tests runs the unit tests with the race detector and writes a coverage profile.
func Tests() error {
	return sh.RunV("go", "test", "-race", "-coverprofile=coverage.out", "./...")
}

// Lint runs go vet and checks formatting.
func Lint() error {
	if err := sh.RunV("go", "vet", "./..."); err != nil {
		return err
	}
	unformatted, err := sh.Output("gofmt", "-l", "cmd", "internal")
	if err != nil {
		return err
	}
	if unformatted != "" {
		return fmt.Errorf("files need formatting:\n%s", unformatted)
	}
	return nil
}

// CI runs everything a pull request has to pass.
func CI() {
	mg.SerialDeps(Lint, Tests, Build)
}

func versionFlags() string {
	commit, err := sh.Output("git", "rev-parse", "--short", "HEAD")
	if err != nil {
		commit = "unknown"
	}
	version := os.Getenv("RELEASE_VERSION")
	if version == "" {
		version = "dev"
	}
	flags := []string{
		fmt.Sprintf("-X %s.ReleaseVersion=%s", buildPackage, version),
		fmt.Sprintf("-X %s.GitCommit=%s", buildPackage, commit),
		fmt.Sprintf("-X %s.BuildTime=%s", buildPackage, time.Now().UTC().Format(time.RFC3339)),
		fmt.Sprintf("-X %s.GoVersion=%s", buildPackage, runtime.Version()),
	}
	return strings.Join(flags, " ")
}
