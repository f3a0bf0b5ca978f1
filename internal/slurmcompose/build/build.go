// Package build holds build information, set at link time with -ldflags "-X ...".
package build

import "runtime"

var (
	ReleaseVersion = "unknown"
	GitCommit      = "unknown"
	BuildTime      = "unknown"
	GoVersion      = runtime.Version()
)
