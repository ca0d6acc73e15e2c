// Package buildinfo carries the version stamped into govcontracts at link time.
package buildinfo

import "fmt"

// Set with -ldflags "-X github.com/quiverdata/govcontracts/internal/buildinfo.Version=...".
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

// String formats the build stamp for --version.
func String() string {
	return fmt.Sprintf("%s (commit: %s, built: %s)", Version, Commit, Date)
}
