// Package version exposes the build metadata stamped into the pairwise
// binary, logged once at startup.
package version

//nolint:revive // Injected via -ldflags at build time.
var (
	Version = "dev"
	Commit  = "unknown"
	Date    = "unknown"
)
