// Package version holds build metadata injected via ldflags.
package version

//nolint:revive // Overwritten by -ldflags at build time.
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)
