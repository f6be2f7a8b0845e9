// Package version carries build metadata injected via -ldflags.
package version

var (
	// Version is the semantic version of the release.
	Version = "dev"
	// GitCommit is the short hash of the commit the binary was built from.
	GitCommit = "unknown"
	// BuildTime is the RFC 3339 timestamp of the build.
	BuildTime = "unknown"
)
