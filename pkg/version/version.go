// Package version holds the build version of omps.
package version

// Version is overridden at build time with
// -ldflags "-X github.com/operator-framework/omps/pkg/version.Version=<version>".
var Version = "0.0.0-dev"

// GitCommit is the commit the binary was built from.
var GitCommit = "unknown"

// String returns the version and commit.
func String() string {
	return Version + " (" + GitCommit + ")"
}
