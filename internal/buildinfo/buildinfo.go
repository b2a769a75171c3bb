// Package buildinfo exposes compile-time metadata shared by the CLI and the SDK transport.
package buildinfo

import "fmt"

// The following variables are overridden via ldflags during release builds.
// Defaults cover local development builds.
var (
	// Version is the semantic version or git describe output of the binary.
	Version = "dev"

	// Commit is the git commit SHA baked into the binary.
	Commit = "none"

	// BuildDate records when the binary was built in UTC.
	BuildDate = "unknown"
)

// UserAgent is sent on every provider request.
func UserAgent() string {
	return "alien-sso-go/" + Version
}

// String is the one line version banner.
func String() string {
	return fmt.Sprintf("alien-sso %s (commit %s, built %s)", Version, Commit, BuildDate)
}
