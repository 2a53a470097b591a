// Package version holds build metadata, stamped at link time:
//
//	go build -ldflags "-X github.com/luna-labs/accuracy.report/internal/version.Version=v1.2.0 \
//	  -X github.com/luna-labs/accuracy.report/internal/version.GitSHA=$(git rev-parse --short HEAD)"
package version

import "fmt"

var (
	// Version is the release tag
	Version = "dev"
	// GitSHA is the git commit SHA
	GitSHA = "unknown"
	// BuildTime is the build timestamp
	BuildTime = "unknown"
)

// String is the one-line form printed by the version command.
func String() string {
	return fmt.Sprintf("%s (commit %s, built %s)", Version, GitSHA, BuildTime)
}
