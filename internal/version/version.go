// Package version holds build-time version information for the patentrag
// binary, populated via -ldflags:
//
//	go build -ldflags="-X github.com/54b3r/patentrag/internal/version.Version=v0.3.0 \
//	                    -X github.com/54b3r/patentrag/internal/version.Commit=abc1234"
package version

import "fmt"

var (
	// Version is the semantic version. Defaults to "dev".
	Version = "dev"

	// Commit is the short git SHA. Defaults to "unknown".
	Commit = "unknown"

	// BuildDate is the UTC build date. Defaults to "unknown".
	BuildDate = "unknown"
)

// String renders all three fields on one line.
func String() string {
	return fmt.Sprintf("%s (commit %s, built %s)", Version, Commit, BuildDate)
}
