// Package version holds build metadata set with -ldflags, for example
//
//	go build -ldflags "-X github.com/R3E-Network/signflow/pkg/version.Version=v1.2.0"
package version

import "fmt"

var (
	Version = "dev"
	Commit  = "unknown"
)

// String formats the version for CLI output.
func String() string {
	return fmt.Sprintf("signflow %s (%s)", Version, Commit)
}
