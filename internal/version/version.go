// Package version carries build metadata stamped in by the linker:
//
//	go build -ldflags "-X github.com/banshee-data/haze/internal/version.Version=v0.3.0"
package version

import "fmt"

var (
	Version   = "dev"
	GitSHA    = "unknown"
	BuildTime = "unknown"
)

// String renders the build metadata for a binary named name.
func String(name string) string {
	return fmt.Sprintf("%s %s (%s, built %s)", name, Version, GitSHA, BuildTime)
}
