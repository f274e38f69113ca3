// Package version carries build metadata stamped in with -ldflags "-X".
package version

import "fmt"

var (
	// Version is the hitmerge release, or "dev" for local builds.
	Version = "dev"
	// GitSHA is the commit the binary was built from.
	GitSHA = "unknown"
	// BuildTime is the build timestamp.
	BuildTime = "unknown"
)

// String formats the metadata for -version output.
func String() string {
	return fmt.Sprintf("hitmerge %s (%s, built %s)", Version, GitSHA, BuildTime)
}
