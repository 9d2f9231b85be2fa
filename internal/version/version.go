package version

import (
	"fmt"
	"runtime"
)

// Product is the name printed in front of the version.
const Product = "countdown"

var (
	// Version is the semantic version of the build. It can be overridden via ldflags.
	Version = "0.1.0"
	// Commit is the short git SHA embedded at build time (or "none").
	Commit = "none"
	// BuildTime is the UTC build timestamp embedded at build time.
	BuildTime = "unknown"
)

// Short returns only the semantic version string.
func Short() string {
	return Version
}

// Full returns the product, version, commit, build time and Go toolchain.
func Full() string {
	return fmt.Sprintf(
		"%s %s (commit: %s, built at: %s, %s)",
		Product, Version, Commit, BuildTime, runtime.Version(),
	)
}
