// Package version exposes build metadata of the countdown binaries.
//
// Version, Commit and BuildTime are set with -ldflags "-X" at build time.
// Both binaries attach the same version subcommand through
// AttachCobraVersionCommand.
package version
