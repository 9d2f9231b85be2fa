// Package common holds helpers shared by several services.
//
// It provides a gRPC client for the timer service that applies call
// timeouts, decodes records into domain timers and announces the calling
// actor (username@hostname) in request metadata.
//
//nolint:revive,nolintlint // Package name "common" is intentional for shared helpers.
package common
