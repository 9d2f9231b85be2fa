// Package timer implements the gRPC transport for the timer service.
//
// It converts wire messages to domain values, calls into the orchestrator
// and maps domain errors to gRPC status codes.
package timer
