// Package timers implements the timer lifecycle orchestrator.
//
// The Service is the only writer of timer records. Every transition runs
// under a per-timer lock, is persisted first and only then hands a command
// to the registration guard. Commands for one timer execute in FIFO order on
// a background queue; commands for different timers run concurrently.
// Command results never touch records: the authority's snapshots, delivered
// through the guard, are the only path by which external truth flows back in.
package timers
