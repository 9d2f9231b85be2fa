// Package timer persists timer records.
//
// Three stores implement Repository: an embedded BoltDB file, a single JSON
// document on disk and a PostgreSQL table. Save writes any number of records
// in one commit so that a reconciliation pass lands atomically or not at all.
package timer
