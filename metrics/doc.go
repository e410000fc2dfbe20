// Package metrics keeps a bounded in-memory history of completed conversion
// jobs and derives aggregate statistics from it.
//
// History is a fixed-capacity ring buffer: once full, every new record evicts
// the oldest one, so only the most recent Cap() jobs are ever retained.
// Records are never modified or removed individually.
package metrics
