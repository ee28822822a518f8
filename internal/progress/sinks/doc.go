// Package sinks implements concrete progress consumers: structured logging,
// Prometheus collectors, and an in-memory tracker backing the status API.
// Each sink satisfies progress.Sink and is safe for repeated Consume/Close
// cycles.
package sinks
