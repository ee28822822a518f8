// Package progress carries informational run events from the pipeline to
// observers. A Hub batches events on a background goroutine and fans them out
// to pluggable sinks such as structured logs, Prometheus collectors, or the
// status tracker served by the API. Emitting never blocks the pipeline.
package progress
