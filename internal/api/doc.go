// Package api hosts the optional status server that runs alongside a scrape.
// Routes:
//   - GET /healthz and /readyz for probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/progress and /v1/progress/{run_id} for live runs held in memory.
//   - GET /v1/runs and /v1/runs/{run_id} for persisted run history, when a
//     history store is configured.
package api
