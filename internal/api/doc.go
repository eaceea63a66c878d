// Package api hosts the HTTP server, middleware, and REST handlers for
// operating conversion runs. Notable routes:
//   - GET /healthz / readyz for liveness and readiness checks.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/runs to start a run and POST /v1/runs/{run_id}/stop to stop it.
//   - GET /v1/runs/current for the live status of the most recent run.
//   - GET /v1/runs and /v1/runs/{run_id} for recorded run history.
package api
