// Package api hosts the HTTP server, middleware, and REST handlers used to
// submit and poll runs. Notable routes:
//   - POST /v1/audits and /v1/crawls enqueue a run and answer 202.
//   - GET /v1/runs/{id} and /v1/runs/{id}/result poll a run.
//   - GET /healthz / readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
package api
