// Package api hosts the HTTP server, middleware, and REST handlers that stand
// in for the browser controls. Notable routes:
//   - GET /healthz / readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - POST|GET|DELETE /v1/session to load, inspect, and reset the session.
//   - POST /v1/session/browse and /v1/session/annotate to switch tool groups.
//   - PUT /v1/session/annotations to replace the annotation layer (XFDF).
//   - POST /v1/session/export to assemble a PDF and receive a download handle.
//   - GET /v1/downloads/{handle} to fetch the PDF until the handle is released.
package api
