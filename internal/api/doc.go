// Package api hosts the operator HTTP server for a running crawl. Routes:
//   - GET /healthz and /readyz for probes (readyz is 503 after termination).
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/frontier/{report,stats,queues,items} for reporting.
//   - DELETE /v1/frontier/items to drop pending items by regexp.
//   - POST /v1/frontier/{seeds,reconsider,terminate} for control.
package api
