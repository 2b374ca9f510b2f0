/*
Package metrics exposes the proxy's operational surface: Prometheus
collectors for discovery, sessions, bring-ups and forwarded bytes, plus a
small HTTP server with /metrics and a JSON /health endpoint fed by
component reports.

This observes the proxy process itself, not the challenges behind it.
*/
package metrics
