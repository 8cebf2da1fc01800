// Package observability bundles the operational concerns of the API
// server: structured JSON logging, Prometheus metrics, OpenTelemetry
// tracing, health probes, and graceful shutdown.
package observability
