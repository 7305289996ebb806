// Package observability provides an OpenTelemetry metrics extension for
// steadyq. The MetricsExtension implements lifecycle hooks to record
// system-wide counters for message enqueue, completion, retry, failure,
// dead letter, and rate limit denial events.
//
// For per-execution latency histograms and tracing, see the middleware
// package: middleware.Metrics() and middleware.Tracing().
package observability
