// Package observability provides an OpenTelemetry metrics extension for
// popgate. The MetricsExtension implements lifecycle hooks to record
// system-wide counters for job creation, attachment, completion, failure,
// and expiry, plus the number of live jobs.
//
// For per-run tracing and metrics, see the middleware package:
// middleware.Tracing() and middleware.Metrics().
package observability
