// Package metrics provides the centralized Prometheus metrics registry for
// close-ops. All metrics are defined in their respective packages (closeapi,
// cache, ratelimit, export) to maintain modularity and avoid circular
// dependencies.
//
// This package provides documentation and reference for all available metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Registry is the default Prometheus registry used by close-ops.
// All metrics are automatically registered via promauto in their respective packages.
var Registry = prometheus.DefaultRegisterer

// Metrics Documentation
//
// Rate Limit Metrics (pkg/ratelimit):
//   - closeops_ratelimit_remaining (Gauge): Requests remaining in the current Close rate limit window
//   - closeops_ratelimit_blocks_total (Counter): Requests blocked because the window budget went critical
//   - closeops_ratelimit_throttles_total (Counter): Requests throttled because the window budget ran low
//
// Schema Cache Metrics (pkg/cache):
//   - closeops_schema_cache_hits_total (Counter): Schema cache hits
//   - closeops_schema_cache_misses_total (Counter): Schema cache misses
//   - closeops_schema_cache_errors_total{operation} (Counter): Cache operation errors
//
// Request Metrics (pkg/closeapi):
//   - closeops_requests_total{endpoint, status} (Counter): Total requests by endpoint and HTTP status
//   - closeops_request_duration_seconds{endpoint} (Histogram): Request duration by endpoint
//   - closeops_errors_total{class} (Counter): Errors by class (client, server, rate_limit, network)
//
// Retry Metrics (pkg/closeapi):
//   - closeops_retries_total{error_class} (Counter): Retry attempts by error class
//   - closeops_retry_backoff_seconds{error_class} (Histogram): Backoff duration by error class
//   - closeops_retry_exhausted_total{error_class} (Counter): Requests that exhausted max retries
//
// Batch Metrics (pkg/closeapi):
//   - closeops_batch_requests_total{method, outcome} (Counter): Batch-mutation requests by outcome
//
// Export Metrics (pkg/export):
//   - closeops_export_records_total{format} (Counter): Records written to export files
//
// Scheduler Metrics (cmd/closeops, run command):
//   - closeops_job_runs_total{job, outcome} (Counter): Scheduled job executions by outcome
//
// Example Prometheus Queries:
//
//   # Schema Cache Hit Rate
//   sum(rate(closeops_schema_cache_hits_total[5m])) /
//   (sum(rate(closeops_schema_cache_hits_total[5m])) + sum(rate(closeops_schema_cache_misses_total[5m])))
//
//   # Rate Limit Budget Status
//   closeops_ratelimit_remaining < 40
//
//   # Request Error Rate
//   rate(closeops_errors_total[5m])
//
//   # P95 Request Latency
//   histogram_quantile(0.95, rate(closeops_request_duration_seconds_bucket[5m]))
//
//   # Batch Failure Rate
//   rate(closeops_batch_requests_total{outcome="failure"}[5m]) /
//   rate(closeops_batch_requests_total[5m])
