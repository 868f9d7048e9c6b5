// Package metrics exposes the Prometheus registry used by reposcrape.
// All metrics are defined in their respective packages (client, cache,
// ratelimit, scheduler, retrieval, archive) via promauto and register
// themselves with the default registerer.
//
// This package provides documentation for all available metrics and the ops
// server that serves them.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Registry is the default Prometheus registry used by reposcrape.
var Registry = prometheus.DefaultRegisterer

// Gatherer is the registry the ops server exposes.
var Gatherer = prometheus.DefaultGatherer

// Metrics Documentation
//
// Request Metrics (pkg/client):
//   - reposcrape_requests_total{status} (Counter): Search requests by HTTP status
//   - reposcrape_request_duration_seconds (Histogram): Search request duration
//   - reposcrape_errors_total{class} (Counter): Errors by class (client, server, rate_limit, network, malformed)
//   - reposcrape_incomplete_results_total (Counter): Responses flagged incomplete_results
//
// Retry Metrics (pkg/client):
//   - reposcrape_retries_total{error_class} (Counter): Retries by error class
//   - reposcrape_retry_cooldown_seconds{error_class} (Histogram): Cooldown before a retry
//   - reposcrape_retry_exhausted_total{error_class} (Counter): Batches that exhausted max attempts
//
// Rate Limit Metrics (pkg/ratelimit):
//   - reposcrape_rate_limit_remaining{credential} (Gauge): Remaining quota per credential fingerprint
//   - reposcrape_rate_limit_blocks_total (Counter): Requests held back by an exhausted credential
//
// Cache Metrics (pkg/cache):
//   - reposcrape_cache_hits_total, reposcrape_cache_misses_total, reposcrape_cache_stale_total (Counter)
//   - reposcrape_cache_size_bytes (Gauge): Bytes stored by the last write
//   - reposcrape_304_responses_total (Counter): Revalidated responses
//   - reposcrape_cache_errors_total{operation} (Counter): Cache operation errors
//
// Scheduler Metrics (pkg/scheduler):
//   - reposcrape_scheduler_queue_depth{pool} (Gauge): Tasks waiting for a worker
//   - reposcrape_scheduler_tasks_total{pool, outcome} (Counter): Finished tasks by outcome
//
// Pipeline Metrics (pkg/retrieval, pkg/archive):
//   - reposcrape_units_total{outcome} (Counter): Units committed, skipped, failed, cancelled
//   - reposcrape_batches_total (Counter): Batches fetched
//   - reposcrape_records_written_total, reposcrape_records_dropped_total (Counter)
//   - reposcrape_archives_total{outcome} (Counter): Archives by match, miss, failed
//
// Example Prometheus Queries:
//
//   # Retry pressure
//   sum by (error_class) (rate(reposcrape_retries_total[5m]))
//
//   # Unit throughput
//   rate(reposcrape_units_total{outcome="committed"}[5m])
//
//   # Cache Hit Rate
//   sum(rate(reposcrape_cache_hits_total[5m])) /
//   (sum(rate(reposcrape_cache_hits_total[5m])) + sum(rate(reposcrape_cache_misses_total[5m])))
//
//   # P95 Request Latency
//   histogram_quantile(0.95, rate(reposcrape_request_duration_seconds_bucket[5m]))
