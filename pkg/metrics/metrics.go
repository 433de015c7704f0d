// Package metrics exposes the Prometheus registry shared by sensboxd.
// All metrics are defined in their respective packages (catalog, collection,
// fetchloop, export, ratelimit, mediacache, relay) to maintain modularity and avoid
// circular dependencies.
//
// This package provides the scrape handler and a reference for all available metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the default Prometheus registry used by sensboxd.
// All metrics are automatically registered via promauto in their respective packages.
var Registry = prometheus.DefaultRegisterer

// Gatherer is the registry read by Handler.
var Gatherer = prometheus.DefaultGatherer

// Handler returns the scrape endpoint for every registered metric.
func Handler() http.Handler {
	return promhttp.HandlerFor(Gatherer, promhttp.HandlerOpts{})
}

// Metrics Documentation
//
// Catalog Metrics (pkg/catalog):
//   - sensboxd_catalog_requests_total{status} (Counter): Page requests by HTTP status
//   - sensboxd_catalog_request_duration_seconds (Histogram): Page request duration
//   - sensboxd_catalog_errors_total{kind} (Counter): Failures by kind (transport, remote_rejected, ...)
//   - sensboxd_catalog_items_dropped_total (Counter): Raw products without universe or title
//
// Store Metrics (pkg/collection):
//   - sensboxd_store_events_total{kind} (Counter): Change notifications emitted
//   - sensboxd_store_handler_failures_total{kind} (Counter): Handlers that returned an error or panicked
//
// Fetch Metrics (pkg/fetchloop):
//   - sensboxd_fetch_pages_total{outcome} (Counter): Pages fetched by outcome
//   - sensboxd_fetch_sessions_total{outcome} (Counter): Sessions by final state
//   - sensboxd_fetch_pauses_total (Counter): Times a session waited for auto-continue
//
// Export Metrics (pkg/export):
//   - sensboxd_export_jobs_total{kind} (Counter): Export files planned by kind
//
// Relay Metrics (pkg/relay, pkg/ratelimit):
//   - sensboxd_relay_requests_total{outcome} (Counter): Relayed requests by outcome
//   - sensboxd_relay_upstream_duration_seconds{host} (Histogram): Upstream round-trip duration
//   - sensboxd_relay_rate_limit_blocks_total (Counter): Requests blocked by the per-client budget
//   - sensboxd_relay_rate_limit_warnings_total (Counter): Requests allowed with less than 20% budget left
//   - sensboxd_relay_rate_limit_errors_total (Counter): Redis errors while counting (requests fail open)
//
// Media Cache Metrics (pkg/mediacache):
//   - sensboxd_relay_media_cache_lookups_total{result} (Counter): Lookups by result (fresh, stale, miss)
//   - sensboxd_relay_media_cache_revalidations_total (Counter): Stale entries refreshed by 304
//   - sensboxd_relay_media_cache_stored_bytes_total (Counter): Bytes written to Redis
//   - sensboxd_relay_media_cache_errors_total{operation} (Counter): Failed get, set and delete calls
//
// Example Prometheus Queries:
//
//   # Catalog error rate
//   sum(rate(sensboxd_catalog_errors_total[5m])) by (kind)
//
//   # P95 page latency
//   histogram_quantile(0.95, rate(sensboxd_catalog_request_duration_seconds_bucket[5m]))
//
//   # Relay rejections
//   rate(sensboxd_relay_requests_total{outcome!="ok"}[5m])
//
//   # Media cache hit ratio
//   sum(rate(sensboxd_relay_media_cache_lookups_total{result="fresh"}[5m]))
//     / sum(rate(sensboxd_relay_media_cache_lookups_total[5m]))
