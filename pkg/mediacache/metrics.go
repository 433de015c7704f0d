package mediacache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Lookups tracks cache lookups by result (fresh, stale, miss).
	Lookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sensboxd_relay_media_cache_lookups_total",
			Help: "Media cache lookups by result",
		},
		[]string{"result"},
	)

	// Revalidations tracks stale entries refreshed by a 304.
	Revalidations = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sensboxd_relay_media_cache_revalidations_total",
			Help: "Stale media entries refreshed by 304 Not Modified",
		},
	)

	// StoredBytes tracks the volume written to Redis.
	StoredBytes = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sensboxd_relay_media_cache_stored_bytes_total",
			Help: "Bytes written to the media cache",
		},
	)

	// Errors tracks failed cache operations.
	Errors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sensboxd_relay_media_cache_errors_total",
			Help: "Media cache operation errors",
		},
		[]string{"operation"},
	)
)
