package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CacheHits tracks fresh cache hits by layer (redis)
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reposcrape_cache_hits_total",
			Help: "Total number of search response cache hits",
		},
		[]string{"layer"},
	)

	// CacheMisses tracks cache misses
	CacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "reposcrape_cache_misses_total",
			Help: "Total number of search response cache misses",
		},
	)

	// CacheStale tracks entries found past their freshness deadline
	CacheStale = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "reposcrape_cache_stale_total",
			Help: "Total number of stale cache entries returned for revalidation",
		},
	)

	// CacheSize tracks bytes written to the cache by layer
	CacheSize = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "reposcrape_cache_size_bytes",
			Help: "Bytes written to the search response cache",
		},
		[]string{"layer"},
	)

	// NotModifiedResponses tracks 304 answers to conditional requests
	NotModifiedResponses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "reposcrape_304_responses_total",
			Help: "Total number of 304 Not Modified responses",
		},
	)

	// CacheErrors tracks cache operation errors
	CacheErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reposcrape_cache_errors_total",
			Help: "Total number of cache operation errors",
		},
		[]string{"operation"}, // "get", "set", "delete"
	)
)
