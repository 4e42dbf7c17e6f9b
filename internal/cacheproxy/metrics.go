package cacheproxy

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	proxyRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mcsr_cache_requests_total",
		Help: "API requests answered by the cache proxy, by cache result",
	}, []string{"result"})

	upstreamDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "mcsr_cache_upstream_duration_seconds",
		Help:    "Latency of upstream fetches, by response status",
		Buckets: prometheus.ExponentialBuckets(0.025, 2, 10), // 25ms to ~13s
	}, []string{"status"})

	cachePurgedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mcsr_cache_purged_entries_total",
		Help: "Expired cache entries removed by the purge loop",
	})
)

// Cache result labels
const (
	resultHit     = "hit"
	resultMiss    = "miss"
	resultRefresh = "refresh"
	resultError   = "upstream_error"
)
