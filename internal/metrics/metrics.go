package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every collector the aggregator exports. Construct one per
// process with the registry the HTTP bridge serves.
type Metrics struct {
	CacheHits      *prometheus.CounterVec
	CacheMisses    *prometheus.CounterVec
	CacheEvictions prometheus.Counter
	FetchDuration  *prometheus.HistogramVec
	FetchFailures  *prometheus.CounterVec
	FetchRetries   prometheus.Counter
}

func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		CacheHits: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "calfeed",
			Name:      "cache_hits_total",
			Help:      "Cache hits by tier.",
		}, []string{"tier"}),
		CacheMisses: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "calfeed",
			Name:      "cache_misses_total",
			Help:      "Cache misses by tier.",
		}, []string{"tier"}),
		CacheEvictions: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "calfeed",
			Name:      "cache_evictions_total",
			Help:      "Memory tier entries evicted by capacity or TTL.",
		}),
		FetchDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "calfeed",
			Name:      "fetch_duration_seconds",
			Help:      "Wall-clock duration of adapter fetches, including retries.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"source_type"}),
		FetchFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "calfeed",
			Name:      "fetch_failures_total",
			Help:      "Adapter fetches that failed after all retry attempts.",
		}, []string{"source_type"}),
		FetchRetries: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "calfeed",
			Name:      "fetch_retries_total",
			Help:      "Individual fetch attempts that were retried.",
		}),
	}
}
