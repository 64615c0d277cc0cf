package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	fetchTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "urlcache",
			Name:      "fetches_total",
			Help:      "Total number of refresh attempts against the origin",
		},
		[]string{"outcome"},
	)

	cacheHits = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "urlcache",
			Name:      "cache_hits_total",
			Help:      "Requests served from a fresh local entry without network access",
		},
	)

	cacheMisses = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "urlcache",
			Name:      "cache_misses_total",
			Help:      "Requests that required contacting the origin",
		},
	)
)

// Init registers the urlcache collectors with the default registry.
// Call it once from the process entry point if metrics are wanted.
func Init() {
	prometheus.MustRegister(fetchTotal, cacheHits, cacheMisses)
}

// Handler returns an http.Handler exposing the registered metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

func IncCacheHit() {
	cacheHits.Inc()
}

func IncCacheMiss() {
	cacheMisses.Inc()
}

// ObserveFetch records the outcome of one refresh attempt
// (refreshed, not-modified, origin-error, transport-error).
func ObserveFetch(outcome string) {
	fetchTotal.WithLabelValues(outcome).Inc()
}
