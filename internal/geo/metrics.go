package geo

import "github.com/prometheus/client_golang/prometheus"

var (
	lookupsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "riskguard",
		Subsystem: "geo",
		Name:      "lookups_total",
		Help:      "Enrichment lookups by check and resulting status.",
	}, []string{"check", "status"})

	providerDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "riskguard",
		Subsystem: "geo",
		Name:      "provider_duration_seconds",
		Help:      "Latency of provider calls including retries.",
		Buckets:   []float64{.05, .1, .25, .5, 1, 2, 5, 10},
	}, []string{"provider", "outcome"})

	cacheHits = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "riskguard",
		Subsystem: "geo",
		Name:      "cache_hits_total",
		Help:      "Lookups answered from the local cache.",
	}, []string{"check"})

	classifications = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "riskguard",
		Subsystem: "geo",
		Name:      "city_classifications_total",
		Help:      "City classifications by deciding strategy and verdict.",
	}, []string{"source", "verdict"})
)

func init() {
	prometheus.MustRegister(lookupsTotal, providerDuration, cacheHits, classifications)
}
