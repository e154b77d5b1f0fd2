package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	QueriesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "parcels_queries_total",
		Help: "Total viewport queries by dataset",
	}, []string{"dataset"})
	QueryCacheHitsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "parcels_query_cache_hits_total",
		Help: "Viewport queries answered from the query cache",
	}, []string{"dataset"})
	QueryCacheMissesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "parcels_query_cache_misses_total",
		Help: "Viewport queries computed from the index",
	}, []string{"dataset"})
	EmptyQueriesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "parcels_empty_queries_total",
		Help: "Viewport queries rejected as invalid or run on an empty dataset",
	}, []string{"dataset"})
	QueryDurationMs = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "parcels_query_duration_ms",
		Help:    "Uncached viewport query duration in milliseconds",
		Buckets: []float64{0.5, 1, 5, 10, 20, 50, 100, 200, 500, 1000},
	}, []string{"dataset"})
	MatchedParcels = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "parcels_matched",
		Help:    "Parcels intersecting the viewport before sampling",
		Buckets: prometheus.ExponentialBuckets(1, 4, 10),
	}, []string{"dataset"})
	DatasetParcels = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "parcels_dataset_size",
		Help: "Parcels loaded per dataset",
	}, []string{"dataset"})
	HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "parcels_http_requests_total",
		Help: "HTTP requests by route pattern and status code",
	}, []string{"route", "code"})
)

func init() {
	prometheus.MustRegister(QueriesTotal)
	prometheus.MustRegister(QueryCacheHitsTotal)
	prometheus.MustRegister(QueryCacheMissesTotal)
	prometheus.MustRegister(EmptyQueriesTotal)
	prometheus.MustRegister(QueryDurationMs)
	prometheus.MustRegister(MatchedParcels)
	prometheus.MustRegister(DatasetParcels)
	prometheus.MustRegister(HTTPRequestsTotal)
}

// Handler exposes the registered metrics for scraping.
func Handler() http.Handler { return promhttp.Handler() }
