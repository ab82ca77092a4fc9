package metrics

import (
	"sync"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	QueryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "scripture_rag_query_duration_seconds",
			Help:    "Related passages lookup duration in seconds",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		},
		[]string{"transport"},
	)

	QueryTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scripture_rag_query_total",
			Help: "Total number of related passages lookups",
		},
		[]string{"status"},
	)

	CacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scripture_rag_cache_hits_total",
			Help: "Total cache hits",
		},
		[]string{"cache_type"},
	)

	CacheMisses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scripture_rag_cache_misses_total",
			Help: "Total cache misses",
		},
		[]string{"cache_type"},
	)

	ResultsBySource = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scripture_rag_results_total",
			Help: "Merged results returned, by the source that produced them",
		},
		[]string{"source"},
	)

	ResultsCount = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "scripture_rag_results_count",
			Help:    "Number of merged results per lookup",
			Buckets: []float64{0, 1, 2, 3, 5, 10, 20, 50},
		},
	)

	BuildDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "scripture_rag_build_duration_seconds",
			Help:    "Offline build duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.01, 4, 10),
		},
		[]string{"kind"},
	)

	EdgesBuilt = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scripture_rag_edges_built_total",
			Help: "Edges produced by offline builds",
		},
		[]string{"kind"},
	)

	TablesLoaded = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "scripture_rag_table_entries",
			Help: "Entries held by the retrieval engine per loaded table",
		},
		[]string{"table"},
	)
)

var registerOnce sync.Once

// Init registers the collectors with the default registry. It is safe to call
// more than once.
func Init() {
	registerOnce.Do(func() {
		prometheus.MustRegister(QueryDuration)
		prometheus.MustRegister(QueryTotal)
		prometheus.MustRegister(CacheHits)
		prometheus.MustRegister(CacheMisses)
		prometheus.MustRegister(ResultsBySource)
		prometheus.MustRegister(ResultsCount)
		prometheus.MustRegister(BuildDuration)
		prometheus.MustRegister(EdgesBuilt)
		prometheus.MustRegister(TablesLoaded)
	})
}

func MetricsHandler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}
