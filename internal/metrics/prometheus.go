package metrics

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	QueryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "modalbot_query_duration_seconds",
			Help:    "Query processing duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"status"},
	)

	StageDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "modalbot_pipeline_stage_duration_seconds",
			Help:    "Per-stage pipeline duration in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
		},
		[]string{"stage"},
	)

	QueryTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "modalbot_query_total",
			Help: "Total number of queries processed",
		},
		[]string{"status"},
	)

	RetrievalResultsCount = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "modalbot_retrieval_results_count",
			Help:    "Number of retrieval results per modality per query",
			Buckets: []float64{0, 1, 2, 5, 10, 20, 50},
		},
		[]string{"modality"},
	)

	FieldErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "modalbot_field_errors_total",
			Help: "Total per-field pipeline errors",
		},
		[]string{"field"},
	)

	ToolExecutions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "modalbot_tool_executions_total",
			Help: "Total tool executions",
		},
		[]string{"tool"},
	)

	LLMTokensUsed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "modalbot_llm_tokens_used",
			Help: "Total LLM tokens used",
		},
		[]string{"model", "type"},
	)

	CacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "modalbot_cache_hits_total",
			Help: "Total cache hits",
		},
		[]string{"cache_type"},
	)

	CacheMisses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "modalbot_cache_misses_total",
			Help: "Total cache misses",
		},
		[]string{"cache_type"},
	)

	WebsocketConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "modalbot_websocket_connections",
			Help: "Currently open websocket connections",
		},
	)
)

func Init() {
	prometheus.MustRegister(QueryDuration)
	prometheus.MustRegister(StageDuration)
	prometheus.MustRegister(QueryTotal)
	prometheus.MustRegister(RetrievalResultsCount)
	prometheus.MustRegister(FieldErrorsTotal)
	prometheus.MustRegister(ToolExecutions)
	prometheus.MustRegister(LLMTokensUsed)
	prometheus.MustRegister(CacheHits)
	prometheus.MustRegister(CacheMisses)
	prometheus.MustRegister(WebsocketConnections)
}

func MetricsHandler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}
