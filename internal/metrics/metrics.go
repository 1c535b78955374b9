// Package metrics holds Prometheus metrics for the recommendation pipeline.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Pipeline Prometheus metrics.
var (
	RecommendDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "pairwise",
			Name:      "recommend_duration_seconds",
			Help:      "End-to-end recommendation pipeline duration in seconds",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
	)

	ComplementCacheTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pairwise",
			Name:      "complement_cache_total",
			Help:      "Complement cache hits and misses",
		},
		[]string{"result"}, // "hit" / "miss"
	)

	RerankStrategyTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pairwise",
			Name:      "rerank_strategy_total",
			Help:      "Rerank invocations by strategy",
		},
		[]string{"strategy"}, // "primary" / "cosine_fallback"
	)

	EmbeddingRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pairwise",
			Name:      "embedding_requests_total",
			Help:      "Total number of embedding requests",
		},
		[]string{"model", "status"},
	)

	EmbeddingRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "pairwise",
			Name:      "embedding_request_duration_seconds",
			Help:      "Embedding request duration in seconds",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"model"},
	)

	ChatRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pairwise",
			Name:      "chat_requests_total",
			Help:      "Total number of chat completion requests",
		},
		[]string{"model", "status"},
	)

	QueryNormalizationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pairwise",
			Name:      "query_normalizations_total",
			Help:      "Query normalization outcomes",
		},
		[]string{"outcome"}, // "normalized" / "unchanged" / "failed"
	)
)

// RegisterPipelineMetrics registers pipeline metrics explicitly (no init()).
func RegisterPipelineMetrics() {
	prometheus.MustRegister(
		RecommendDuration,
		ComplementCacheTotal,
		RerankStrategyTotal,
		EmbeddingRequestsTotal,
		EmbeddingRequestDuration,
		ChatRequestsTotal,
		QueryNormalizationsTotal,
	)
}
