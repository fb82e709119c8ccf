package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Query metrics
	QueriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coursequery_queries_total",
			Help: "Total number of queries answered, by intent and confidence",
		},
		[]string{"intent", "confidence"},
	)

	QueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "coursequery_query_duration_seconds",
			Help:    "End-to-end query latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"intent"},
	)

	// Retrieval pipeline metrics
	RetrievalStageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "coursequery_retrieval_stage_duration_seconds",
			Help:    "Per-stage retrieval latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"stage"},
	)

	EmbedCacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "coursequery_embed_cache_hits_total",
			Help: "Total number of embedding cache hits",
		},
	)

	EmbedCacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "coursequery_embed_cache_misses_total",
			Help: "Total number of embedding cache misses",
		},
	)

	RetrievalCacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "coursequery_retrieval_cache_hits_total",
			Help: "Total number of retrieval cache hits",
		},
	)

	RetrievalCacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "coursequery_retrieval_cache_misses_total",
			Help: "Total number of retrieval cache misses",
		},
	)

	// Vector store metrics
	VectorSearches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coursequery_vector_search_total",
			Help: "Total number of vector store calls",
		},
		[]string{"operation", "status"},
	)

	VectorSearchLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "coursequery_vector_search_latency_seconds",
			Help:    "Vector store call latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	// Embedding metrics
	EmbeddingRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coursequery_embedding_requests_total",
			Help: "Total number of embedding requests",
		},
		[]string{"model", "status"},
	)

	EmbeddingLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "coursequery_embedding_latency_seconds",
			Help:    "Embedding generation latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"model"},
	)

	// Lexical index metrics
	LexicalSearches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coursequery_lexical_search_total",
			Help: "Total number of lexical index searches",
		},
		[]string{"status"},
	)

	// Generative provider metrics
	GenerationRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coursequery_generation_requests_total",
			Help: "Total number of generative provider calls",
		},
		[]string{"provider", "status"},
	)

	GenerationLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "coursequery_generation_latency_seconds",
			Help:    "Generative provider latency in seconds",
			Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 180},
		},
		[]string{"provider"},
	)

	// Verifier metrics
	VerifierFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coursequery_verifier_failures_total",
			Help: "Total number of answers rejected by the verifier",
		},
		[]string{"check"},
	)

	// Session metrics
	SessionsCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "coursequery_sessions_created_total",
			Help: "Total number of sessions created",
		},
	)

	SessionsExpired = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "coursequery_sessions_expired_total",
			Help: "Total number of sessions dropped on expiry",
		},
	)

	// Gateway metrics
	GatewayRewrites = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "coursequery_gateway_rewrites_total",
			Help: "Total number of follow-up queries rewritten",
		},
	)

	GatewayStateUpdates = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "coursequery_gateway_state_updates_total",
			Help: "Total number of session state refreshes from response sources",
		},
	)

	GatewayPayloadLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coursequery_gateway_payload_lookups_total",
			Help: "Total number of point payload lookups, by path",
		},
		[]string{"path", "status"},
	)

	PayloadCacheSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "coursequery_gateway_payload_cache_size",
			Help: "Current number of entries in the gateway payload cache",
		},
	)
)

// RecordQuery records metrics for a completed query.
func RecordQuery(intent, confidence string, durationSeconds float64) {
	QueriesTotal.WithLabelValues(intent, confidence).Inc()
	QueryDuration.WithLabelValues(intent).Observe(durationSeconds)
}

// RecordVectorSearch records metrics for a vector store call.
func RecordVectorSearch(operation, status string, durationSeconds float64) {
	VectorSearches.WithLabelValues(operation, status).Inc()
	if durationSeconds > 0 {
		VectorSearchLatency.WithLabelValues(operation).Observe(durationSeconds)
	}
}

// RecordEmbedding records metrics for an embedding call.
func RecordEmbedding(model, status string, durationSeconds float64) {
	EmbeddingRequests.WithLabelValues(model, status).Inc()
	if durationSeconds > 0 {
		EmbeddingLatency.WithLabelValues(model).Observe(durationSeconds)
	}
}

// RecordGeneration records metrics for a generative provider call.
func RecordGeneration(provider, status string, durationSeconds float64) {
	GenerationRequests.WithLabelValues(provider, status).Inc()
	if durationSeconds > 0 {
		GenerationLatency.WithLabelValues(provider).Observe(durationSeconds)
	}
}

// RecordStage records the latency of a single retrieval pipeline stage.
func RecordStage(stage string, durationSeconds float64) {
	RetrievalStageDuration.WithLabelValues(stage).Observe(durationSeconds)
}
