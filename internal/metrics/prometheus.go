package metrics

import (
	"sync"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ReportDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "healthsphere_report_duration_seconds",
			Help:    "Report processing duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"outcome"},
	)

	ReportsProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "healthsphere_reports_processed_total",
			Help: "Reports processed by outcome",
		},
		[]string{"outcome"},
	)

	ConfidenceScore = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "healthsphere_confidence_score",
			Help:    "Confidence of generated artifacts",
			Buckets: []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1.0},
		},
		[]string{"path"},
	)

	VerificationIssues = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "healthsphere_verification_issues",
			Help:    "Verifier issues per generated output",
			Buckets: []float64{0, 1, 2, 3, 5, 10},
		},
	)

	RetrievalCandidates = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "healthsphere_retrieval_candidates",
			Help:    "Candidates returned by the hybrid retriever",
			Buckets: []float64{0, 1, 2, 5, 8, 12, 20},
		},
	)

	EmbeddingFallbacks = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "healthsphere_embedding_fallbacks_total",
			Help: "Embedding batches served by the deterministic fallback",
		},
	)

	VectorFallbacks = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "healthsphere_vector_backend_fallbacks_total",
			Help: "Knowledge searches answered in memory after a backend failure",
		},
	)

	GeneratorRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "healthsphere_generator_requests_total",
			Help: "Generator calls by provider and status",
		},
		[]string{"provider", "status"},
	)

	GeneratorLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "healthsphere_generator_latency_seconds",
			Help:    "Generator call latency in seconds",
			Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"provider"},
	)

	ChatQueries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "healthsphere_chat_queries_total",
			Help: "Chat queries by status",
		},
		[]string{"status"},
	)

	DangerFlags = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "healthsphere_danger_flags_total",
			Help: "Lab values found outside their reference range",
		},
	)

	CacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "healthsphere_cache_hits_total",
			Help: "Total cache hits",
		},
		[]string{"cache_type"},
	)

	CacheMisses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "healthsphere_cache_misses_total",
			Help: "Total cache misses",
		},
		[]string{"cache_type"},
	)

	KnowledgeDocuments = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "healthsphere_knowledge_documents",
			Help: "Documents held by the shared knowledge store",
		},
	)
)

var registerOnce sync.Once

// Init registers the collectors with the default registry. Safe to call more than once.
func Init() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			ReportDuration,
			ReportsProcessed,
			ConfidenceScore,
			VerificationIssues,
			RetrievalCandidates,
			EmbeddingFallbacks,
			VectorFallbacks,
			GeneratorRequests,
			GeneratorLatency,
			ChatQueries,
			DangerFlags,
			CacheHits,
			CacheMisses,
			KnowledgeDocuments,
		)
	})
}

func MetricsHandler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}
