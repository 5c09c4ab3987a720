// Package metrics provides Prometheus metrics export for the agent.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusExporter exports agent metrics in Prometheus format.
// A nil exporter is valid and drops every observation, so callers
// never need to guard their instrumentation.
type PrometheusExporter struct {
	registry *prometheus.Registry

	turnLatency *prometheus.HistogramVec
	turns       *prometheus.CounterVec
	turnsActive prometheus.Gauge

	nodeVisits *prometheus.CounterVec

	llmTokens *prometheus.CounterVec
	llmCost   *prometheus.CounterVec

	ragChunks   prometheus.Histogram
	ragFallback prometheus.Counter
}

// Config configures the Prometheus exporter.
type Config struct {
	// Registry to use (if nil, creates a new one)
	Registry *prometheus.Registry

	// Buckets for turn latency histograms (in seconds)
	LatencyBuckets []float64
}

// DefaultConfig returns default Prometheus configuration.
func DefaultConfig() Config {
	return Config{
		LatencyBuckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
	}
}

// NewPrometheusExporter creates a new Prometheus metrics exporter.
func NewPrometheusExporter(cfg Config) *PrometheusExporter {
	if len(cfg.LatencyBuckets) == 0 {
		cfg.LatencyBuckets = DefaultConfig().LatencyBuckets
	}

	registry := cfg.Registry
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	e := &PrometheusExporter{registry: registry}

	e.turnLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "atiendo",
			Subsystem: "agent",
			Name:      "turn_latency_seconds",
			Help:      "Whole-turn latency in seconds",
			Buckets:   cfg.LatencyBuckets,
		},
		[]string{"status"},
	)

	e.turns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "atiendo",
			Subsystem: "agent",
			Name:      "turns_total",
			Help:      "Total number of agent turns by terminal status",
		},
		[]string{"status"},
	)

	e.turnsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "atiendo",
			Subsystem: "agent",
			Name:      "turns_active",
			Help:      "Turns currently executing",
		},
	)

	e.nodeVisits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "atiendo",
			Subsystem: "agent",
			Name:      "node_visits_total",
			Help:      "Graph node executions",
		},
		[]string{"node"},
	)

	e.llmTokens = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "atiendo",
			Subsystem: "agent",
			Name:      "llm_tokens_total",
			Help:      "LLM tokens consumed",
		},
		[]string{"model", "operation", "direction"},
	)

	e.llmCost = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "atiendo",
			Subsystem: "agent",
			Name:      "llm_cost_usd_total",
			Help:      "LLM spend in USD",
		},
		[]string{"model", "operation"},
	)

	e.ragChunks = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "atiendo",
			Subsystem: "agent",
			Name:      "rag_chunks_returned",
			Help:      "Validated chunks returned per RAG run",
			Buckets:   []float64{0, 1, 2, 3, 4, 5, 10},
		},
	)

	e.ragFallback = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "atiendo",
			Subsystem: "agent",
			Name:      "rag_fallback_total",
			Help:      "RAG runs that fell back to broad semantic search",
		},
	)

	registry.MustRegister(
		e.turnLatency, e.turns, e.turnsActive,
		e.nodeVisits,
		e.llmTokens, e.llmCost,
		e.ragChunks, e.ragFallback,
	)

	return e
}

// TurnStarted marks a turn as in flight.
func (e *PrometheusExporter) TurnStarted() {
	if e == nil {
		return
	}
	e.turnsActive.Inc()
}

// TurnFinished records a completed turn with its terminal status.
func (e *PrometheusExporter) TurnFinished(status string, duration time.Duration) {
	if e == nil {
		return
	}
	e.turnsActive.Dec()
	e.turns.WithLabelValues(status).Inc()
	e.turnLatency.WithLabelValues(status).Observe(duration.Seconds())
}

// NodeVisited counts one graph node execution.
func (e *PrometheusExporter) NodeVisited(node string) {
	if e == nil {
		return
	}
	e.nodeVisits.WithLabelValues(node).Inc()
}

// LLMCall records tokens and spend of one model call.
func (e *PrometheusExporter) LLMCall(model, operation string, inputTokens, outputTokens int, cost float64) {
	if e == nil {
		return
	}
	e.llmTokens.WithLabelValues(model, operation, "input").Add(float64(inputTokens))
	e.llmTokens.WithLabelValues(model, operation, "output").Add(float64(outputTokens))
	e.llmCost.WithLabelValues(model, operation).Add(cost)
}

// RAGRun records the outcome of one retrieval pipeline run.
func (e *PrometheusExporter) RAGRun(chunksReturned int, fallbackUsed bool) {
	if e == nil {
		return
	}
	e.ragChunks.Observe(float64(chunksReturned))
	if fallbackUsed {
		e.ragFallback.Inc()
	}
}

// Handler returns the scrape endpoint handler.
func (e *PrometheusExporter) Handler() http.Handler {
	if e == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{})
}
