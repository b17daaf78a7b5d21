package metrics

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ExperimentsCreated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "model_bridge_experiments_created_total",
			Help: "Total experiments created",
		},
		[]string{"test_type"},
	)

	ExperimentTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "model_bridge_experiment_transitions_total",
			Help: "Experiment lifecycle transitions",
		},
		[]string{"to"},
	)

	AssignmentsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "model_bridge_assignments_total",
			Help: "Assignment requests by outcome",
		},
		[]string{"status"},
	)

	ObservationsRecorded = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "model_bridge_observations_recorded_total",
			Help: "Observations recorded by success flag",
		},
		[]string{"success"},
	)

	AnalysisDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "model_bridge_analysis_duration_seconds",
			Help:    "Time spent loading observations and analyzing an experiment",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		},
	)

	AnalysisObservations = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "model_bridge_analysis_observations",
			Help:    "Number of observations per analysis",
			Buckets: []float64{0, 10, 100, 1000, 10000, 100000},
		},
	)

	ExperimentsExpired = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "model_bridge_experiments_expired_total",
			Help: "Experiments completed by the expiry sweeper",
		},
	)

	VariantExecutionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "model_bridge_variant_execution_duration_seconds",
			Help:    "LLM execution latency per model",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"model"},
	)

	LLMTokensUsed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "model_bridge_llm_tokens_used",
			Help: "Total LLM tokens used",
		},
		[]string{"model", "type"},
	)

	LLMCost = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "model_bridge_llm_cost_usd",
			Help: "Estimated LLM API cost in USD",
		},
		[]string{"model"},
	)

	CacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "model_bridge_cache_hits_total",
			Help: "Total cache hits",
		},
		[]string{"cache_type"},
	)

	CacheMisses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "model_bridge_cache_misses_total",
			Help: "Total cache misses",
		},
		[]string{"cache_type"},
	)

	CircuitBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "model_bridge_circuit_breaker_state",
			Help: "Circuit breaker state (0 closed, 1 half-open, 2 open)",
		},
		[]string{"name"},
	)
)

func Init() {
	prometheus.MustRegister(ExperimentsCreated)
	prometheus.MustRegister(ExperimentTransitions)
	prometheus.MustRegister(AssignmentsTotal)
	prometheus.MustRegister(ObservationsRecorded)
	prometheus.MustRegister(AnalysisDuration)
	prometheus.MustRegister(AnalysisObservations)
	prometheus.MustRegister(ExperimentsExpired)
	prometheus.MustRegister(VariantExecutionDuration)
	prometheus.MustRegister(LLMTokensUsed)
	prometheus.MustRegister(LLMCost)
	prometheus.MustRegister(CacheHits)
	prometheus.MustRegister(CacheMisses)
	prometheus.MustRegister(CircuitBreakerState)
}

func MetricsHandler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}
