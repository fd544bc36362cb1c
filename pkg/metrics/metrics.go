package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	RuleEvaluationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rules_evaluations_total",
			Help: "Total number of live rule-set evaluations (count)",
		},
		[]string{"workspace_id"},
	)

	EvaluationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "rules_evaluation_duration_us",
			Help:    "Live rule-set evaluation duration in microseconds",
			Buckets: []float64{10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		},
	)

	ActiveRules = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "rules_active",
			Help: "Number of enabled rules per workspace (count)",
		},
		[]string{"workspace_id"},
	)

	BackfillTasksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "backfill_tasks_total",
			Help: "Total number of backfill tasks reaching a terminal state (count)",
		},
		[]string{"status"},
	)

	BackfillChunksProcessedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "backfill_chunks_processed_total",
			Help: "Total number of date chunks fully processed (count)",
		},
	)

	MutationsSubmittedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "backfill_mutations_submitted_total",
			Help: "Total number of bulk mutations submitted to the store (count)",
		},
		[]string{"table"},
	)

	MutationPollDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "backfill_mutation_poll_duration_ms",
			Help:    "Wall time from mutation submission to completion in milliseconds",
			Buckets: []float64{100, 500, 1000, 5000, 15000, 60000, 300000, 600000},
		},
	)

	AdmissionWaitDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "backfill_admission_wait_duration_ms",
			Help:    "Time spent waiting for an admission slot in milliseconds",
			Buckets: []float64{1, 10, 50, 100, 500, 1000, 5000, 15000, 30000},
		},
	)

	AdmissionRejectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "backfill_admission_rejections_total",
			Help: "Admission slot requests rejected, by reason (count)",
		},
		[]string{"reason"},
	)

	StoreInFlightMutations = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "store_in_flight_mutations",
			Help: "Last observed global in-flight mutation count in the store",
		},
	)

	RetryAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "retry_attempts_total",
			Help: "Total retry attempts by component (count)",
		},
		[]string{"component", "operation"},
	)

	DLQMessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dlq_messages_total",
			Help: "Messages routed to the dead-letter queue (count)",
		},
		[]string{"topic", "reason"},
	)

	CircuitBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CircuitBreakerRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_requests_total",
			Help: "Total requests through circuit breakers (count)",
		},
		[]string{"name", "state"},
	)

	CircuitBreakerFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_failures_total",
			Help: "Total failures seen by circuit breakers (count)",
		},
		[]string{"name"},
	)
)

func ObserveEvaluationDuration(d time.Duration) {
	EvaluationDuration.Observe(float64(d.Microseconds()))
}

func SetActiveRules(workspaceID string, count int) {
	ActiveRules.WithLabelValues(workspaceID).Set(float64(count))
}

func ObserveMutationPollDuration(d time.Duration) {
	MutationPollDuration.Observe(float64(d.Milliseconds()))
}

func ObserveAdmissionWait(d time.Duration) {
	AdmissionWaitDuration.Observe(float64(d.Milliseconds()))
}

func RegisterRulesMetrics() {
	prometheus.MustRegister(RuleEvaluationsTotal)
	prometheus.MustRegister(EvaluationDuration)
	prometheus.MustRegister(ActiveRules)
}

func RegisterBackfillMetrics() {
	prometheus.MustRegister(BackfillTasksTotal)
	prometheus.MustRegister(BackfillChunksProcessedTotal)
	prometheus.MustRegister(MutationsSubmittedTotal)
	prometheus.MustRegister(MutationPollDuration)
	prometheus.MustRegister(AdmissionWaitDuration)
	prometheus.MustRegister(AdmissionRejectionsTotal)
	prometheus.MustRegister(StoreInFlightMutations)
}

func RegisterBrokerMetrics() {
	prometheus.MustRegister(RetryAttemptsTotal)
	prometheus.MustRegister(DLQMessagesTotal)
}

func RegisterCircuitBreakerMetrics() {
	prometheus.MustRegister(CircuitBreakerState)
	prometheus.MustRegister(CircuitBreakerRequests)
	prometheus.MustRegister(CircuitBreakerFailures)
}
