package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kirillkom/doc-curator/internal/core/domain"
)

// PipelineMetrics observes worker runs, individual stages, reconciliation
// batches and guarded dependency calls. Each process exposes its own registry.
type PipelineMetrics struct {
	registry *prometheus.Registry
	service  string

	runTotal       *prometheus.CounterVec
	runDuration    *prometheus.HistogramVec
	runInFlight    prometheus.Gauge
	stageTotal     *prometheus.CounterVec
	stageDuration  *prometheus.HistogramVec
	reconcileRuns  *prometheus.CounterVec
	reconcileDocs  *prometheus.CounterVec
	reconcileTimer *prometheus.HistogramVec
	depCalls       *prometheus.CounterVec
	depAttempts    *prometheus.HistogramVec
	depBreaker     *prometheus.GaugeVec
}

func NewPipelineMetrics(service string) *PipelineMetrics {
	registry := prometheus.NewRegistry()

	runTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "curator",
			Subsystem: "worker",
			Name:      "document_runs_total",
			Help:      "Total worker runs by status.",
		},
		[]string{"service", "status"},
	)
	runDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "curator",
			Subsystem: "worker",
			Name:      "document_run_duration_seconds",
			Help:      "Worker run duration in seconds by status.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300, 600},
		},
		[]string{"service", "status"},
	)
	runInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "curator",
			Subsystem: "worker",
			Name:      "document_runs_in_flight",
			Help:      "Number of in-flight worker runs.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)
	stageTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "curator",
			Subsystem: "pipeline",
			Name:      "stage_total",
			Help:      "Total stage executions by stage and outcome.",
		},
		[]string{"service", "stage", "outcome"},
	)
	stageDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "curator",
			Subsystem: "pipeline",
			Name:      "stage_duration_seconds",
			Help:      "Stage execution duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "stage"},
	)
	reconcileRuns := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "curator",
			Subsystem: "reconcile",
			Name:      "runs_total",
			Help:      "Total reconciliation batches by kind.",
		},
		[]string{"service", "kind"},
	)
	reconcileDocs := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "curator",
			Subsystem: "reconcile",
			Name:      "documents_total",
			Help:      "Documents seen by reconciliation, by kind and result.",
		},
		[]string{"service", "kind", "result"},
	)
	reconcileTimer := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "curator",
			Subsystem: "reconcile",
			Name:      "duration_seconds",
			Help:      "Reconciliation batch duration in seconds.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 900, 1800},
		},
		[]string{"service", "kind"},
	)

	depCalls := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "curator",
			Subsystem: "dependency",
			Name:      "calls_total",
			Help:      "Guarded calls to external dependencies by outcome.",
		},
		[]string{"service", "dependency", "operation", "outcome"},
	)
	depAttempts := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "curator",
			Subsystem: "dependency",
			Name:      "call_attempts",
			Help:      "Attempts spent per guarded call.",
			Buckets:   []float64{1, 2, 3, 5, 8},
		},
		[]string{"service", "dependency", "operation"},
	)
	depBreaker := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "curator",
			Subsystem: "dependency",
			Name:      "breaker_open",
			Help:      "1 while the breaker of a dependency operation is not closed.",
		},
		[]string{"service", "dependency", "operation"},
	)

	registry.MustRegister(
		runTotal, runDuration, runInFlight,
		stageTotal, stageDuration,
		reconcileRuns, reconcileDocs, reconcileTimer,
		depCalls, depAttempts, depBreaker,
	)

	return &PipelineMetrics{
		registry:       registry,
		service:        service,
		runTotal:       runTotal,
		runDuration:    runDuration,
		runInFlight:    runInFlight,
		stageTotal:     stageTotal,
		stageDuration:  stageDuration,
		reconcileRuns:  reconcileRuns,
		reconcileDocs:  reconcileDocs,
		reconcileTimer: reconcileTimer,
		depCalls:       depCalls,
		depAttempts:    depAttempts,
		depBreaker:     depBreaker,
	}
}

func (m *PipelineMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *PipelineMetrics) StartDocument() {
	m.runInFlight.Inc()
}

func (m *PipelineMetrics) FinishDocument(duration time.Duration, err error) {
	m.runInFlight.Dec()

	status := "success"
	if err != nil {
		status = "error"
	}

	m.runTotal.WithLabelValues(m.service, status).Inc()
	m.runDuration.WithLabelValues(m.service, status).Observe(duration.Seconds())
}

func (m *PipelineMetrics) ObserveStage(stage domain.Stage, outcome domain.Outcome, duration time.Duration) {
	m.stageTotal.WithLabelValues(m.service, string(stage), string(outcome)).Inc()
	m.stageDuration.WithLabelValues(m.service, string(stage)).Observe(duration.Seconds())
}

func (m *PipelineMetrics) ObserveReconciliation(kind string, processed, deleted, errors int, duration time.Duration) {
	m.reconcileRuns.WithLabelValues(m.service, kind).Inc()
	m.reconcileDocs.WithLabelValues(m.service, kind, "processed").Add(float64(processed))
	m.reconcileDocs.WithLabelValues(m.service, kind, "deleted").Add(float64(deleted))
	m.reconcileDocs.WithLabelValues(m.service, kind, "error").Add(float64(errors))
	m.reconcileTimer.WithLabelValues(m.service, kind).Observe(duration.Seconds())
}

func (m *PipelineMetrics) ObserveDependencyCall(dependency, operation, outcome string, attempts int) {
	m.depCalls.WithLabelValues(m.service, dependency, operation, outcome).Inc()
	if attempts > 0 {
		m.depAttempts.WithLabelValues(m.service, dependency, operation).Observe(float64(attempts))
	}
}

func (m *PipelineMetrics) ObserveBreakerState(dependency, operation, state string) {
	open := 0.0
	if state != "closed" {
		open = 1
	}
	m.depBreaker.WithLabelValues(m.service, dependency, operation).Set(open)
}
