// Package metrics exposes engine activity as Prometheus collectors.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fitness-challenge/medal-engine/internal/domain/shared"
	"github.com/fitness-challenge/medal-engine/pkg/circuitbreaker"
)

const namespace = "medal_engine"

// Metrics implements command.ReconcileMetrics and messaging.Observer.
type Metrics struct {
	registry *prometheus.Registry

	reconciles      *prometheus.CounterVec
	reconcileTime   *prometheus.HistogramVec
	awards          *prometheus.CounterVec
	duplicates      *prometheus.CounterVec
	conflicts       prometheus.Counter
	eventsPublished *prometheus.CounterVec
	handlerTime     *prometheus.HistogramVec
	handlerErrors   *prometheus.CounterVec
	breakerState    *prometheus.GaugeVec
	jobRuns         *prometheus.CounterVec
}

// New creates the collectors on a private registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		reconciles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconciles_total",
			Help:      "Reconciliation runs by final status.",
		}, []string{"status"}),
		reconcileTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "reconcile_duration_seconds",
			Help:      "Wall time of reconciliation runs, retries included.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"status"}),
		awards: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "awards_appended_total",
			Help:      "Ledger rows appended by kind and outcome.",
		}, []string{"kind", "outcome"}),
		duplicates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "awards_duplicate_total",
			Help:      "Planned rows the ledger already held.",
		}, []string{"kind"}),
		conflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconcile_conflicts_total",
			Help:      "Batches replayed after a serialization conflict.",
		}),
		eventsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_published_total",
			Help:      "Events published on the bus.",
		}, []string{"type"}),
		handlerTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "event_handler_duration_seconds",
			Help:      "Event handler latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"type"}),
		handlerErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "event_handler_errors_total",
			Help:      "Event handler failures.",
		}, []string{"type"}),
		breakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "circuit_breaker_state",
			Help:      "0 closed, 1 open, 2 half-open.",
		}, []string{"name"}),
		jobRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scheduler_job_runs_total",
			Help:      "Scheduled job runs by job and status.",
		}, []string{"job", "status"}),
	}

	m.registry.MustRegister(
		m.reconciles, m.reconcileTime, m.awards, m.duplicates, m.conflicts,
		m.eventsPublished, m.handlerTime, m.handlerErrors, m.breakerState, m.jobRuns,
		collectors.NewGoCollector(),
	)
	return m
}

// Registry returns the registry the collectors live on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ══════════════════════════════════════════════════════════════════════════════
// RECONCILIATION
// ══════════════════════════════════════════════════════════════════════════════

func (m *Metrics) ReconcileFinished(status string, d time.Duration) {
	m.reconciles.WithLabelValues(status).Inc()
	m.reconcileTime.WithLabelValues(status).Observe(d.Seconds())
}

func (m *Metrics) AwardAppended(kind string, outcome shared.AwardOutcome) {
	m.awards.WithLabelValues(kind, string(outcome)).Inc()
}

func (m *Metrics) DuplicateSkipped(kind string) {
	m.duplicates.WithLabelValues(kind).Inc()
}

func (m *Metrics) ConflictRetried() {
	m.conflicts.Inc()
}

// ══════════════════════════════════════════════════════════════════════════════
// EVENT BUS
// ══════════════════════════════════════════════════════════════════════════════

func (m *Metrics) EventPublished(eventType string) {
	m.eventsPublished.WithLabelValues(eventType).Inc()
}

func (m *Metrics) HandlerFinished(eventType string, d time.Duration, err error) {
	m.handlerTime.WithLabelValues(eventType).Observe(d.Seconds())
	if err != nil {
		m.handlerErrors.WithLabelValues(eventType).Inc()
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// SCHEDULER & BREAKER
// ══════════════════════════════════════════════════════════════════════════════

// JobFinished counts one scheduled job run.
func (m *Metrics) JobFinished(job string, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.jobRuns.WithLabelValues(job, status).Inc()
}

// BreakerStateChanged matches circuitbreaker.WithOnStateChange.
func (m *Metrics) BreakerStateChanged(name string, _, to circuitbreaker.State) {
	m.breakerState.WithLabelValues(name).Set(float64(to))
}
