// Package metrics declares the engine's Prometheus collectors. They are
// registered on the default registry and served by the HTTP layer at /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcome labels for OperationsTotal.
const (
	OutcomeOK         = "ok"
	OutcomeRejected   = "rejected"
	OutcomeContention = "contention"
	OutcomeError      = "error"
)

// ─── Coordinator ────────────────────────────────────────────────────────────

// OperationsTotal counts coordinator operations by outcome.
var OperationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "housecup",
	Subsystem: "coordinator",
	Name:      "operations_total",
	Help:      "Total engine operations by operation and outcome.",
}, []string{"operation", "outcome"})

// ConflictsTotal counts transaction attempts that lost an optimistic race.
var ConflictsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "housecup",
	Subsystem: "coordinator",
	Name:      "conflicts_total",
	Help:      "Total transaction attempts aborted by a concurrent commit.",
}, []string{"operation"})

// OperationDuration tracks end-to-end operation latency including retries.
var OperationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: "housecup",
	Subsystem: "coordinator",
	Name:      "operation_duration_seconds",
	Help:      "Engine operation latency in seconds, retries included.",
	Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
}, []string{"operation"})

// ─── Ledger audit ───────────────────────────────────────────────────────────

// LedgerDrift is the number of counters that disagreed with the ledger at
// the last audit.
var LedgerDrift = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "housecup",
	Subsystem: "ledger",
	Name:      "drift_counters",
	Help:      "Counters that disagreed with the ledger at the last audit.",
})

// AuditRuns counts ledger audits by result.
var AuditRuns = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "housecup",
	Subsystem: "ledger",
	Name:      "audit_runs_total",
	Help:      "Total ledger audits by result (clean, drift, error).",
}, []string{"result"})

// ─── Subscriptions ──────────────────────────────────────────────────────────

// ActiveSubscriptions tracks open subscriptions.
var ActiveSubscriptions = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "housecup",
	Subsystem: "subscriptions",
	Name:      "active",
	Help:      "Number of open subscriptions.",
})

// DroppedUpdates counts backlog values replaced by a newer value of the same
// topic before a slow subscriber read them.
var DroppedUpdates = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "housecup",
	Subsystem: "subscriptions",
	Name:      "dropped_updates_total",
	Help:      "Total superseded updates skipped for slow subscribers.",
})

// ─── Circuit breaker ────────────────────────────────────────────────────────

// CircuitBreakerState tracks circuit breaker states.
var CircuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: "housecup",
	Subsystem: "circuit_breaker",
	Name:      "state",
	Help:      "Current circuit breaker state (0=closed, 1=open, 2=half-open).",
}, []string{"name"})

// ─── Scheduler ──────────────────────────────────────────────────────────────

// JobRuns counts scheduled job executions by job and result.
var JobRuns = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "housecup",
	Subsystem: "scheduler",
	Name:      "job_runs_total",
	Help:      "Total scheduled job runs by job and result.",
}, []string{"job", "result"})

// ─── Event bus ──────────────────────────────────────────────────────────────

// EventsPublished counts events handed to the bus by type.
var EventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "housecup",
	Subsystem: "events",
	Name:      "published_total",
	Help:      "Total events published by type.",
}, []string{"event_type"})

// EventHandlerErrors counts failed or panicking event handlers by type.
var EventHandlerErrors = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "housecup",
	Subsystem: "events",
	Name:      "handler_errors_total",
	Help:      "Total event handler failures by event type.",
}, []string{"event_type"})

// RemoteEvents counts events received from other instances over Redis.
var RemoteEvents = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "housecup",
	Subsystem: "events",
	Name:      "remote_received_total",
	Help:      "Total events received from other instances by result.",
}, []string{"result"})

// ─── HTTP ───────────────────────────────────────────────────────────────────

// HTTPRequests counts served requests by route pattern and status code.
var HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "housecup",
	Subsystem: "http",
	Name:      "requests_total",
	Help:      "Total HTTP requests by method, route and status.",
}, []string{"method", "route", "status"})

// HTTPDuration observes request latency by route pattern.
var HTTPDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: "housecup",
	Subsystem: "http",
	Name:      "request_duration_seconds",
	Help:      "HTTP request latency by method and route.",
	Buckets:   prometheus.DefBuckets,
}, []string{"method", "route"})
