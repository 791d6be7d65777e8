// Package metrics exposes the Prometheus counters and histograms the
// kernel's privileged operations report, following the teacher's pattern
// of package-level metric variables registered via promauto (referenced
// from internal/app.Application.startMetricsCollection as
// metrics.DatabaseConnectionsGauge).
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	DatabaseConnectionsGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "kernel_database_connections",
		Help: "Database connection pool state.",
	}, []string{"state"})

	CapabilityChecksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kernel_capability_checks_total",
		Help: "Capability checks by outcome.",
	}, []string{"outcome"})

	CapabilityGrantsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kernel_capability_grants_total",
		Help: "Capabilities granted.",
	})

	CapabilityRevocationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kernel_capability_revocations_total",
		Help: "Capabilities revoked.",
	})

	AuditAppendsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kernel_audit_appends_total",
		Help: "Audit entries appended.",
	})

	TransactionOutcomesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kernel_transaction_outcomes_total",
		Help: "Transactions by terminal outcome.",
	}, []string{"outcome"})

	WorkflowExecutionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kernel_workflow_executions_total",
		Help: "Workflow executions by terminal state.",
	}, []string{"state"})

	WorkflowExecutionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "kernel_workflow_execution_duration_seconds",
		Help:    "Workflow execution wall time.",
		Buckets: prometheus.DefBuckets,
	})

	RateLimitHitsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kernel_rate_limit_hits_total",
		Help: "Requests rejected by the distributed rate limiter, by tier and operation.",
	}, []string{"tier", "operation"})
)
