package services

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// authzDecisionsTotal counts gate answers by identity kind and outcome.
	authzDecisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "authz_decisions_total",
			Help: "Total number of authorization decisions",
		},
		[]string{"identity", "decision"}, // identity: "user", "superuser", "guest"
	)

	// auditWriteFailuresTotal counts audit entries that were lost.
	auditWriteFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "audit_write_failures_total",
			Help: "Total number of audit entries that could not be written",
		},
	)

	loginAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "login_attempts_total",
			Help: "Total number of login attempts",
		},
		[]string{"outcome"},
	)

	catalogReconciliationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catalog_reconciliations_total",
			Help: "Total number of policy catalog reconciliation runs",
		},
		[]string{"outcome"},
	)
)
