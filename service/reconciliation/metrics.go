/*
 * @module service/reconciliation/metrics
 * @description Prometheus counters and histograms for validation run activity
 * @architecture Layered architecture - observability
 * @documentReference dev_docs/backend_requirements.md
 * @stateFlow Registered via promauto at package init, scraped on /metrics
 * @rules Metric updates never gate engine behavior
 * @dependencies github.com/prometheus/client_golang
 * @refs main.go
 */

package reconciliation

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	runsStarted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nhlrecon_runs_started_total",
		Help: "Validation runs started, by trigger source.",
	}, []string{"triggered_by"})

	runsFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nhlrecon_runs_finished_total",
		Help: "Validation runs finished, by terminal status.",
	}, []string{"status"})

	runsRejected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "nhlrecon_runs_rejected_total",
		Help: "Run triggers rejected because the scope already had an active run.",
	})

	checksEvaluated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nhlrecon_checks_evaluated_total",
		Help: "Individual checks evaluated, by outcome.",
	}, []string{"outcome"})

	discrepanciesOpened = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nhlrecon_discrepancies_opened_total",
		Help: "New discrepancies opened, by severity.",
	}, []string{"severity"})

	runDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "nhlrecon_run_duration_seconds",
		Help:    "Wall-clock duration of completed validation runs.",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
	})
)
