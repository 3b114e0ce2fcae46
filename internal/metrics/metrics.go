// Package metrics exposes Prometheus collectors for the scheduler.
package metrics

import (
	"database/sql"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	cyclesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ruletick_cycles_total",
			Help: "Total number of scheduling cycles run",
		},
	)

	cycleDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ruletick_cycle_duration_seconds",
			Help:    "Time spent in one scheduling cycle",
			Buckets: []float64{.005, .01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		},
	)

	executionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ruletick_executions_total",
			Help: "Total number of rule executions by result status",
		},
		[]string{"status"},
	)

	executionDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ruletick_execution_duration_seconds",
			Help:    "Rule execution time in seconds",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 300},
		},
	)

	claimConflictsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ruletick_claim_conflicts_total",
			Help: "Number of times a schedule was skipped because another holder claimed it",
		},
	)

	catchUpWindowsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ruletick_catchup_windows_total",
			Help: "Number of windows executed beyond the first in a cycle",
		},
	)

	watermarkLag = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ruletick_watermark_lag_seconds",
			Help: "Distance between now and the last processed effective time",
		},
		[]string{"schedule"},
	)

	dbConnectionsOpen = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ruletick_db_connections_open",
			Help: "Number of open database connections",
		},
	)

	dbConnectionsInUse = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ruletick_db_connections_in_use",
			Help: "Number of database connections currently in use",
		},
	)
)

func Handler() http.Handler {
	return promhttp.Handler()
}

func RecordCycle(duration time.Duration) {
	cyclesTotal.Inc()
	cycleDuration.Observe(duration.Seconds())
}

func RecordExecution(status string, duration time.Duration) {
	executionsTotal.WithLabelValues(status).Inc()
	executionDuration.Observe(duration.Seconds())
}

func RecordClaimConflict() {
	claimConflictsTotal.Inc()
}

func RecordCatchUpWindows(n int) {
	if n > 0 {
		catchUpWindowsTotal.Add(float64(n))
	}
}

func SetWatermarkLag(schedule string, lag time.Duration) {
	if lag < 0 {
		lag = 0
	}
	watermarkLag.WithLabelValues(schedule).Set(lag.Seconds())
}

func ForgetSchedule(schedule string) {
	watermarkLag.DeleteLabelValues(schedule)
}

func UpdateDBStats(stats sql.DBStats) {
	dbConnectionsOpen.Set(float64(stats.OpenConnections))
	dbConnectionsInUse.Set(float64(stats.InUse))
}
