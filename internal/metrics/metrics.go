package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	PhaseTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reviewflow_phase_transitions_total",
			Help: "Phase and project status transitions committed by the engine",
		},
		[]string{"to"},
	)

	ReconcileTickDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "reviewflow_reconcile_tick_seconds",
			Help:    "Duration of a reconciliation sweep",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 14),
		},
	)

	ReconcileFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "reviewflow_reconcile_failures_total",
			Help: "Projects whose reconciliation failed and was skipped",
		},
	)

	ReconcileSkippedTicks = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "reviewflow_reconcile_skipped_ticks_total",
			Help: "Ticks skipped because the previous sweep was still running",
		},
	)

	GatewayCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reviewflow_gateway_calls_total",
			Help: "Calls to the governance gateway",
		},
		[]string{"op", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "reviewflow_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
		},
		[]string{"method", "route", "status"},
	)
)

func RecordTransition(to string) {
	PhaseTransitions.WithLabelValues(to).Inc()
}

func RecordReconcileTick(d time.Duration) {
	ReconcileTickDuration.Observe(d.Seconds())
}

func RecordGatewayCall(op string, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	GatewayCalls.WithLabelValues(op, status).Inc()
}

func RecordHTTPRequest(method, route, status string, d time.Duration) {
	HTTPRequestDuration.WithLabelValues(method, route, status).Observe(d.Seconds())
}
