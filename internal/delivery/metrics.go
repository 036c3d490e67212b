package delivery

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/shohag/hookshot/internal/storage"
)

const namespace = "hookshot"

var (
	deliveriesDispatched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "delivery",
			Name:      "dispatched_total",
			Help:      "Deliveries created by dispatch, by event type",
		},
		[]string{"event_type"},
	)

	attemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "delivery",
			Name:      "attempts_total",
			Help:      "Executions by outcome",
		},
		[]string{"outcome"},
	)

	attemptDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "delivery",
			Name:      "attempt_duration_seconds",
			Help:      "Time spent on the outbound HTTP call",
			Buckets:   []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
	)

	inflight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "delivery",
			Name:      "inflight",
			Help:      "Deliveries currently being executed by the worker pool",
		},
	)

	deliveriesByState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "delivery",
			Name:      "deliveries",
			Help:      "Stored deliveries by state",
		},
		[]string{"state"},
	)

	unhealthyEndpoints = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "delivery",
			Name:      "unhealthy_endpoints",
			Help:      "Endpoints whose failure count exceeds the ceiling",
		},
	)
)

func recordDispatched(eventType string, n int) {
	deliveriesDispatched.WithLabelValues(eventType).Add(float64(n))
}

func recordOutcome(o Outcome) {
	attemptsTotal.WithLabelValues(string(o)).Inc()
}

func recordAttemptDuration(ms int64) {
	attemptDuration.Observe((time.Duration(ms) * time.Millisecond).Seconds())
}

// RecordStats updates the state gauges from a storage snapshot.
func RecordStats(stats *storage.Stats) {
	deliveriesByState.WithLabelValues("pending").Set(float64(stats.PendingCount))
	deliveriesByState.WithLabelValues("delivered").Set(float64(stats.DeliveredCount))
	deliveriesByState.WithLabelValues("failed").Set(float64(stats.FailedCount))
	unhealthyEndpoints.Set(float64(stats.UnhealthyEndpoints))
}
