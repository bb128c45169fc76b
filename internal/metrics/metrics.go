// Package metrics holds the Prometheus collectors exported by the ledger.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "stock_ledger"

type Metrics struct {
	Operations        *prometheus.CounterVec
	ConflictRetries   *prometheus.CounterVec
	SweptReservations prometheus.Counter
	SweepErrors       prometheus.Counter
	SweepDuration     prometheus.Histogram
	PublishFailures   prometheus.Counter
}

// New registers the collectors on reg. Pass a fresh registry in tests.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Operations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_total",
			Help:      "Stock operations by name and outcome.",
		}, []string{"operation", "outcome"}),
		ConflictRetries: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "conflict_retries_total",
			Help:      "Save attempts rejected by the version check.",
		}, []string{"operation"}),
		SweptReservations: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "swept_reservations_total",
			Help:      "Expired reservations physically removed by the sweeper.",
		}),
		SweepErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweep_errors_total",
			Help:      "Sweep cycles that failed.",
		}),
		SweepDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sweep_duration_seconds",
			Help:      "Wall time of one sweep cycle.",
			Buckets:   prometheus.DefBuckets,
		}),
		PublishFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "publish_failures_total",
			Help:      "Event batches the publisher rejected.",
		}),
	}
}

// Nop returns collectors registered nowhere.
func Nop() *Metrics {
	return New(prometheus.NewRegistry())
}
