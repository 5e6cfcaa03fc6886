package sweep

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Sweep outcome counters. Skips are normal under concurrency (another actor
// got there first); failures are not.
var (
	settlementsCaptured = promauto.NewCounter(prometheus.CounterOpts{
		Name: "escrow_settlements_captured_total",
		Help: "Bookings auto-settled by the settlement timer.",
	})

	expiredUnconfirmed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "escrow_expired_unconfirmed_total",
		Help: "Bookings cancelled and refunded for lack of a cleaner response.",
	})

	noShowsResolved = promauto.NewCounter(prometheus.CounterOpts{
		Name: "escrow_no_shows_resolved_total",
		Help: "Bookings cancelled, refunded, and compensated after a cleaner no-show.",
	})

	recurringGenerated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "escrow_recurring_bookings_generated_total",
		Help: "Concrete bookings materialized from recurring templates.",
	})

	sweepSkips = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "escrow_sweep_skips_total",
		Help: "Records skipped because another actor already handled them.",
	}, []string{"sweep"})

	sweepFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "escrow_sweep_failures_total",
		Help: "Records a sweep could not resolve (non-concurrency errors).",
	}, []string{"sweep"})

	sweepDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "escrow_sweep_duration_seconds",
		Help:    "Wall time of one sweep run.",
		Buckets: prometheus.DefBuckets,
	}, []string{"sweep"})
)
