package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "rail"

var (
	// BookingsTotal counts finished booking attempts by outcome
	// ("issued" or the failure kind).
	BookingsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bookings_total",
			Help:      "Booking attempts by outcome",
		},
		[]string{"outcome"},
	)

	// CompensationsTotal counts compensation steps by step and result.
	CompensationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "compensations_total",
			Help:      "Saga compensation steps by step and result",
		},
		[]string{"step", "result"},
	)

	// VerificationsTotal counts ticket checks by outcome.
	VerificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ticket_verifications_total",
			Help:      "Ticket verifications by outcome",
		},
		[]string{"outcome"},
	)

	// RefundsTotal counts completed refunds.
	RefundsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "refunds_total",
		Help:      "Completed ticket refunds",
	})

	// StepDuration observes the latency of each saga step.
	StepDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "booking_step_duration_seconds",
			Help:      "Latency of booking saga steps",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"step"},
	)

	// RecoveredTotal counts stale bookings and expired holds cleaned up by
	// the sweeper.
	RecoveredTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweeper_recovered_total",
			Help:      "Stale bookings and expired holds recovered by the sweeper",
		},
		[]string{"kind"},
	)
)
