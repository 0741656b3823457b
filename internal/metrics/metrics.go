// Package metrics holds the Prometheus collectors for the reservation
// engine.  Collectors are registered on the default registry and served
// by the /metrics endpoint.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	reservationsCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ticketing_reservations_created_total",
			Help: "Reservations created in PENDING_PAYMENT",
		},
	)

	reservationCreateFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ticketing_reservation_create_failures_total",
			Help: "Rejected or failed reservation creations by reason",
		},
		[]string{"reason"},
	)

	reservationTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ticketing_reservation_transitions_total",
			Help: "Reservations leaving PENDING_PAYMENT by target status",
		},
		[]string{"status"},
	)

	sweeperRuns = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ticketing_sweeper_runs_total",
			Help: "Completed expiry sweeps",
		},
	)

	sweeperExpired = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ticketing_sweeper_expired_total",
			Help: "Reservations expired by the sweeper",
		},
	)

	sweeperErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ticketing_sweeper_errors_total",
			Help: "Reservations the sweeper failed to expire",
		},
	)

	sweeperDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ticketing_sweeper_duration_seconds",
			Help:    "Duration of one expiry sweep",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		},
	)
)

func ReservationCreated() { reservationsCreated.Inc() }

func ReservationCreateFailed(reason string) {
	reservationCreateFailures.WithLabelValues(reason).Inc()
}

func ReservationTransitioned(status string) {
	reservationTransitions.WithLabelValues(status).Inc()
}

// SweepCompleted records one sweep with its outcome counts.
func SweepCompleted(took time.Duration, expired, failed int) {
	sweeperRuns.Inc()
	sweeperExpired.Add(float64(expired))
	sweeperErrors.Add(float64(failed))
	sweeperDuration.Observe(took.Seconds())
}
