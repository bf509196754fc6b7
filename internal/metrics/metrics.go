package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "reserva",
			Name:      "http_requests_total",
			Help:      "HTTP requests by endpoint and status.",
		},
		[]string{"endpoint", "status"},
	)

	reservationsCreated = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "reserva",
			Name:      "reservations_created_total",
			Help:      "Reservations accepted by the conflict check.",
		},
	)

	reservationConflicts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "reserva",
			Name:      "reservation_conflicts_total",
			Help:      "Reservations rejected for overlapping an existing one.",
		},
	)

	grantTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "reserva",
			Name:      "grant_transitions_total",
			Help:      "Grant state machine transitions by target state and outcome.",
		},
		[]string{"transition", "outcome"},
	)

	forcedExpiries = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "reserva",
			Name:      "forced_expiries_total",
			Help:      "Sessions closed by the countdown authority.",
		},
	)

	activeSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "reserva",
			Name:      "active_sessions",
			Help:      "Grants currently in the Granted state.",
		},
	)

	eventsPublished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "reserva",
			Name:      "events_published_total",
			Help:      "Change events delivered per sink.",
		},
		[]string{"sink"},
	)

	eventsDeadLettered = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "reserva",
			Name:      "events_dead_lettered_total",
			Help:      "Change events parked after exhausting delivery retries.",
		},
	)
)

// Register registers Prometheus metrics. Safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(
			httpRequests,
			reservationsCreated,
			reservationConflicts,
			grantTransitions,
			forcedExpiries,
			activeSessions,
			eventsPublished,
			eventsDeadLettered,
		)
	})
}

// IncHTTP increments the request counter for an endpoint/status pair.
func IncHTTP(endpoint, status string) {
	httpRequests.WithLabelValues(endpoint, status).Inc()
}

func IncReservationCreated() {
	reservationsCreated.Inc()
}

func IncReservationConflict() {
	reservationConflicts.Inc()
}

// IncGrantTransition records a transition attempt; outcome is "ok" or "rejected".
func IncGrantTransition(transition, outcome string) {
	grantTransitions.WithLabelValues(transition, outcome).Inc()
}

func IncForcedExpiry() {
	forcedExpiries.Inc()
}

func SetActiveSessions(n float64) {
	activeSessions.Set(n)
}

func IncEventPublished(sink string) {
	eventsPublished.WithLabelValues(sink).Inc()
}

func IncEventDeadLettered() {
	eventsDeadLettered.Inc()
}
