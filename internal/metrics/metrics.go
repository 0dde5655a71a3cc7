package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total HTTP requests by route and status",
		},
		[]string{"method", "route", "status"},
	)

	httpDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	checkoutRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "checkout_requests_total",
			Help: "Checkout requests by result",
		},
		[]string{"result"},
	)

	confirmations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "checkout_confirmations_total",
			Help: "Checkout confirmations by outcome",
		},
		[]string{"outcome"},
	)

	reservationsReleased = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reservations_released_total",
			Help: "Reservations returned to inventory by reason",
		},
		[]string{"reason"},
	)

	sweepRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reservation_sweep_runs_total",
			Help: "Expiry sweep runs by result",
		},
		[]string{"result"},
	)

	notificationsFailed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "notifications_failed_total",
			Help: "Notifications that could not be delivered",
		},
	)
)

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

func ObserveHTTPRequest(method, route, status string, elapsed time.Duration) {
	httpRequests.WithLabelValues(method, route, status).Inc()
	httpDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

func TrackCheckoutRequest(result string) {
	checkoutRequests.WithLabelValues(result).Inc()
}

func TrackConfirmation(outcome string) {
	confirmations.WithLabelValues(outcome).Inc()
}

func TrackRelease(reason string) {
	reservationsReleased.WithLabelValues(reason).Inc()
}

func TrackSweep(result string) {
	sweepRuns.WithLabelValues(result).Inc()
}

func TrackNotificationFailure() {
	notificationsFailed.Inc()
}
