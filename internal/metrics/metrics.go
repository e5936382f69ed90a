// Package metrics exposes Prometheus metrics of scan cycles and deliveries.
package metrics

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "listing_bot"

var (
	cyclesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scan",
			Name:      "cycles_total",
			Help:      "Total number of scan cycles by outcome",
		},
		[]string{"outcome"},
	)

	cycleDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "scan",
			Name:      "cycle_duration_seconds",
			Help:      "Duration of a full scan cycle in seconds",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600},
		},
	)

	activeUsers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "scan",
			Name:      "active_users",
			Help:      "Number of users eligible in the last cycle",
		},
	)

	pagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scan",
			Name:      "pages_total",
			Help:      "Total number of result page fetches by status",
		},
		[]string{"status"},
	)

	sessionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scan",
			Name:      "sessions_total",
			Help:      "Total number of user scan sessions by outcome",
		},
		[]string{"outcome"},
	)

	deliveriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "delivery",
			Name:      "listings_total",
			Help:      "Total number of listing deliveries by status",
		},
		[]string{"status"},
	)

	accessEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "access",
			Name:      "events_total",
			Help:      "Total number of subscription events by kind",
		},
		[]string{"kind"},
	)
)

// RecordCycle records a finished scan cycle.
func RecordCycle(outcome string, d time.Duration) {
	cyclesTotal.WithLabelValues(outcome).Inc()
	cycleDuration.Observe(d.Seconds())
}

// SetActiveUsers sets the size of the last active scan set.
func SetActiveUsers(n int) {
	activeUsers.Set(float64(n))
}

// RecordPage records one result page fetch attempt.
func RecordPage(status string) {
	pagesTotal.WithLabelValues(status).Inc()
}

// RecordSession records the outcome of one user's scan session.
func RecordSession(outcome string) {
	sessionsTotal.WithLabelValues(outcome).Inc()
}

// RecordDelivery records one listing delivery attempt.
func RecordDelivery(status string) {
	deliveriesTotal.WithLabelValues(status).Inc()
}

// RecordAccessEvent records a trial grant, payment or similar event.
func RecordAccessEvent(kind string) {
	accessEventsTotal.WithLabelValues(kind).Inc()
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// NewRouter serves /metrics and a /health liveness probe.
func NewRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok"))
	})
	r.Method(http.MethodGet, "/metrics", Handler())
	return r
}
