package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Release metrics
	ReleasesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "greenlight_releases_total",
			Help: "Total number of finished releases by outcome",
		},
		[]string{"outcome"},
	)

	ReleasesInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "greenlight_releases_in_flight",
			Help: "Number of releases currently being driven",
		},
	)

	ReleaseDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "greenlight_release_duration_seconds",
			Help:    "Time from approval to a terminal state in seconds",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		},
	)

	ReadinessWaitDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "greenlight_readiness_wait_seconds",
			Help:    "Time spent waiting for the new slot to become ready",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10),
		},
	)

	HealthGateFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "greenlight_health_gate_failures_total",
			Help: "Total number of post-cutover observation gate failures",
		},
	)

	RollbacksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "greenlight_rollbacks_total",
			Help: "Total number of rollbacks by result",
		},
		[]string{"result"},
	)

	ApprovalsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "greenlight_approvals_total",
			Help: "Total number of approval gate decisions",
		},
		[]string{"decision"},
	)

	// API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "greenlight_api_requests_total",
			Help: "Total number of API requests by route and status",
		},
		[]string{"route", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "greenlight_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(ReleasesTotal)
	prometheus.MustRegister(ReleasesInFlight)
	prometheus.MustRegister(ReleaseDuration)
	prometheus.MustRegister(ReadinessWaitDuration)
	prometheus.MustRegister(HealthGateFailures)
	prometheus.MustRegister(RollbacksTotal)
	prometheus.MustRegister(ApprovalsTotal)
	prometheus.MustRegister(APIRequestsTotal)
	prometheus.MustRegister(APIRequestDuration)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
