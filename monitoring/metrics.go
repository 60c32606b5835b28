package monitoring

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	ReceiptScans = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "receipt_scans_total",
			Help: "Receipt scan submissions by admission result",
		},
		[]string{"result"},
	)

	VerificationOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "verification_outcomes_total",
			Help: "Verification requests leaving processing, by resulting status",
		},
		[]string{"status"},
	)

	RegistryCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "registry_calls_total",
			Help: "Calls to the fiscal registry by operation and result code",
		},
		[]string{"operation", "code"},
	)

	RegistryTokenRefresh = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "registry_token_refresh_total",
			Help: "Registry session token refreshes by result",
		},
		[]string{"result"},
	)

	DrainDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "drain_duration_seconds",
			Help:    "Duration of one verification queue drain cycle",
			Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120},
		},
	)

	CashbackAwarded = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cashback_awarded_units_total",
			Help: "Bonus units credited to customers",
		},
	)

	CashbackCanceled = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cashback_canceled_units_total",
			Help: "Bonus units reverted by award cancellation",
		},
	)

	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"route", "method", "status"},
	)

	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route", "method"},
	)
)

var registerOnce sync.Once

// Register adds all collectors to the default registry. Safe to call twice.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			ReceiptScans,
			VerificationOutcomes,
			RegistryCalls,
			RegistryTokenRefresh,
			DrainDuration,
			CashbackAwarded,
			CashbackCanceled,
			HTTPRequests,
			HTTPRequestDuration,
		)
	})
}
