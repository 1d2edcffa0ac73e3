// ABOUTME: Prometheus collectors for the gateway's HTTP surface and identity lifecycle
// ABOUTME: Registered once on the default registry via promauto

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Result label values shared by the lifecycle counters.
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
	ResultDropped = "dropped"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aiquan_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "aiquan_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	// Identity lifecycle
	AgentsRegistered = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "aiquan_agents_registered_total",
			Help: "Total agents registered",
		},
	)

	AuthAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aiquan_auth_attempts_total",
			Help: "Bearer authentication attempts by result",
		},
		[]string{"result"}, // success, missing, invalid, error
	)

	Claims = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aiquan_claims_total",
			Help: "Claim confirmations by result",
		},
		[]string{"result"}, // success, not_found, already_claimed, expired, invalid, error
	)

	AuditEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aiquan_audit_events_total",
			Help: "Audit events by write result",
		},
		[]string{"result"}, // success, failure, dropped
	)

	// Rate limit metrics
	RateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aiquan_rate_limit_hits_total",
			Help: "Total rate limit hits",
		},
		[]string{"scope"},
	)
)
