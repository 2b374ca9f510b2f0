package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/boedegoat/flyctf/pkg/log"
)

var (
	// Registry metrics
	ChallengesDiscovered = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "flyctf_challenges_discovered",
			Help: "Number of challenges discovered at startup",
		},
	)

	ListenersActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "flyctf_listeners_active",
			Help: "Number of public ports with a bound listener",
		},
	)

	// Session metrics
	SessionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "flyctf_sessions_active",
			Help: "Number of client sessions currently streaming",
		},
	)

	SessionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flyctf_sessions_total",
			Help: "Total number of accepted sessions by challenge and outcome",
		},
		[]string{"challenge", "outcome"},
	)

	SessionDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "flyctf_session_duration_seconds",
			Help:    "Duration of streaming sessions",
			Buckets: prometheus.ExponentialBuckets(0.1, 4, 8),
		},
	)

	BytesForwardedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flyctf_bytes_forwarded_total",
			Help: "Total bytes forwarded by direction",
		},
		[]string{"direction"},
	)

	// Readiness metrics
	BringUpsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flyctf_bring_ups_total",
			Help: "Total compose bring-up invocations by challenge",
		},
		[]string{"challenge"},
	)

	ReadinessFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flyctf_readiness_failures_total",
			Help: "Total readiness failures by challenge and reason",
		},
		[]string{"challenge", "reason"},
	)
)

// Session outcome label values.
const (
	OutcomeCompleted   = "completed"
	OutcomeNoChallenge = "no_challenge"
	OutcomeNotReady    = "not_ready"
	OutcomeDialError   = "dial_error"
)

// Pump direction label values.
const (
	DirectionClientToTarget = "client_to_target"
	DirectionTargetToClient = "target_to_client"
)

// Init registers all metrics with the default Prometheus registry
func Init() {
	prometheus.MustRegister(
		ChallengesDiscovered,
		ListenersActive,
		SessionsActive,
		SessionsTotal,
		SessionDuration,
		BytesForwardedTotal,
		BringUpsTotal,
		ReadinessFailuresTotal,
	)
}

// StartMetricsServer starts the HTTP server for metrics and health
// endpoints. It blocks, so run it in a goroutine.
func StartMetricsServer(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", HealthHandler)

	server := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	log.WithComponent("metrics").Info().Str("addr", addr).Msg("Metrics server listening")
	return server.ListenAndServe()
}
