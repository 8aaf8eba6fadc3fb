// Package metrics registers the Prometheus metrics used by the proxy.
// Metrics are registered on the default registry at init time; the server
// exposes them through promhttp on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcome labels shared by RequestsTotal and the request log.
const (
	OutcomeCompleted     = "completed"
	OutcomeBlocked       = "blocked"
	OutcomeInvalid       = "invalid"
	OutcomeUpstreamError = "upstream_error"
	OutcomeCanceled      = "canceled"
	OutcomeConfigError   = "config_error"
)

// Request-level counters and histograms.
var (
	// RequestsTotal counts /chat/ask requests labelled by outcome.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatproxy_requests_total",
			Help: "Total number of chat requests processed by the proxy.",
		},
		[]string{"outcome"},
	)

	// ModerationRejections counts requests stopped by the interceptor,
	// labelled by reason ("prompt_required", "content_not_allowed", "body_too_large").
	ModerationRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatproxy_moderation_rejections_total",
			Help: "Total requests rejected before reaching the upstream provider.",
		},
		[]string{"reason"},
	)

	// UpstreamDuration observes upstream call latency in seconds.
	UpstreamDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chatproxy_upstream_duration_seconds",
			Help:    "Upstream completion call duration in seconds.",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"provider", "model"},
	)

	// UpstreamErrors counts failed upstream calls by HTTP status ("0" for
	// transport failures).
	UpstreamErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatproxy_upstream_errors_total",
			Help: "Total upstream provider failures by HTTP status.",
		},
		[]string{"provider", "status"},
	)

	// RateLimitRejections counts requests rejected by the rate-limit
	// middleware, labelled by partition ("global", "client").
	RateLimitRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatproxy_rate_limit_rejections_total",
			Help: "Total requests rejected by rate limiting.",
		},
		[]string{"partition"},
	)

	// AuthFailures counts rejected credentials by kind ("missing", "invalid",
	// "expired", "login", "forbidden").
	AuthFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatproxy_auth_failures_total",
			Help: "Total authentication failures.",
		},
		[]string{"kind"},
	)

	// BlacklistReloads counts blacklist reload attempts by result
	// ("success", "error").
	BlacklistReloads = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatproxy_blacklist_reloads_total",
			Help: "Total blacklist reload attempts.",
		},
		[]string{"result"},
	)

	// BlacklistTerms reports the number of distinct normalized terms in the
	// active blacklist snapshot.
	BlacklistTerms = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chatproxy_blacklist_terms",
			Help: "Distinct normalized terms in the active blacklist.",
		},
	)
)
