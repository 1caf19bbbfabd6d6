package observability

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "questline_http_requests_total",
			Help: "HTTP requests by service, route, method and status class",
		},
		[]string{"service", "route", "method", "status"},
	)

	HTTPLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "questline_http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"service", "route", "method"},
	)

	HTTPInflight = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "questline_http_inflight_requests",
			Help: "Requests currently being served",
		},
		[]string{"service"},
	)

	SubscriptionSyncs = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "questline_subscription_sync_total",
			Help: "Stripe subscription events reconciled, by outcome",
		},
		[]string{"outcome"},
	)

	TransactionAttempts = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "questline_transaction_attempts",
			Help:    "Attempts used by optimistic DynamoDB transactions",
			Buckets: []float64{1, 2, 3, 4, 5, 8},
		},
		[]string{"operation"},
	)

	XPAwarded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "questline_xp_awarded_total",
			Help: "XP granted, by source",
		},
		[]string{"source"},
	)

	StripeCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "questline_stripe_calls_total",
			Help: "Stripe API calls by operation and result",
		},
		[]string{"operation", "result"},
	)

	LeaderboardCache = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "questline_leaderboard_cache_total",
			Help: "Leaderboard cache lookups by result",
		},
		[]string{"result"},
	)
)

func RecordHTTP(service, route, method string, status int, d time.Duration) {
	if route == "" {
		route = "unmatched"
	}
	HTTPRequests.WithLabelValues(service, route, method, statusClass(status)).Inc()
	HTTPLatency.WithLabelValues(service, route, method).Observe(d.Seconds())
}

func RecordSync(outcome string, attempts int) {
	SubscriptionSyncs.WithLabelValues(outcome).Inc()
	if attempts > 0 {
		TransactionAttempts.WithLabelValues("subscription_sync").Observe(float64(attempts))
	}
}

func RecordAward(source string, amount int64, attempts int) {
	XPAwarded.WithLabelValues(source).Add(float64(amount))
	if attempts > 0 {
		TransactionAttempts.WithLabelValues("xp_award").Observe(float64(attempts))
	}
}

func RecordStripeCall(operation string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	StripeCalls.WithLabelValues(operation, result).Inc()
}

func RecordLeaderboardCache(hit bool) {
	if hit {
		LeaderboardCache.WithLabelValues("hit").Inc()
		return
	}
	LeaderboardCache.WithLabelValues("miss").Inc()
}

func statusClass(status int) string {
	if status <= 0 {
		return "0xx"
	}
	return strconv.Itoa(status/100) + "xx"
}
