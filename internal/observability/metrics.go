package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RequestsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "marketplace", Name: "requests_created_total", Help: "Requests created, by kind"},
		[]string{"kind"},
	)
	BidsSubmitted = promauto.NewCounter(
		prometheus.CounterOpts{Namespace: "marketplace", Name: "bids_submitted_total", Help: "Bids submitted or re-submitted"},
	)
	BidsAccepted = promauto.NewCounter(
		prometheus.CounterOpts{Namespace: "marketplace", Name: "bids_accepted_total", Help: "Bids accepted"},
	)
	AcceptanceConflicts = promauto.NewCounter(
		prometheus.CounterOpts{Namespace: "marketplace", Name: "acceptance_conflicts_total", Help: "Acceptance attempts that lost the race"},
	)
	MatchesCreated = promauto.NewCounter(
		prometheus.CounterOpts{Namespace: "marketplace", Name: "city_matches_created_total", Help: "City-to-city matches created"},
	)
	ProvidersOnline = promauto.NewGauge(
		prometheus.GaugeOpts{Namespace: "marketplace", Name: "providers_online", Help: "Providers with a live location fix"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "marketplace", Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "marketplace",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
