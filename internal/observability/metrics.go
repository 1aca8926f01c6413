package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "evt_requests_total",
			Help: "Total number of requests",
		},
		[]string{"route", "code", "method"},
	)

	AccessDenied = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "evt_access_denied_total",
			Help: "Access denials by reason",
		},
		[]string{"reason"},
	)

	RoleSwitches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "evt_role_switches_total",
			Help: "Explicit role switches by target role",
		},
		[]string{"role"},
	)

	RoleStoreFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "evt_role_store_failures_total",
			Help: "Role persistence failures that fell back to the default role",
		},
		[]string{"op"},
	)

	SelectionErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "evt_selection_errors_total",
			Help: "Rejected selection and checkout operations by kind",
		},
		[]string{"kind"},
	)

	CheckoutAmount = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "evt_checkout_amount",
			Help:    "Grand total of confirmed purchases, smallest currency unit",
			Buckets: prometheus.ExponentialBuckets(10000, 4, 10),
		},
	)

	CatalogFallbacks = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "evt_catalog_fallbacks_total",
			Help: "Catalog reads served from mock data",
		},
	)

	DBTxDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "evt_db_tx_seconds",
			Help:    "Duration of DB transactions",
			Buckets: prometheus.DefBuckets,
		},
	)

	OutboxLag = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "evt_outbox_lag_seconds",
			Help: "Lag of outbox publishing",
		},
	)

	RateLimitExceeded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "evt_rate_limit_exceeded_total",
			Help: "Total rate limit exceeded",
		},
	)
)
