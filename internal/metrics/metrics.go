package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// EventsTotal counts interception events evaluated by the engine
	EventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "requestx_events_total",
			Help: "Total number of interception events evaluated",
		},
		[]string{"phase"},
	)

	// MatchesTotal counts events that matched a rule
	MatchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "requestx_matches_total",
			Help: "Total number of interception events matched by a rule",
		},
		[]string{"phase"},
	)

	// SyncOperationsTotal counts rule table update calls issued by reconciliation
	SyncOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "requestx_sync_operations_total",
			Help: "Total number of rule table operations issued by reconciliation",
		},
		[]string{"op"},
	)

	// SyncErrorsTotal counts rules rejected by the rule table
	SyncErrorsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "requestx_sync_errors_total",
			Help: "Total number of rules rejected by the rule table",
		},
	)

	// SyncDuration tracks reconciliation pass duration
	SyncDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "requestx_sync_duration_seconds",
			Help:    "Reconciliation pass duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// CookieWritesTotal counts coalesced cookie writes by result
	CookieWritesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "requestx_cookie_writes_total",
			Help: "Total number of cookie writes flushed",
		},
		[]string{"result"},
	)

	// SubscriptionFetchesTotal counts subscription fetches by result
	SubscriptionFetchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "requestx_subscription_fetches_total",
			Help: "Total number of subscription fetches",
		},
		[]string{"result"},
	)
)

// Result label values
const (
	ResultOK    = "ok"
	ResultError = "error"
)

// Operation label values
const (
	OpPurge   = "purge"
	OpRemove  = "remove"
	OpInstall = "install"
	OpReplace = "replace"
)
