// Package metrics defines and registers all custom Prometheus metrics for the
// MetaMax API and client. It is the single source of truth for metric names,
// labels, and help strings.
//
// Metrics are registered with the default Prometheus registry on import and
// served by the /metrics route.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "metamax"

// ── Account metrics ───────────────────────────────────────────────────────────

// SignupsTotal counts account creation requests by outcome.
// Label:
//   - result: "created", "existing", "invalid", "rejected" or "error"
var SignupsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "signups_total",
		Help:      "Total number of account creation requests, by result.",
	},
	[]string{"result"},
)

// ── Session metrics ───────────────────────────────────────────────────────────

// SessionTransitionsTotal counts client session transitions.
// Labels:
//   - event: INITIAL_SESSION, SIGNED_IN, SIGNED_OUT or TOKEN_REFRESHED
var SessionTransitionsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "session_transitions_total",
		Help:      "Total number of client session transitions, by event.",
	},
	[]string{"event"},
)

// SignInFailuresTotal counts failed sign-in attempts.
// Label:
//   - kind: the error kind (e.g. "invalid_credentials", "network")
var SignInFailuresTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "signin_failures_total",
		Help:      "Total number of failed sign-in attempts, by error kind.",
	},
	[]string{"kind"},
)

// ── Provider metrics ──────────────────────────────────────────────────────────

// ProviderRequestDuration measures calls to the identity provider.
// Labels:
//   - operation: e.g. "create_user", "sign_in", "refresh", "get_user"
//   - outcome: "ok" or the error kind
var ProviderRequestDuration = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "provider_request_duration_seconds",
		Help:      "Duration of identity provider requests.",
		Buckets:   prometheus.DefBuckets, // .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10
	},
	[]string{"operation", "outcome"},
)

// ProviderRetriesTotal counts retried provider requests.
// Label:
//   - operation: the retried operation
var ProviderRetriesTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "provider_retries_total",
		Help:      "Total number of identity provider requests retried after a transport failure.",
	},
	[]string{"operation"},
)
