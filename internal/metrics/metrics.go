package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// LoginAttempts counts logins by outcome: success, invalid_credentials,
	// rate_limited, validation, timeout, error.
	LoginAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "access_login_attempts_total",
		Help: "Login attempts by outcome.",
	}, []string{"outcome"})

	// AuthzDecisions counts permission checks by decision: allow, deny.
	AuthzDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "access_authz_decisions_total",
		Help: "Authorization decisions by outcome.",
	}, []string{"decision"})

	// SessionWatches tracks the number of live expiry watch goroutines.
	SessionWatches = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "access_session_watches",
		Help: "Live session expiry watches.",
	})

	// SessionsExpired counts sessions the watch reaped at expiry.
	SessionsExpired = promauto.NewCounter(prometheus.CounterOpts{
		Name: "access_sessions_expired_total",
		Help: "Sessions removed on expiry.",
	})
)
