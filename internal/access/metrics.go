package access

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// VerifyAttempts counts passphrase checks.
	// Labels: result (success, failure, throttled)
	VerifyAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "confidant",
			Subsystem: "access",
			Name:      "verify_attempts_total",
			Help:      "Total number of passphrase verification attempts by result",
		},
		[]string{"result"},
	)

	// SessionsPurged counts expired unlock sessions removed.
	SessionsPurged = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "confidant",
			Subsystem: "access",
			Name:      "sessions_purged_total",
			Help:      "Total number of expired unlock sessions purged",
		},
	)
)
