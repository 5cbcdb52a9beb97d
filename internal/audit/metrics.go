package audit

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Events counts audit records written.
	// Labels: event
	Events = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "confidant",
			Subsystem: "audit",
			Name:      "events_total",
			Help:      "Total number of audit records written by event type",
		},
		[]string{"event"},
	)

	// WriteFailures counts audit records that could not be persisted.
	WriteFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "confidant",
			Name:      "audit_write_failures_total",
			Help:      "Total number of audit records dropped because the write failed",
		},
	)
)
