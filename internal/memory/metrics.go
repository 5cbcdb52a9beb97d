package memory

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Appends counts stored entries.
	// Labels: tag
	Appends = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "confidant",
			Subsystem: "memory",
			Name:      "appends_total",
			Help:      "Total number of memory entries appended by tag",
		},
		[]string{"tag"},
	)

	// AppendFailures counts appends rejected by storage.
	AppendFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "confidant",
			Subsystem: "memory",
			Name:      "append_failures_total",
			Help:      "Total number of memory appends that failed in storage",
		},
	)
)
