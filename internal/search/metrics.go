package search

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Searches counts scoped searches.
	// Labels: scope, outcome (ok, denied, rejected, error)
	Searches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "confidant",
			Subsystem: "search",
			Name:      "requests_total",
			Help:      "Total number of scoped searches by scope and outcome",
		},
		[]string{"scope", "outcome"},
	)

	// Duration tracks completed search latency.
	Duration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "confidant",
			Subsystem: "search",
			Name:      "duration_seconds",
			Help:      "Duration of completed scoped searches in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"scope"},
	)
)
