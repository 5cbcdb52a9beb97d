package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Requests counts HTTP requests.
	// Labels: method, route, status (2xx, 4xx, 5xx)
	Requests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "confidant",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests by method, route pattern and status class",
		},
		[]string{"method", "route", "status"},
	)

	// Duration tracks request latency.
	Duration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "confidant",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
		},
		[]string{"method", "route"},
	)
)
