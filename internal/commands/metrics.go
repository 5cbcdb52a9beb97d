package commands

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Commands counts dispatched commands.
// Labels: command (plain text is "remember", unrecognised is "unknown")
var Commands = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "confidant",
		Subsystem: "commands",
		Name:      "dispatched_total",
		Help:      "Total number of channel commands dispatched",
	},
	[]string{"command"},
)
