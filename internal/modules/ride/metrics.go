// README: Prometheus instruments for ride transitions and store calls.
package ride

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	transitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "rideshare", Subsystem: "ride", Name: "transitions_total", Help: "Ride transition attempts by outcome"},
		[]string{"transition", "outcome"},
	)
	storeDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "rideshare",
			Subsystem: "ride",
			Name:      "store_duration_seconds",
			Help:      "Latency of ride store calls",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"op"},
	)
	publishFailures = promauto.NewCounter(
		prometheus.CounterOpts{Namespace: "rideshare", Subsystem: "ride", Name: "publish_failures_total", Help: "Committed events that could not be published"},
	)
)
