package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	pollCycles = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fleetwatch_poll_cycles_total",
		Help: "Number of completed poll cycles.",
	})
	pollSkipped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fleetwatch_poll_skipped_total",
		Help: "Ticks skipped because the previous cycle was still in flight.",
	})
	fetchErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fleetwatch_registry_fetch_errors_total",
		Help: "Registry fetches that failed and produced no update.",
	})
	pollDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "fleetwatch_poll_duration_seconds",
		Help:    "Duration of a full poll cycle.",
		Buckets: prometheus.DefBuckets,
	})
)
