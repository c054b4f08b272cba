package syncer

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for the sync loop.
var (
	syncPassesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nexusd_sync_passes_total",
		Help: "Completed sync passes by outcome.",
	}, []string{"outcome"}) // outcome: ok, error

	syncPushesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nexusd_sync_pushes_total",
		Help: "Record uploads attempted by the coordinator, by status.",
	}, []string{"status"}) // status: ok, failed

	syncBacklog = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "nexusd_sync_backlog",
		Help: "Unsynced records observed at the start of the last pass.",
	})

	syncPassDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "nexusd_sync_pass_duration_seconds",
		Help:    "Duration of one sync pass.",
		Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
	})
)
