package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	lookupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "activity_cache_lookups_total",
			Help: "Total listing cache lookups by result (hit, miss, stale)",
		},
		[]string{"result"},
	)

	errorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "activity_cache_errors_total",
			Help: "Total number of cache operation errors",
		},
		[]string{"operation"}, // "get", "set", "delete"
	)

	storedBytes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "activity_cache_stored_bytes",
			Help: "Size of the most recently stored listing in bytes",
		},
	)
)
