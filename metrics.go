package gemmbatch

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	poolHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gemmbatch_pool_hits_total",
		Help: "Total number of allocations served from the free list",
	})

	poolMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gemmbatch_pool_misses_total",
		Help: "Total number of allocations that reserved new memory",
	})

	poolInUseBytes = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "gemmbatch_pool_in_use_bytes",
		Help: "Current bytes of live pool allocations",
	})

	batchedMultiplies = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gemmbatch_batched_multiplies_total",
		Help: "Total number of completed batched multiply requests",
	})

	batchedFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gemmbatch_batched_failures_total",
		Help: "Total number of failed batched multiply requests by stage",
	}, []string{"stage"})
)
