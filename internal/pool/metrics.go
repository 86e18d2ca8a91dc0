package pool

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	eventsApplied = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tradecore",
			Subsystem: "pool",
			Name:      "events_applied_total",
			Help:      "Pool events applied by kind and source",
		},
		[]string{"kind", "source"},
	)

	eventsSkipped = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "tradecore",
			Subsystem: "pool",
			Name:      "events_skipped_total",
			Help:      "Pool events skipped as already processed",
		},
	)

	swapCorrections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tradecore",
			Subsystem: "pool",
			Name:      "swap_corrections_total",
			Help:      "Swap replays corrected from event data",
		},
		[]string{"field"},
	)

	ticksCrossed = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "tradecore",
			Subsystem: "pool",
			Name:      "swap_ticks_crossed",
			Help:      "Initialized ticks crossed per swap",
			Buckets:   []float64{0, 1, 2, 4, 8, 16, 32},
		},
	)
)

const (
	sourceProcess = "process"
	sourceExecute = "execute"
)
