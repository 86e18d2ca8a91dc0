package portfolio

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// pendingCalcs - инструменты, ожидающие цен или курсов для пересчёта
var pendingCalcs = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "tradecore",
		Subsystem: "portfolio",
		Name:      "pending_calculations",
		Help:      "Number of instruments with pending margin or pnl calculations",
	},
)

var accountEvents = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "tradecore",
		Subsystem: "portfolio",
		Name:      "account_events_total",
		Help:      "Total number of account state events processed",
	},
	[]string{"kind"},
)

var orderEvents = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "tradecore",
		Subsystem: "portfolio",
		Name:      "order_events_total",
		Help:      "Total number of order events affecting account state",
	},
	[]string{"kind"},
)

var positionEvents = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "tradecore",
		Subsystem: "portfolio",
		Name:      "position_events_total",
		Help:      "Total number of position events processed",
	},
	[]string{"kind"},
)
