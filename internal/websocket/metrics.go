package websocket

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var dashboardClients = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "tradecore",
		Subsystem: "dashboard",
		Name:      "clients",
		Help:      "Number of connected dashboard websocket clients",
	},
)

// dashboardDropped - сообщения, не поместившиеся в очередь рассылки
var dashboardDropped = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: "tradecore",
		Subsystem: "dashboard",
		Name:      "dropped_messages_total",
		Help:      "Total number of dashboard messages dropped on a full broadcast queue",
	},
)
