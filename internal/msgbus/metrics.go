package msgbus

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// busMessages - сообщения, прошедшие через шину (publish/send)
var busMessages = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "tradecore",
		Subsystem: "msgbus",
		Name:      "messages_total",
		Help:      "Total number of messages published or sent on the bus",
	},
	[]string{"bus", "kind"},
)

// busHandlerPanics - паники в обработчиках подписчиков
var busHandlerPanics = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "tradecore",
		Subsystem: "msgbus",
		Name:      "handler_panics_total",
		Help:      "Total number of recovered panics in bus handlers",
	},
	[]string{"bus"},
)

// bridgeMessages - сообщения, переданные во внешние системы и полученные из них
var bridgeMessages = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "tradecore",
		Subsystem: "msgbus",
		Name:      "bridge_messages_total",
		Help:      "Total number of messages forwarded to or received from external brokers",
	},
	[]string{"bridge", "direction", "status"},
)
