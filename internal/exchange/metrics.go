package exchange

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "tradecore",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Venue REST request latency",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"venue", "method", "status"},
	)

	httpRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tradecore",
			Subsystem: "http",
			Name:      "retries_total",
			Help:      "Venue REST request retries",
		},
		[]string{"venue"},
	)

	limiterWait = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "tradecore",
			Subsystem: "ratelimit",
			Name:      "wait_seconds",
			Help:      "Time spent waiting for rate limiter admission",
			Buckets:   []float64{.001, .01, .05, .1, .5, 1, 5, 15, 60},
		},
		[]string{"client"},
	)

	wsReconnects = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tradecore",
			Subsystem: "websocket",
			Name:      "reconnects_total",
			Help:      "WebSocket reconnect attempts by result",
		},
		[]string{"client", "result"},
	)

	wsFramesSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tradecore",
			Subsystem: "websocket",
			Name:      "frames_sent_total",
			Help:      "WebSocket frames written by kind",
		},
		[]string{"client", "kind"},
	)

	wsFramesDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tradecore",
			Subsystem: "websocket",
			Name:      "frames_dropped_total",
			Help:      "WebSocket frames dequeued during reconnect and dropped, by kind",
		},
		[]string{"client", "kind"},
	)
)

func observeRequest(venue, method string, status int, d time.Duration) {
	label := "error"
	if status > 0 {
		label = strconv.Itoa(status)
	}
	httpRequestDuration.WithLabelValues(venue, method, label).Observe(d.Seconds())
}

func observeLimiterWait(client string, d time.Duration) {
	limiterWait.WithLabelValues(client).Observe(d.Seconds())
}
