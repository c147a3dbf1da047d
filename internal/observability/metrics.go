package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pvbridge",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total admin HTTP requests.",
		},
		[]string{"service", "method", "route", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "pvbridge",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Admin HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "method", "route", "status"},
	)
	frameMessages = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pvbridge",
			Subsystem: "dispatch",
			Name:      "messages_total",
			Help:      "Messages moved across the framed channel.",
		},
		[]string{"direction", "variant"},
	)
	frameRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pvbridge",
			Subsystem: "dispatch",
			Name:      "rejected_total",
			Help:      "Inbound messages skipped without closing the connection.",
		},
		[]string{"variant", "reason"},
	)
	connections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pvbridge",
			Subsystem: "dispatch",
			Name:      "connections_total",
			Help:      "Dispatcher connections by terminal outcome.",
		},
		[]string{"outcome"},
	)
	connectionUp = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "pvbridge",
			Subsystem: "dispatch",
			Name:      "connected",
			Help:      "1 while a dispatcher connection is in the connected state.",
		},
	)
	flowCommits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pvbridge",
			Subsystem: "flow",
			Name:      "commits_total",
			Help:      "Values committed by host flows.",
		},
		[]string{"flow"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpRequests, httpDuration,
			frameMessages, frameRejected,
			connections, connectionUp,
			flowCommits,
		)
	})
}

func RecordHTTPRequest(service, method, route string, status int, duration time.Duration) {
	RegisterMetrics()
	code := strconv.Itoa(status)
	httpRequests.WithLabelValues(service, method, route, code).Inc()
	httpDuration.WithLabelValues(service, method, route, code).Observe(duration.Seconds())
}

// RecordMessage counts one message; direction is "in" or "out".
func RecordMessage(direction, variant string) {
	RegisterMetrics()
	frameMessages.WithLabelValues(direction, variant).Inc()
}

func RecordRejected(variant, reason string) {
	RegisterMetrics()
	frameRejected.WithLabelValues(variant, reason).Inc()
}

func RecordConnectionOpened() {
	RegisterMetrics()
	connectionUp.Inc()
}

func RecordConnectionClosed(outcome string) {
	RegisterMetrics()
	connectionUp.Dec()
	connections.WithLabelValues(outcome).Inc()
}

func RecordFlowCommit(flow string) {
	RegisterMetrics()
	flowCommits.WithLabelValues(flow).Inc()
}
