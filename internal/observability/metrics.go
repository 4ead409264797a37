// Package observability exports Prometheus metrics for the IPC client.
package observability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	calls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ggipc",
			Subsystem: "client",
			Name:      "calls_total",
			Help:      "IPC calls by operation and result.",
		},
		[]string{"operation", "result"},
	)
	callDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ggipc",
			Subsystem: "client",
			Name:      "call_duration_seconds",
			Help:      "Time from sending a request to its response.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"operation"},
	)
	events = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ggipc",
			Subsystem: "subscription",
			Name:      "events_total",
			Help:      "Subscription events by operation and outcome.",
		},
		[]string{"operation", "outcome"},
	)
	dropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ggipc",
			Subsystem: "client",
			Name:      "dropped_messages_total",
			Help:      "Inbound messages discarded before dispatch.",
		},
		[]string{"reason"},
	)
	disconnects = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ggipc",
			Subsystem: "client",
			Name:      "disconnects_total",
			Help:      "Connections torn down, by cause.",
		},
		[]string{"cause"},
	)
)

// Event outcomes.
const (
	EventDelivered = "delivered"
	EventRejected  = "rejected"
	EventInvalid   = "invalid"
)

// Drop reasons.
const (
	DropUnknownStream = "unknown_stream"
	DropBadHeaders    = "bad_headers"
)

// Disconnect causes.
const (
	DisconnectLocal   = "local"
	DisconnectLost    = "lost"
	DisconnectCorrupt = "corrupt"
)

// RegisterMetrics adds the client collectors to the default registry. It is
// safe to call more than once.
func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(calls, callDuration, events, dropped, disconnects)
	})
}

// RecordCall counts one finished call. result is "ok" or an error kind.
func RecordCall(operation, result string, duration time.Duration) {
	RegisterMetrics()
	calls.WithLabelValues(operation, result).Inc()
	callDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

func RecordEvent(operation, outcome string) {
	RegisterMetrics()
	events.WithLabelValues(operation, outcome).Inc()
}

func RecordDropped(reason string) {
	RegisterMetrics()
	dropped.WithLabelValues(reason).Inc()
}

func RecordDisconnect(cause string) {
	RegisterMetrics()
	disconnects.WithLabelValues(cause).Inc()
}
