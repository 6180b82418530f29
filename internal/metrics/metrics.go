// Package metrics defines the Prometheus metrics exported by the relay.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "ratechat"

// Delivery failure reasons used as label values.
const (
	ReasonClosed     = "closed"
	ReasonBufferFull = "buffer_full"
	ReasonPanic      = "panic"
)

// Exchange command outcomes used as label values.
const (
	OutcomeSuccess = "success"
	OutcomeError   = "error"
)

// NewRegistry creates a Prometheus registry with Go runtime and process collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return reg
}

// Handler returns an http.Handler that serves Prometheus metrics.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

// RelayMetrics holds the metrics for connections, fan-out and the exchange command.
type RelayMetrics struct {
	ActiveConnections prometheus.Gauge
	Broadcasts        prometheus.Counter
	Deliveries        prometheus.Counter
	DeliveryFailures  *prometheus.CounterVec
	RateLimited       prometheus.Counter
	ExchangeCommands  *prometheus.CounterVec
	BroadcastDuration prometheus.Histogram
}

// NewRelayMetrics creates the relay metrics and registers them on reg.
// A nil reg leaves them unregistered, which is what tests usually want.
func NewRelayMetrics(reg prometheus.Registerer) *RelayMetrics {
	m := &RelayMetrics{
		ActiveConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "websocket",
			Name:      "active_connections",
			Help:      "Number of registered WebSocket connections.",
		}),
		Broadcasts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "broadcast",
			Name:      "messages_total",
			Help:      "Total number of messages fanned out.",
		}),
		Deliveries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "broadcast",
			Name:      "deliveries_total",
			Help:      "Total number of messages queued to a recipient.",
		}),
		DeliveryFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "broadcast",
			Name:      "delivery_failures_total",
			Help:      "Total number of per-recipient delivery failures by reason.",
		}, []string{"reason"}),
		RateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "rate_limited_messages_total",
			Help:      "Total number of inbound messages discarded by the rate limiter.",
		}),
		ExchangeCommands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "exchange_commands_total",
			Help:      "Total number of exchange commands by outcome.",
		}, []string{"outcome"}),
		BroadcastDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "broadcast",
			Name:      "duration_seconds",
			Help:      "Time spent queuing one message to every recipient.",
			Buckets:   []float64{.00001, .00005, .0001, .0005, .001, .005, .01, .05},
		}),
	}

	if reg != nil {
		reg.MustRegister(
			m.ActiveConnections,
			m.Broadcasts,
			m.Deliveries,
			m.DeliveryFailures,
			m.RateLimited,
			m.ExchangeCommands,
			m.BroadcastDuration,
		)
	}
	return m
}
