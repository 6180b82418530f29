// Package server fans messages out to every registered client through the
// Broadcaster, isolating each recipient from the others.
package server

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/Tyrowin/ratechat/internal/metrics"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
)

// Broadcaster delivers messages to a snapshot of the registry.
type Broadcaster struct {
	// mu sequences broadcasts so every recipient queues them in the same order.
	mu       sync.Mutex
	registry *Registry
	metrics  *metrics.RelayMetrics
	log      *slog.Logger
}

func NewBroadcaster(registry *Registry, m *metrics.RelayMetrics, logger *slog.Logger) *Broadcaster {
	if m == nil {
		m = metrics.NewRelayMetrics(nil)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{registry: registry, metrics: m, log: logger}
}

// Broadcast queues message for every registered client and returns how many
// accepted it. A recipient that cannot take the message is skipped; one whose
// queue is full is evicted.
func (b *Broadcaster) Broadcast(message string) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	timer := prometheus.NewTimer(b.metrics.BroadcastDuration)
	defer timer.ObserveDuration()

	payload := []byte(message)
	recipients := b.registry.Snapshot()
	b.metrics.Broadcasts.Inc()

	delivered := 0
	for _, client := range recipients {
		if b.deliver(client, payload) {
			delivered++
		}
	}

	b.log.Debug("Broadcast message", "recipients", len(recipients), "delivered", delivered)
	return delivered
}

func (b *Broadcaster) deliver(client *Client, payload []byte) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("Recovered from panic delivering message", "panic", r)
			b.metrics.DeliveryFailures.WithLabelValues(metrics.ReasonPanic).Inc()
			ok = false
		}
	}()

	err := client.Send(payload)
	switch {
	case err == nil:
		b.metrics.Deliveries.Inc()
		return true
	case errors.Is(err, ErrSendBufferFull):
		b.log.Warn("Evicting client with full send buffer", "remote_addr", client.RemoteAddr())
		b.metrics.DeliveryFailures.WithLabelValues(metrics.ReasonBufferFull).Inc()
		// Closing may wait on a stuck writer; the fan-out must not.
		go client.Evict(websocket.CloseTryAgainLater, "send buffer full")
	default:
		b.log.Debug("Skipping closed client", "remote_addr", client.RemoteAddr(), "error", err)
		b.metrics.DeliveryFailures.WithLabelValues(metrics.ReasonClosed).Inc()
	}
	return false
}
