// Package server coordinates session lifetime, broadcast and graceful
// shutdown for the ratechat relay via the Hub type.
package server

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/Tyrowin/ratechat/internal/metrics"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
)

const defaultTriggerKeyword = "exchange"

var errNoReportSource = errors.New("no report source configured")

// HubOptions configures a Hub. Zero values select the defaults. A zero
// RateLimitBurst leaves inbound messages unthrottled.
type HubOptions struct {
	TriggerKeyword          string
	RateLimitBurst          int
	RateLimitRefillInterval time.Duration
	Client                  ClientOptions
	Names                   NameGenerator
	Reports                 ReportSource
	Metrics                 *metrics.RelayMetrics
	Clock                   clockwork.Clock
	Logger                  *slog.Logger
}

// Hub owns the registry and broadcaster and runs one Session per connection.
type Hub struct {
	registry    *Registry
	broadcaster *Broadcaster
	opts        HubOptions

	ctx    context.Context
	cancel context.CancelFunc

	// mu guards closed so no session starts once Shutdown is waiting.
	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// NewHub creates a Hub ready to serve connections.
func NewHub(opts HubOptions) *Hub {
	if opts.TriggerKeyword == "" {
		opts.TriggerKeyword = defaultTriggerKeyword
	}
	if opts.RateLimitRefillInterval <= 0 {
		opts.RateLimitRefillInterval = time.Second
	}
	if opts.Reports == nil {
		opts.Reports = ReportSourceFunc(func(context.Context) (string, error) {
			return "", errNoReportSource
		})
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.NewRelayMetrics(nil)
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Client.Clock == nil {
		opts.Client.Clock = opts.Clock
	}
	if opts.Client.Logger == nil {
		opts.Client.Logger = opts.Logger
	}

	registry := NewRegistry(opts.Names, opts.Metrics)
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		registry:    registry,
		broadcaster: NewBroadcaster(registry, opts.Metrics, opts.Logger),
		opts:        opts,
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Registry exposes the hub's registry.
func (h *Hub) Registry() *Registry {
	return h.registry
}

// Broadcast hands a finished message to the fan-out and returns how many
// clients it was queued for.
func (h *Hub) Broadcast(message string) int {
	return h.broadcaster.Broadcast(message)
}

// Serve runs a session for conn on the calling goroutine and returns when the
// session has ended. After Shutdown it closes conn and returns ErrHubClosed.
func (h *Hub) Serve(conn Transport, remoteAddr string) error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		h.reject(conn, remoteAddr)
		return ErrHubClosed
	}
	h.wg.Add(1)
	h.mu.Unlock()
	defer h.wg.Done()

	client := NewClient(conn, remoteAddr, h.opts.Client)
	session := h.newSession(client)
	session.Run(h.ctx)
	client.Wait()
	return nil
}

func (h *Hub) newSession(client *Client) *Session {
	var limiter *rateLimiter
	if h.opts.RateLimitBurst > 0 {
		limiter = newRateLimiter(h.opts.RateLimitBurst, h.opts.RateLimitRefillInterval, h.opts.Clock)
	}
	return &Session{
		client:      client,
		registry:    h.registry,
		broadcaster: h.broadcaster,
		reports:     h.opts.Reports,
		trigger:     h.opts.TriggerKeyword,
		limiter:     limiter,
		metrics:     h.opts.Metrics,
		log:         h.opts.Logger,
		closeCode:   websocket.CloseNormalClosure,
	}
}

func (h *Hub) reject(conn Transport, remoteAddr string) {
	msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down")
	deadline := h.opts.Clock.Now().Add(closeGracePeriod)
	if err := conn.WriteControl(websocket.CloseMessage, msg, deadline); err != nil && !isExpectedCloseError(err) {
		h.opts.Logger.Debug("Error writing close message", "remote_addr", remoteAddr, "error", err)
	}
	if err := conn.Close(); err != nil && !isExpectedCloseError(err) {
		h.opts.Logger.Debug("Error closing rejected connection", "remote_addr", remoteAddr, "error", err)
	}
	h.opts.Logger.Info("Rejected connection during shutdown", "remote_addr", remoteAddr)
}

// Shutdown stops accepting sessions, interrupts every session's pending read
// and waits for all of them to unregister. If timeout passes first, the
// remaining clients are closed and context.DeadlineExceeded is returned.
func (h *Hub) Shutdown(timeout time.Duration) error {
	h.opts.Logger.Info("Initiating hub shutdown...", "clients", h.registry.Len())

	h.mu.Lock()
	h.closed = true
	h.mu.Unlock()
	h.cancel()

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		h.opts.Logger.Info("Hub shutdown completed successfully")
		return nil
	case <-h.opts.Clock.After(timeout):
		remaining := h.registry.Snapshot()
		for _, client := range remaining {
			client.Evict(websocket.CloseGoingAway, "server shutting down")
		}
		h.opts.Logger.Warn("Hub shutdown timeout reached, closed remaining clients", "clients", len(remaining))
		return context.DeadlineExceeded
	}
}
