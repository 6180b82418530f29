// Package server runs one Session per accepted connection: it registers the
// client, routes each inbound message to the broadcaster or the report hook,
// and always unregisters on the way out.
package server

import (
	"context"
	"errors"
	"log/slog"
	"runtime/debug"
	"sync/atomic"

	"github.com/Tyrowin/ratechat/internal/logging"
	"github.com/Tyrowin/ratechat/internal/metrics"
	"github.com/gorilla/websocket"
)

// RateLimitNotice is sent only to a sender whose message was dropped by the
// per-session rate limit.
const RateLimitNotice = "rate limit exceeded, message dropped"

// SessionState is the lifecycle position of a Session.
type SessionState int32

const (
	StateConnecting SessionState = iota
	StateActive
	StateClosing
	StateClosed
)

func (s SessionState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateActive:
		return "active"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Session owns one client for its whole life: identity, state and the
// receive loop.
type Session struct {
	client      *Client
	registry    *Registry
	broadcaster *Broadcaster
	reports     ReportSource
	trigger     string
	limiter     *rateLimiter // nil when unthrottled
	metrics     *metrics.RelayMetrics
	log         *slog.Logger

	name       string
	registered bool
	state      atomic.Int32

	closeCode   int
	closeReason string
}

// State returns the current lifecycle state.
func (s *Session) State() SessionState {
	return SessionState(s.state.Load())
}

// Name returns the display name assigned at registration, or "" before that.
func (s *Session) Name() string {
	return s.name
}

func (s *Session) setState(state SessionState) {
	s.state.Store(int32(state))
}

// Run registers the client and processes its messages until the peer goes
// away, an error ends the loop, or ctx is cancelled. Cancellation only
// interrupts a pending read; a message already being handled is finished first.
func (s *Session) Run(ctx context.Context) {
	defer s.finish()

	name, err := s.registry.Register(s.client)
	if err != nil {
		s.log.Error("Failed to register client", "remote_addr", s.client.RemoteAddr(), "error", err)
		s.closeCode, s.closeReason = websocket.CloseInternalServerErr, "registration failed"
		return
	}
	s.name, s.registered = name, true
	s.log = logging.WithSession(s.log, name, s.client.RemoteAddr())
	s.setState(StateActive)
	s.log.Info("Client connected", "clients", s.registry.Len())

	stop := context.AfterFunc(ctx, s.client.InterruptRead)
	defer stop()

	for {
		in := s.client.Receive()

		switch in.Kind {
		case InboundMessage:
			// The cycle outlives shutdown so the sender's message still goes out.
			if !s.handle(context.WithoutCancel(ctx), in.Payload) {
				return
			}
		case InboundClosed:
			s.log.Info("Client disconnected")
			return
		case InboundError:
			s.handleReceiveError(ctx, in.Err)
			return
		}

		if ctx.Err() != nil {
			s.closeCode, s.closeReason = websocket.CloseGoingAway, "server shutting down"
			s.log.Info("Session stopped by shutdown")
			return
		}
	}
}

func (s *Session) handleReceiveError(ctx context.Context, err error) {
	switch {
	case ctx.Err() != nil:
		s.closeCode, s.closeReason = websocket.CloseGoingAway, "server shutting down"
		s.log.Info("Session stopped by shutdown")
	case errors.Is(err, ErrInvalidUTF8):
		s.closeCode, s.closeReason = websocket.CloseInvalidFramePayloadData, "invalid UTF-8"
		s.log.Warn("Closing session after invalid text frame")
	case isAbruptDisconnect(err):
		s.log.Info("Client connection lost", "error", err)
	default:
		s.log.Warn("Error reading from client", "error", err)
	}
}

// handle processes one inbound message. It returns false when the session
// must end.
func (s *Session) handle(ctx context.Context, payload string) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("Recovered from panic handling message", "panic", r, "stack", string(debug.Stack()))
			s.closeCode, s.closeReason = websocket.CloseInternalServerErr, "internal error"
			ok = false
		}
	}()

	if s.limiter != nil && !s.limiter.allow() {
		s.metrics.RateLimited.Inc()
		s.log.Warn("Rate limit exceeded, dropping message")
		if err := s.client.Send([]byte(RateLimitNotice)); err != nil {
			s.log.Debug("Could not send rate limit notice", "error", err)
		}
		return true
	}

	if payload == s.trigger {
		s.handleReport(ctx)
		return true
	}

	s.broadcaster.Broadcast(s.name + ": " + payload)
	return true
}

func (s *Session) handleReport(ctx context.Context) {
	report, err := s.reports.Report(ctx)
	if err != nil {
		s.metrics.ExchangeCommands.WithLabelValues(metrics.OutcomeError).Inc()
		s.log.Error("Failed to produce exchange report", "error", err)
		return
	}
	s.metrics.ExchangeCommands.WithLabelValues(metrics.OutcomeSuccess).Inc()
	n := s.broadcaster.Broadcast(report)
	s.log.Info("Broadcast exchange report", "recipients", n)
}

func (s *Session) finish() {
	s.setState(StateClosing)
	if s.registered {
		s.registry.Unregister(s.client)
		s.log.Info("Client unregistered", "clients", s.registry.Len())
	}
	s.client.CloseWith(s.closeCode, s.closeReason)
	s.setState(StateClosed)
}
