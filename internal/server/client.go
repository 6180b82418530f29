// Package server manages individual WebSocket clients: the outbound queue and
// writer goroutine, the tagged receive primitive, and idempotent close.
package server

import (
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
)

const (
	defaultSendBufferSize = 256
	defaultMaxMessageSize = 1 << 20
	defaultWriteTimeout   = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	defaultPongWait = 60 * time.Second

	// Time allowed for the close frame before the transport is torn down.
	closeGracePeriod = time.Second
)

// ClientOptions tunes a Client. Zero values select the defaults.
type ClientOptions struct {
	SendBufferSize int
	MaxMessageSize int64
	WriteTimeout   time.Duration
	PongWait       time.Duration
	Clock          clockwork.Clock
	Logger         *slog.Logger
}

// Client is one live connection: a transport, its outbound queue, and the
// goroutine that writes the queue to the peer.
type Client struct {
	id   uuid.UUID
	conn Transport
	addr string

	send       chan []byte
	done       chan struct{}
	writerDone chan struct{}
	closeOnce  sync.Once

	// deadlineMu orders read-deadline extensions against InterruptRead.
	deadlineMu  sync.Mutex
	interrupted bool

	clock        clockwork.Clock
	writeTimeout time.Duration
	pongWait     time.Duration
	pingPeriod   time.Duration
	log          *slog.Logger
}

// NewClient wraps conn and starts its writer goroutine.
func NewClient(conn Transport, addr string, opts ClientOptions) *Client {
	if opts.SendBufferSize <= 0 {
		opts.SendBufferSize = defaultSendBufferSize
	}
	if opts.MaxMessageSize <= 0 {
		opts.MaxMessageSize = defaultMaxMessageSize
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = defaultWriteTimeout
	}
	if opts.PongWait <= 0 {
		opts.PongWait = defaultPongWait
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	c := &Client{
		id:           uuid.New(),
		conn:         conn,
		addr:         addr,
		send:         make(chan []byte, opts.SendBufferSize),
		done:         make(chan struct{}),
		writerDone:   make(chan struct{}),
		clock:        opts.Clock,
		writeTimeout: opts.WriteTimeout,
		pongWait:     opts.PongWait,
		pingPeriod:   (opts.PongWait * 9) / 10,
		log:          opts.Logger.With("remote_addr", addr),
	}

	c.setupReadConnection(opts.MaxMessageSize)
	go c.writePump()
	return c
}

// ID returns the connection identity used as the registry key.
func (c *Client) ID() uuid.UUID { return c.id }

// RemoteAddr returns the peer address reported at upgrade time.
func (c *Client) RemoteAddr() string { return c.addr }

// Done is closed once the client has been closed.
func (c *Client) Done() <-chan struct{} { return c.done }

// setupReadConnection configures the read limit, read deadline and pong handler.
func (c *Client) setupReadConnection(maxMessageSize int64) {
	c.conn.SetReadLimit(maxMessageSize)
	c.extendReadDeadline()
	c.conn.SetPongHandler(func(string) error {
		c.extendReadDeadline()
		return nil
	})
}

func (c *Client) extendReadDeadline() {
	c.deadlineMu.Lock()
	defer c.deadlineMu.Unlock()
	if c.interrupted {
		return
	}
	if err := c.conn.SetReadDeadline(c.clock.Now().Add(c.pongWait)); err != nil {
		c.log.Debug("Error setting read deadline", "error", err)
	}
}

// InterruptRead makes a pending Receive return immediately with an error.
// Later reads fail the same way. It may run while another goroutine is in
// Receive: *websocket.Conn forwards SetReadDeadline straight to the net.Conn,
// whose deadlines are safe to set concurrently with a read.
func (c *Client) InterruptRead() {
	c.deadlineMu.Lock()
	defer c.deadlineMu.Unlock()
	c.interrupted = true
	if err := c.conn.SetReadDeadline(c.clock.Now()); err != nil {
		c.log.Debug("Error interrupting read", "error", err)
	}
}

// Receive blocks for the next text message. Non-text frames are skipped.
func (c *Client) Receive() Inbound {
	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			return classifyReadError(err)
		}
		c.extendReadDeadline()

		if messageType != websocket.TextMessage {
			c.log.Debug("Ignoring non-text frame", "type", messageType)
			continue
		}
		if !utf8.Valid(data) {
			return Inbound{Kind: InboundError, Err: ErrInvalidUTF8}
		}
		return Inbound{Kind: InboundMessage, Payload: string(data)}
	}
}

// classifyReadError maps a read error to a clean close or an error outcome.
func classifyReadError(err error) Inbound {
	if errors.Is(err, io.EOF) || websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived) {
		return Inbound{Kind: InboundClosed, Err: err}
	}
	return Inbound{Kind: InboundError, Err: err}
}

// isAbruptDisconnect reports read errors caused by a peer vanishing rather
// than misbehaving.
func isAbruptDisconnect(err error) bool {
	return errors.Is(err, io.ErrUnexpectedEOF) ||
		websocket.IsCloseError(err, websocket.CloseAbnormalClosure) ||
		isExpectedCloseError(err)
}

// Send queues message for delivery without blocking.
func (c *Client) Send(message []byte) error {
	select {
	case <-c.done:
		return ErrClientClosed
	default:
	}

	select {
	case c.send <- message:
		return nil
	default:
		return ErrSendBufferFull
	}
}

// Close closes the client with a normal closure.
func (c *Client) Close() {
	c.CloseWith(websocket.CloseNormalClosure, "")
}

// CloseWith flushes messages already queued, sends a best-effort close frame
// with code and reason, then closes the transport. The flush is bounded by a
// short grace period. Only the first close of any kind has an effect.
func (c *Client) CloseWith(code int, reason string) {
	c.close(code, reason, true)
}

// Evict closes the client without flushing its queue.
func (c *Client) Evict(code int, reason string) {
	c.close(code, reason, false)
}

func (c *Client) close(code int, reason string, flush bool) {
	c.closeOnce.Do(func() {
		close(c.done)

		if flush {
			select {
			case <-c.writerDone:
			case <-c.clock.After(closeGracePeriod):
				c.log.Debug("Gave up flushing queued messages")
			}
		}

		msg := websocket.FormatCloseMessage(code, reason)
		deadline := c.clock.Now().Add(closeGracePeriod)
		if err := c.conn.WriteControl(websocket.CloseMessage, msg, deadline); err != nil &&
			!errors.Is(err, websocket.ErrCloseSent) && !isExpectedCloseError(err) {
			c.log.Debug("Error writing close message", "error", err)
		}

		if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
			c.log.Debug("Error closing connection", "error", err)
		}
	})
}

// Wait blocks until the writer goroutine has stopped writing.
func (c *Client) Wait() {
	<-c.writerDone
}

func (c *Client) writePump() {
	var failed bool
	ticker := c.clock.NewTicker(c.pingPeriod)
	defer func() {
		ticker.Stop()
		// writerDone must close before Evict: a CloseWith holding closeOnce
		// waits on it.
		close(c.writerDone)
		if failed {
			c.Evict(websocket.CloseInternalServerErr, "write failed")
		}
	}()

	for {
		select {
		case message := <-c.send:
			if err := c.write(websocket.TextMessage, message); err != nil {
				failed = c.handleWriteError("message", err)
				return
			}
		case <-ticker.Chan():
			if err := c.write(websocket.PingMessage, nil); err != nil {
				failed = c.handleWriteError("ping", err)
				return
			}
		case <-c.done:
			c.drain()
			return
		}
	}
}

// drain writes whatever is still queued, stopping at the first failure.
func (c *Client) drain() {
	for {
		select {
		case message := <-c.send:
			if err := c.write(websocket.TextMessage, message); err != nil {
				return
			}
		default:
			return
		}
	}
}

// write sends one frame under the write deadline, so a frozen peer cannot
// hold the writer forever.
func (c *Client) write(messageType int, data []byte) error {
	if err := c.conn.SetWriteDeadline(c.clock.Now().Add(c.writeTimeout)); err != nil {
		return err
	}
	return c.conn.WriteMessage(messageType, data)
}

// handleWriteError logs a failed write and reports whether the client still
// needs closing.
func (c *Client) handleWriteError(kind string, err error) bool {
	select {
	case <-c.done:
		// Already closing; the failure is a consequence.
		return false
	default:
	}
	if isExpectedCloseError(err) {
		c.log.Debug("Write to closed connection", "frame", kind, "error", err)
	} else {
		c.log.Warn("Error writing to client", "frame", kind, "error", err)
	}
	return true
}
