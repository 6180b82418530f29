package testhelpers

import (
	"net"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
)

type frame struct {
	messageType int
	data        []byte
	err         error
}

type timeoutError struct{}

func (timeoutError) Error() string { return "i/o timeout" }
func (timeoutError) Timeout() bool { return true }
func (timeoutError) Temporary() bool { return true }

// ErrTimeout is returned by FakeConn reads once the read deadline passes.
var ErrTimeout net.Error = timeoutError{}

// FakeConn is an in-memory WebSocket transport. Frames pushed with Push*
// are returned by ReadMessage; text frames written by the server are
// collected and read back with Next.
type FakeConn struct {
	clock clockwork.Clock

	inbound chan frame
	written chan string
	closed  chan struct{}
	once    sync.Once

	mu           sync.Mutex
	readDeadline time.Time
	deadlineWake chan struct{}
	readLimit    int64
	writeGate    chan struct{}
	writeErr     error
	closeCode    int
	closeReason  string
}

// NewFakeConn creates a FakeConn whose deadlines are judged against clock.
func NewFakeConn(clock clockwork.Clock) *FakeConn {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &FakeConn{
		clock:        clock,
		inbound:      make(chan frame, 64),
		written:      make(chan string, 1024),
		closed:       make(chan struct{}),
		deadlineWake: make(chan struct{}),
	}
}

// Push queues a text frame from the peer.
func (c *FakeConn) Push(text string) {
	c.inbound <- frame{messageType: websocket.TextMessage, data: []byte(text)}
}

// PushFrame queues an arbitrary data frame from the peer.
func (c *FakeConn) PushFrame(messageType int, data []byte) {
	c.inbound <- frame{messageType: messageType, data: data}
}

// PushClose makes the next read report a close frame with code.
func (c *FakeConn) PushClose(code int) {
	c.inbound <- frame{err: &websocket.CloseError{Code: code}}
}

// PushError makes the next read fail with err.
func (c *FakeConn) PushError(err error) {
	c.inbound <- frame{err: err}
}

// BlockWrites makes every data write hang until the connection is closed or
// UnblockWrites is called, like a peer that stopped reading.
func (c *FakeConn) BlockWrites() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writeGate = make(chan struct{})
}

// UnblockWrites releases writes held by BlockWrites. They, and every later
// data write, fail with err.
func (c *FakeConn) UnblockWrites(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writeErr = err
	if c.writeGate != nil {
		close(c.writeGate)
		c.writeGate = nil
	}
}

// FailWrites makes every data write return err.
func (c *FakeConn) FailWrites(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writeErr = err
}

func (c *FakeConn) ReadMessage() (int, []byte, error) {
	for {
		c.mu.Lock()
		expired := !c.readDeadline.IsZero() && !c.readDeadline.After(c.clock.Now())
		wake := c.deadlineWake
		c.mu.Unlock()

		if expired {
			return 0, nil, ErrTimeout
		}

		select {
		case f := <-c.inbound:
			if f.err != nil {
				return 0, nil, f.err
			}
			return f.messageType, f.data, nil
		case <-c.closed:
			return 0, nil, net.ErrClosed
		case <-wake:
		}
	}
}

func (c *FakeConn) WriteMessage(messageType int, data []byte) error {
	c.mu.Lock()
	gate, writeErr := c.writeGate, c.writeErr
	c.mu.Unlock()

	select {
	case <-c.closed:
		return net.ErrClosed
	default:
	}
	if gate != nil {
		select {
		case <-c.closed:
			return net.ErrClosed
		case <-gate:
		}
		c.mu.Lock()
		writeErr = c.writeErr
		c.mu.Unlock()
	}
	if writeErr != nil {
		return writeErr
	}
	if messageType == websocket.TextMessage {
		c.written <- string(data)
	}
	return nil
}

func (c *FakeConn) WriteControl(messageType int, data []byte, _ time.Time) error {
	select {
	case <-c.closed:
		return websocket.ErrCloseSent
	default:
	}
	if messageType == websocket.CloseMessage && len(data) >= 2 {
		c.mu.Lock()
		c.closeCode = int(data[0])<<8 | int(data[1])
		c.closeReason = string(data[2:])
		c.mu.Unlock()
	}
	return nil
}

func (c *FakeConn) SetReadLimit(limit int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.readLimit = limit
}

func (c *FakeConn) SetReadDeadline(t time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.readDeadline = t
	close(c.deadlineWake)
	c.deadlineWake = make(chan struct{})
	return nil
}

func (c *FakeConn) SetWriteDeadline(time.Time) error { return nil }

func (c *FakeConn) SetPongHandler(func(string) error) {}

func (c *FakeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

// Closed reports whether Close has been called.
func (c *FakeConn) Closed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

// CloseFrame returns the code and reason of the close frame the server sent,
// or 0 if none was sent.
func (c *FakeConn) CloseFrame() (int, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeCode, c.closeReason
}

// ReadLimit returns the limit set by the server.
func (c *FakeConn) ReadLimit() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.readLimit
}

// Next returns the next text frame the server wrote, failing after timeout.
func (c *FakeConn) Next(t *testing.T, timeout time.Duration) string {
	t.Helper()
	select {
	case msg := <-c.written:
		return msg
	case <-time.After(timeout):
		require.FailNow(t, "timed out waiting for a written message")
		return ""
	}
}

// ExpectNone asserts that no text frame is written within wait.
func (c *FakeConn) ExpectNone(t *testing.T, wait time.Duration) {
	t.Helper()
	select {
	case msg := <-c.written:
		require.FailNow(t, "unexpected message", "got %q", msg)
	case <-time.After(wait):
	}
}
