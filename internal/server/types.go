// Package server defines shared error values, the transport abstraction and the
// tagged receive outcome reused across client, session and hub logic.
package server

import (
	"context"
	"errors"
	"strings"
	"time"
)

var (
	// ErrClientClosed is returned when sending to a client that has been closed.
	ErrClientClosed = errors.New("client closed")

	// ErrSendBufferFull is returned when a client's outbound queue has no room.
	ErrSendBufferFull = errors.New("client send buffer full")

	// ErrAlreadyRegistered is returned when a client is registered twice.
	ErrAlreadyRegistered = errors.New("client already registered")

	// ErrInvalidUTF8 is reported for text frames that are not valid UTF-8.
	ErrInvalidUTF8 = errors.New("text frame is not valid UTF-8")

	// ErrHubClosed is returned when a connection arrives after shutdown began.
	ErrHubClosed = errors.New("hub is shutting down")
)

// Transport is the bidirectional message connection a Client wraps.
// *websocket.Conn satisfies it.
type Transport interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetReadLimit(limit int64)
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
	Close() error
}

// ReportSource produces the finished text broadcast for the trigger keyword.
type ReportSource interface {
	Report(ctx context.Context) (string, error)
}

// ReportSourceFunc adapts a function to ReportSource.
type ReportSourceFunc func(ctx context.Context) (string, error)

func (f ReportSourceFunc) Report(ctx context.Context) (string, error) { return f(ctx) }

// InboundKind tags the outcome of one Receive call.
type InboundKind int

const (
	InboundMessage InboundKind = iota
	InboundClosed
	InboundError
)

func (k InboundKind) String() string {
	switch k {
	case InboundMessage:
		return "message"
	case InboundClosed:
		return "closed"
	case InboundError:
		return "error"
	default:
		return "unknown"
	}
}

// Inbound is the result of reading from a client: a text payload, a clean
// close, or an error.
type Inbound struct {
	Kind    InboundKind
	Payload string
	Err     error
}

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "websocket: close sent") ||
		strings.Contains(errStr, "broken pipe")
}
