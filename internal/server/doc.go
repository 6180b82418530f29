// Package server implements the ratechat relay: the connection registry, the
// broadcaster that fans every message out to all registered connections, the
// per-connection session handler, and the HTTP surface that upgrades requests
// to WebSocket connections.
//
// The implementation is organized into specialized files for clients, the
// registry, broadcasting, sessions, hub lifetime, routing, and HTTP handlers.
package server
