// Package server exposes HTTP handlers, including WebSocket upgrades, health
// checks, and the built-in test page.
package server

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"
)

// Handlers serves the relay's HTTP endpoints.
type Handlers struct {
	hub      *Hub
	upgrader websocket.Upgrader
	log      *slog.Logger
}

func NewHandlers(hub *Hub, origins *OriginPolicy, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{
		hub: hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     origins.CheckOrigin,
		},
		log: logger,
	}
}

// WebSocket upgrades the request and runs the connection's session until it
// ends. The upgrader answers failed handshakes itself.
func (h *Handlers) WebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("WebSocket upgrade failed", "remote_addr", r.RemoteAddr, "error", err)
		return
	}

	if err := h.hub.Serve(conn, r.RemoteAddr); err != nil && !errors.Is(err, ErrHubClosed) {
		h.log.Error("Session ended with error", "remote_addr", r.RemoteAddr, "error", err)
	}
}

// Health responds with a plain text liveness message.
func (h *Handlers) Health(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = fmt.Fprintf(w, "ratechat server is running! %d clients connected", h.hub.Registry().Len())
}

// TestPage serves a minimal browser client for the relay.
func (h *Handlers) TestPage(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if _, err := fmt.Fprint(w, testPageHTML); err != nil {
		h.log.Warn("Error writing HTML response", "error", err)
	}
}

const testPageHTML = `<!DOCTYPE html>
<html>
<head>
    <title>ratechat</title>
    <style>
        body { font-family: Arial, sans-serif; margin: 20px; }
        #messages {
            border: 1px solid #ccc;
            height: 360px;
            padding: 10px;
            overflow-y: scroll;
            margin: 10px 0;
            background-color: #f9f9f9;
        }
        #messages pre { margin: 4px 0; font-family: monospace; white-space: pre-wrap; }
        #messages .info { color: gray; font-style: italic; }
        input[type="text"] { width: 300px; padding: 5px; margin-right: 10px; }
        button { padding: 5px 15px; background-color: #007cba; color: white; border: none; cursor: pointer; }
        button:disabled { background-color: #9bbfd3; cursor: default; }
        .status { margin: 10px 0; padding: 5px; border-radius: 3px; }
        .connected { background-color: #d4edda; color: #155724; }
        .disconnected { background-color: #f8d7da; color: #721c24; }
    </style>
</head>
<body>
    <h1>ratechat</h1>

    <div id="status" class="status disconnected">Disconnected</div>

    <div>
        <input type="text" id="messageInput" placeholder="Type a message..." disabled>
        <button id="sendButton" onclick="sendMessage()" disabled>Send</button>
        <button id="exchangeButton" onclick="send('exchange')" disabled>Exchange rates</button>
        <button id="connectButton" onclick="toggleConnection()">Connect</button>
    </div>

    <div id="messages"></div>

    <script>
        let ws = null;
        const messagesDiv = document.getElementById('messages');
        const messageInput = document.getElementById('messageInput');
        const statusDiv = document.getElementById('status');
        const controls = ['messageInput', 'sendButton', 'exchangeButton'].map(id => document.getElementById(id));
        const connectButton = document.getElementById('connectButton');

        function addLine(text, cls) {
            const el = document.createElement('pre');
            if (cls) el.className = cls;
            el.textContent = text;
            messagesDiv.appendChild(el);
            messagesDiv.scrollTop = messagesDiv.scrollHeight;
        }

        function updateStatus(connected) {
            statusDiv.textContent = connected ? 'Connected' : 'Disconnected';
            statusDiv.className = 'status ' + (connected ? 'connected' : 'disconnected');
            controls.forEach(c => c.disabled = !connected);
            connectButton.textContent = connected ? 'Disconnect' : 'Connect';
        }

        function connect() {
            const scheme = location.protocol === 'https:' ? 'wss://' : 'ws://';
            ws = new WebSocket(scheme + location.host + '/ws');
            ws.onopen = () => { addLine('Connected', 'info'); updateStatus(true); };
            ws.onmessage = event => addLine(event.data);
            ws.onclose = event => {
                addLine('Connection closed' + (event.reason ? ': ' + event.reason : ''), 'info');
                updateStatus(false);
                ws = null;
            };
            ws.onerror = () => addLine('Connection error', 'info');
        }

        function toggleConnection() {
            if (ws && ws.readyState === WebSocket.OPEN) {
                ws.close();
            } else {
                connect();
            }
        }

        function send(text) {
            if (text && ws && ws.readyState === WebSocket.OPEN) {
                ws.send(text);
            }
        }

        function sendMessage() {
            send(messageInput.value.trim());
            messageInput.value = '';
        }

        messageInput.addEventListener('keypress', e => {
            if (e.key === 'Enter') sendMessage();
        });
    </script>
</body>
</html>`
