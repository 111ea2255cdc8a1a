// Package server exposes HTTP handlers, including the WebSocket gateway,
// health and room status endpoints, and the built-in test page.
package server

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// gateway turns upgraded WebSocket connections into chat sessions.
type gateway struct {
	server   *Server
	upgrader websocket.Upgrader
}

func newGateway(srv *Server) *gateway {
	policy := newOriginPolicy(srv.cfg.AllowedOrigins)
	return &gateway{
		server: srv,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     policy.check,
		},
	}
}

// WebSocketHandler validates that the request uses the GET method, upgrades
// the connection and hands it to the server as a new session.
func (g *gateway) WebSocketHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed. WebSocket endpoint only accepts GET requests.", http.StatusMethodNotAllowed)
		return
	}

	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Str("component", "gateway").Str("remote", r.RemoteAddr).Msg("WebSocket upgrade failed")
		return
	}

	t := NewWebSocketTransport(conn, r.RemoteAddr, g.server.cfg.MaxFrameSize)
	if err := g.server.Serve(t); err != nil {
		log.Warn().Err(err).Str("component", "gateway").Str("remote", r.RemoteAddr).Msg("connection rejected")
	}
}

// HealthHandler responds with a plain text message indicating the server is running.
func HealthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprintf(w, "Chat server is running!")
}

// RoomsHandler reports the same listing as the /room command, as JSON.
func (g *gateway) RoomsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed.", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(g.server.registry.ListRooms()); err != nil {
		log.Error().Err(err).Str("component", "gateway").Msg("writing rooms response")
	}
}

// TestPageHandler serves a minimal page for driving the WebSocket endpoint by hand.
func TestPageHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html")
	if _, err := fmt.Fprint(w, testPage); err != nil {
		log.Error().Err(err).Str("component", "gateway").Msg("writing HTML response")
	}
}

const testPage = `<!DOCTYPE html>
<html>
<head>
    <title>Chat WebSocket Test</title>
    <style>
        body { font-family: monospace; margin: 20px; }
        #log { border: 1px solid #ccc; height: 300px; padding: 10px; overflow-y: scroll; white-space: pre-wrap; }
        input[type="text"] { width: 300px; }
    </style>
</head>
<body>
    <h1>Chat WebSocket Test</h1>
    <p>The first line you send is your nickname. Commands: /room /create /enter /exit /w</p>
    <div id="log"></div>
    <input type="text" id="frame" placeholder="Type a frame..." autofocus>
    <script>
        const logDiv = document.getElementById('log');
        const input = document.getElementById('frame');
        const ws = new WebSocket((location.protocol === 'https:' ? 'wss://' : 'ws://') + location.host + '/ws');

        function append(line) {
            logDiv.textContent += line + '\n';
            logDiv.scrollTop = logDiv.scrollHeight;
        }

        ws.onopen = () => append('-- connected');
        ws.onmessage = (event) => append(event.data);
        ws.onclose = () => append('-- disconnected');

        input.addEventListener('keypress', (e) => {
            if (e.key === 'Enter' && input.value !== '' && ws.readyState === WebSocket.OPEN) {
                ws.send(input.value);
                input.value = '';
            }
        });
    </script>
</body>
</html>`
