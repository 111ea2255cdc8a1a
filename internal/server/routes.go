// Package server wires HTTP handlers into a ServeMux for the chat gateway.
package server

import "net/http"

// SetupRoutes configures and returns an HTTP ServeMux with all gateway routes
// bound to srv: health check, room status, WebSocket endpoint, and test page.
func SetupRoutes(srv *Server) *http.ServeMux {
	g := newGateway(srv)

	mux := http.NewServeMux()
	mux.HandleFunc("/", HealthHandler)
	mux.HandleFunc("/rooms", g.RoomsHandler)
	mux.HandleFunc("/ws", g.WebSocketHandler)
	mux.HandleFunc("/test", TestPageHandler)
	return mux
}
