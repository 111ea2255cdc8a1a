// Package server constructs the HTTP side of the chat service, which hosts
// the WebSocket gateway and read-only status endpoints.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
)

// CreateServer creates and configures an HTTP server for the given handler.
// It sets reasonable timeout values for production use. Upgraded WebSocket
// connections are not bound by these timeouts.
func CreateServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

// ShutdownServer gracefully shuts down the HTTP server. Hijacked WebSocket
// connections are not touched; their sessions are stopped by the chat server.
func ShutdownServer(server *http.Server, timeout time.Duration) error {
	log.Info().Str("component", "gateway").Msg("shutting down HTTP server")

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Error().Err(err).Str("component", "gateway").Msg("HTTP server shutdown error")
		return err
	}

	log.Info().Str("component", "gateway").Msg("HTTP server shutdown completed")
	return nil
}
