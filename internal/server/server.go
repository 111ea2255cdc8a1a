// Package server wires listeners, the registry and sessions together and
// owns the process-level start and shutdown sequence.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// Server is a multi-room chat server. Sessions arrive from the TCP acceptor
// and, when HTTPAddr is configured, from the WebSocket gateway.
type Server struct {
	cfg      Config
	registry *Registry

	acceptor     *Acceptor
	gateway      *http.Server
	httpListener net.Listener

	group    *errgroup.Group
	groupCtx context.Context

	mu       sync.Mutex
	started  bool
	stopped  bool
	sessions map[*Session]struct{}
	wg       sync.WaitGroup
}

// New creates a server from cfg. Nothing is bound until Start.
func New(cfg Config) *Server {
	cfg = sanitizeConfig(cfg)
	return &Server{
		cfg:      cfg,
		registry: NewRegistry(cfg.LobbyName),
		sessions: make(map[*Session]struct{}),
	}
}

// Config returns the sanitized configuration in use.
func (s *Server) Config() Config {
	return s.cfg
}

// Registry returns the server's room and session registry.
func (s *Server) Registry() *Registry {
	return s.registry
}

// Start binds the TCP listener and, if configured, the HTTP gateway, then
// begins accepting in the background. A bind failure is returned and nothing
// is left running.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return ErrServerStopped
	}
	if s.started {
		return ErrAlreadyStarted
	}

	listener, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.cfg.ListenAddr, err)
	}

	if s.cfg.HTTPAddr != "" {
		httpListener, err := net.Listen("tcp", s.cfg.HTTPAddr)
		if err != nil {
			_ = listener.Close()
			return fmt.Errorf("listen on %s: %w", s.cfg.HTTPAddr, err)
		}
		s.httpListener = httpListener
		s.gateway = CreateServer(s.cfg.HTTPAddr, SetupRoutes(s))
	}

	s.acceptor = NewAcceptor(listener, s.handleConn)
	s.group, s.groupCtx = errgroup.WithContext(context.Background())
	s.group.Go(s.serveAcceptor)
	if s.gateway != nil {
		s.group.Go(s.serveGateway)
	}
	s.started = true

	event := log.Info().Str("addr", listener.Addr().String()).Str("framing", s.cfg.Framing)
	if s.httpListener != nil {
		event = event.Str("http_addr", s.httpListener.Addr().String())
	}
	event.Msg("chat server started")
	return nil
}

// serveAcceptor treats a Shutdown that wins the race against the accept loop
// as a clean stop.
func (s *Server) serveAcceptor() error {
	if err := s.acceptor.Serve(); err != nil && !errors.Is(err, ErrServerStopped) {
		return err
	}
	return nil
}

func (s *Server) serveGateway() error {
	if err := s.gateway.Serve(s.httpListener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http gateway: %w", err)
	}
	return nil
}

// Run starts the server and blocks until ctx is cancelled or a listener
// fails, then shuts down.
func (s *Server) Run(ctx context.Context) error {
	if err := s.Start(); err != nil {
		return err
	}

	select {
	case <-ctx.Done():
	case <-s.groupCtx.Done():
	}

	shutdownErr := s.Shutdown(s.cfg.ShutdownTimeout)
	if err := s.group.Wait(); err != nil {
		return err
	}
	return shutdownErr
}

// Addr returns the TCP listening address, or nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.acceptor == nil {
		return nil
	}
	return s.acceptor.Addr()
}

// HTTPAddr returns the gateway listening address, or nil when disabled.
func (s *Server) HTTPAddr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.httpListener == nil {
		return nil
	}
	return s.httpListener.Addr()
}

// SessionCount returns the number of connected sessions, including those
// that have not sent a nickname yet.
func (s *Server) SessionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

func (s *Server) handleConn(conn net.Conn) {
	log.Debug().Str("remote", conn.RemoteAddr().String()).Msg("connection accepted")

	t := NewTCPTransport(conn, s.cfg.Framing, s.cfg.MaxFrameSize)
	if err := s.Serve(t); err != nil {
		log.Warn().Err(err).Str("remote", conn.RemoteAddr().String()).Msg("connection rejected")
	}
}

// Serve starts a session on t. The transport is closed when the session ends,
// or immediately if the server is stopped or full.
func (s *Server) Serve(t Transport) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		_ = t.Close()
		return ErrServerStopped
	}
	if s.cfg.MaxSessions > 0 && len(s.sessions) >= s.cfg.MaxSessions {
		s.mu.Unlock()
		rejectFull(t, s.cfg.WriteTimeout)
		return ErrServerFull
	}

	session := newSession(t, s.registry, s.cfg)
	s.sessions[session] = struct{}{}
	s.wg.Add(2)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		session.writePump()
	}()
	go func() {
		defer s.wg.Done()
		session.readPump()
		s.untrack(session)
	}()
	return nil
}

func rejectFull(t Transport, timeout time.Duration) {
	_ = t.SetWriteDeadline(time.Now().Add(timeout))
	_ = t.WriteFrame([]byte(serverFullMessage))
	_ = t.Close()
}

func (s *Server) untrack(session *Session) {
	s.mu.Lock()
	delete(s.sessions, session)
	s.mu.Unlock()
}

// Shutdown stops accepting, interrupts every session so it tears down and
// flushes its queue, and waits for all session goroutines. Sessions still
// running when timeout expires are closed forcibly and
// context.DeadlineExceeded is returned.
func (s *Server) Shutdown(timeout time.Duration) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	acceptor, gateway := s.acceptor, s.gateway
	s.mu.Unlock()

	log.Info().Msg("initiating chat server shutdown")

	if acceptor != nil {
		if err := acceptor.Stop(); err != nil {
			log.Warn().Err(err).Msg("closing listener")
		}
	}
	if gateway != nil {
		_ = ShutdownServer(gateway, timeout)
	}

	for _, session := range s.snapshotSessions() {
		session.interrupt()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info().Msg("chat server shutdown completed")
		return nil
	case <-time.After(timeout):
		remaining := s.snapshotSessions()
		for _, session := range remaining {
			session.abort()
		}
		log.Warn().Int("sessions", len(remaining)).Msg("shutdown timeout reached; closed remaining sessions")
		return context.DeadlineExceeded
	}
}

func (s *Server) snapshotSessions() []*Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	sessions := make([]*Session, 0, len(s.sessions))
	for session := range s.sessions {
		sessions = append(sessions, session)
	}
	return sessions
}
