// Package server manages individual chat sessions, handling read/write
// pumps, rate limiting, and lifecycle control for each connection.
package server

import (
	"bufio"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// ErrQueueFull is returned when a session's outbound queue has no room left.
var ErrQueueFull = errors.New("send queue full")

// Session is the server-side state of one connected client.
//
// The read pump owns the protocol state. The write pump is the only writer
// to the transport, so every frame for this client, whoever produced it,
// goes through the send queue and frames are never interleaved.
type Session struct {
	id        SessionID
	transport Transport
	registry  *Registry
	limiter   *rateLimiter

	// base carries the session and remote fields; log adds nick and room and
	// is swapped by the read pump whenever either changes.
	base zerolog.Logger
	log  atomic.Pointer[zerolog.Logger]

	idleTimeout  time.Duration
	writeTimeout time.Duration

	// guarded by registry.mu
	nickname string
	room     RoomID

	// owned by the read pump
	state         State
	whisperTarget string

	sendMu     sync.Mutex
	send       chan []byte
	sendClosed bool

	readMu   sync.Mutex
	stopping bool

	closeOnce sync.Once
}

func newSession(t Transport, registry *Registry, cfg Config) *Session {
	id := newSessionID()
	s := &Session{
		id:           id,
		transport:    t,
		registry:     registry,
		limiter:      newRateLimiter(cfg.RateLimit),
		base:         log.With().Str("session", string(id)).Str("remote", t.RemoteAddr()).Logger(),
		idleTimeout:  cfg.IdleTimeout,
		writeTimeout: cfg.WriteTimeout,
		state:        StateAwaitingNickname,
		send:         make(chan []byte, cfg.SendQueueSize),
	}
	s.rebindLogger()
	return s
}

// logger returns the session's current logger. Safe from any goroutine.
func (s *Session) logger() *zerolog.Logger {
	return s.log.Load()
}

// rebindLogger refreshes the nick and room fields from the registry.
func (s *Session) rebindLogger() {
	nickname, room := s.registry.describe(s)
	l := s.base.With().Str("nick", nickname).Str("room", room).Logger()
	s.log.Store(&l)
}

// ID returns the session's stable handle.
func (s *Session) ID() SessionID {
	return s.id
}

// Nickname returns the nickname set by the first frame, or "" before that.
func (s *Session) Nickname() string {
	s.registry.mu.RLock()
	defer s.registry.mu.RUnlock()
	return s.nickname
}

// Send queues text for delivery to this client without blocking.
func (s *Session) Send(text string) error {
	return s.enqueue([]byte(text))
}

func (s *Session) enqueue(frame []byte) error {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	if s.sendClosed {
		return ErrSessionClosed
	}

	select {
	case s.send <- frame:
		return nil
	default:
		return ErrQueueFull
	}
}

// closeSend stops accepting frames. The write pump flushes what is already
// queued and then closes the transport.
func (s *Session) closeSend() {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	if !s.sendClosed {
		s.sendClosed = true
		close(s.send)
	}
}

// armRead sets the idle deadline for the next read unless the session is
// being stopped.
func (s *Session) armRead() bool {
	s.readMu.Lock()
	defer s.readMu.Unlock()

	if s.stopping {
		return false
	}
	if err := s.transport.SetReadDeadline(time.Now().Add(s.idleTimeout)); err != nil {
		s.logger().Debug().Err(err).Msg("setting read deadline failed")
		return false
	}
	return true
}

// interrupt unblocks a pending read so the session tears down and flushes its
// queue. Used during server shutdown.
func (s *Session) interrupt() {
	s.readMu.Lock()
	defer s.readMu.Unlock()

	s.stopping = true
	_ = s.transport.SetReadDeadline(time.Now())
}

// abort closes the transport; both pumps notice and the session tears down.
// It is safe to call from any goroutine, any number of times.
func (s *Session) abort() {
	s.closeOnce.Do(func() {
		if err := s.transport.Close(); err != nil && !isExpectedCloseError(err) {
			s.logger().Debug().Err(err).Msg("closing transport")
		}
	})
}

func (s *Session) readPump() {
	defer s.teardown()

	for {
		if !s.armRead() {
			return
		}

		frame, err := s.transport.ReadFrame()
		if err != nil {
			s.logReadError(err)
			return
		}

		if len(frame) == 0 {
			continue
		}

		if !s.limiter.allow() {
			s.logger().Warn().Int("burst", int(s.limiter.capacity)).Msg("rate limit exceeded; discarding frame")
			continue
		}

		s.handleFrame(string(frame))
	}
}

// teardown runs on every exit path of the read pump, whatever the protocol
// state: the session leaves the registry before its queue is closed.
func (s *Session) teardown() {
	s.registry.Unregister(s)
	s.closeSend()
}

func (s *Session) writePump() {
	defer s.abort()

	for frame := range s.send {
		if err := s.transport.SetWriteDeadline(time.Now().Add(s.writeTimeout)); err != nil {
			s.logger().Debug().Err(err).Msg("setting write deadline failed")
			return
		}
		if err := s.transport.WriteFrame(frame); err != nil {
			if !isExpectedCloseError(err) {
				s.logger().Warn().Err(err).Msg("write failed")
			}
			return
		}
	}
}

// logReadError records why the read pump stopped.
func (s *Session) logReadError(err error) {
	s.readMu.Lock()
	stopping := s.stopping
	s.readMu.Unlock()

	switch {
	case stopping:
		s.logger().Debug().Msg("session interrupted by shutdown")
	case errors.Is(err, bufio.ErrTooLong), errors.Is(err, websocket.ErrReadLimit):
		s.logger().Warn().Err(err).Msg("frame exceeded maximum size")
	case isTimeout(err):
		s.logger().Info().Dur("idle", s.idleTimeout).Msg("idle timeout")
	case isExpectedCloseError(err):
		s.logger().Info().Msg("client disconnected")
	default:
		s.logger().Warn().Err(err).Msg("transport read error")
	}
}
