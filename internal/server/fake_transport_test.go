package server

import (
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fakeTransport feeds frames from a channel and records written frames.
type fakeTransport struct {
	in chan []byte

	mu      sync.Mutex
	written []string
	closed  bool
	done    chan struct{}
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{in: make(chan []byte, 16), done: make(chan struct{})}
}

func (f *fakeTransport) ReadFrame() ([]byte, error) {
	select {
	case frame, ok := <-f.in:
		if !ok {
			return nil, io.EOF
		}
		return frame, nil
	case <-f.done:
		return nil, io.EOF
	}
}

func (f *fakeTransport) WriteFrame(frame []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return io.ErrClosedPipe
	}
	f.written = append(f.written, string(frame))
	return nil
}

func (f *fakeTransport) SetReadDeadline(time.Time) error  { return nil }
func (f *fakeTransport) SetWriteDeadline(time.Time) error { return nil }
func (f *fakeTransport) RemoteAddr() string               { return "fake" }

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.closed {
		f.closed = true
		close(f.done)
	}
	return nil
}

func (f *fakeTransport) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakeTransport) frames() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.written...)
}

func testConfig() Config {
	cfg := sanitizeConfig(Config{})
	cfg.SendQueueSize = 8
	cfg.RateLimit = RateLimitConfig{Burst: 1000, RefillInterval: time.Second}
	return cfg
}

// newTestSession builds a session whose pumps are not running; tests drive
// handleFrame directly and inspect the send queue with queued.
func newTestSession(t *testing.T, registry *Registry) (*Session, *fakeTransport) {
	t.Helper()

	ft := newFakeTransport()
	return newSession(ft, registry, testConfig()), ft
}

func joinAs(t *testing.T, registry *Registry, nickname string) *Session {
	t.Helper()

	s, _ := newTestSession(t, registry)
	s.handleFrame(nickname)
	require.Equal(t, StateIdle, s.state)
	return s
}

// queued drains whatever is currently in the session's send queue.
func queued(s *Session) []string {
	var out []string
	for {
		select {
		case frame, ok := <-s.send:
			if !ok {
				return out
			}
			out = append(out, string(frame))
		default:
			return out
		}
	}
}

// send feeds frames through the state machine and checks the registry
// invariants after each one.
func send(t *testing.T, s *Session, frames ...string) {
	t.Helper()

	for _, frame := range frames {
		s.handleFrame(frame)
		require.NoError(t, s.registry.checkInvariants(), "after %q", frame)
	}
}
