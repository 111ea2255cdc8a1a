package server

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	minAcceptBackoff = 5 * time.Millisecond
	maxAcceptBackoff = time.Second
)

// Acceptor runs the accept loop for one listener. Only one loop may run at a
// time; a stopped acceptor never accepts again.
type Acceptor struct {
	listener net.Listener
	handle   func(net.Conn)

	mu      sync.Mutex
	running bool
	stopped atomic.Bool
	done    chan struct{}
}

// NewAcceptor creates an acceptor that passes every accepted connection to handle.
func NewAcceptor(listener net.Listener, handle func(net.Conn)) *Acceptor {
	return &Acceptor{
		listener: listener,
		handle:   handle,
		done:     make(chan struct{}),
	}
}

// Addr returns the listening address.
func (a *Acceptor) Addr() net.Addr {
	return a.listener.Addr()
}

// Serve accepts connections until Stop is called. Accept errors are logged and
// the loop continues after a short backoff. It returns nil once stopped, and
// an error if the listener is closed by anything other than Stop.
func (a *Acceptor) Serve() error {
	a.mu.Lock()
	if a.stopped.Load() {
		a.mu.Unlock()
		return ErrServerStopped
	}
	if a.running {
		a.mu.Unlock()
		return ErrAlreadyStarted
	}
	a.running = true
	a.mu.Unlock()
	defer close(a.done)

	log.Info().Str("component", "acceptor").Str("addr", a.listener.Addr().String()).Msg("accepting connections")

	backoff := time.Duration(0)
	for {
		conn, err := a.listener.Accept()
		if err != nil {
			if a.stopped.Load() {
				log.Info().Str("component", "acceptor").Msg("accept loop stopped")
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				log.Error().Err(err).Str("component", "acceptor").Msg("listener closed without stop")
				return fmt.Errorf("accept: %w", err)
			}

			backoff = nextBackoff(backoff)
			log.Error().Err(err).Str("component", "acceptor").Dur("retry_in", backoff).Msg("accept failed")
			time.Sleep(backoff)
			continue
		}

		backoff = 0
		a.handle(conn)
	}
}

// Stop closes the listener and waits for a running accept loop to return.
// Sessions already handed off are not affected.
func (a *Acceptor) Stop() error {
	if a.stopped.Swap(true) {
		return nil
	}

	err := a.listener.Close()
	if err != nil && errors.Is(err, net.ErrClosed) {
		err = nil
	}

	a.mu.Lock()
	running := a.running
	a.mu.Unlock()
	if running {
		<-a.done
	}
	return err
}

func nextBackoff(current time.Duration) time.Duration {
	if current <= 0 {
		return minAcceptBackoff
	}
	if current *= 2; current > maxAcceptBackoff {
		return maxAcceptBackoff
	}
	return current
}
