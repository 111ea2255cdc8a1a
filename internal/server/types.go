// Package server defines shared identifier types, wire strings, sentinel errors
// and utility helpers that are reused across session, registry and transport logic.
package server

import (
	"errors"
	"io"
	"net"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// SessionID is the stable opaque handle of a connected session.
type SessionID string

// RoomID is the stable opaque handle of a room. Rooms are never addressed by
// position, so deleting one room cannot change the identity of another.
type RoomID string

func newSessionID() SessionID { return SessionID(uuid.NewString()) }

func newRoomID() RoomID { return RoomID(uuid.NewString()) }

// Server-to-client strings. These are part of the wire protocol and must not change.
const (
	promptNickname = "Input NickName!"
	promptRoomName = "Input RoomName!"
	promptMessage  = "Input Message!"

	serverFullMessage = "Server is full. Please try again later."
)

// RoomSummary is one line of the room listing.
type RoomSummary struct {
	ID    RoomID `json:"-"`
	Name  string `json:"name"`
	Size  int    `json:"size"`
	Owner string `json:"owner"`
}

// Sentinel errors returned by the registry and server.
var (
	ErrRoomNotFound    = errors.New("room not found")
	ErrSessionNotFound = errors.New("session not registered")
	ErrStaleRoom       = errors.New("session is not in the expected room")
	ErrSessionClosed   = errors.New("session closed")
	ErrServerFull      = errors.New("server is full")
	ErrServerStopped   = errors.New("server stopped")
	ErrAlreadyStarted  = errors.New("already started")
)

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
		return true
	}
	if websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived) {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "websocket: close sent") ||
		strings.Contains(errStr, "broken pipe") ||
		strings.Contains(errStr, "connection reset by peer")
}

// isTimeout reports whether err is a deadline expiry.
func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
