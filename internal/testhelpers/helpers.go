// Package testhelpers provides common utilities for testing the chat server
// over real TCP, WebSocket and HTTP connections.
package testhelpers

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

// DefaultTimeout bounds every blocking read or dial in the helpers.
const DefaultTimeout = 2 * time.Second

// TestOrigin is the Origin header sent by ConnectWebSocket.
const TestOrigin = "http://localhost:8080"

// LineClient is a line-framed TCP chat client.
type LineClient struct {
	t      *testing.T
	conn   net.Conn
	reader *bufio.Reader
}

// DialLine connects to addr and registers the connection for cleanup.
func DialLine(t *testing.T, addr string) *LineClient {
	t.Helper()

	conn, err := net.DialTimeout("tcp", addr, DefaultTimeout)
	require.NoError(t, err, "dial %s", addr)

	c := &LineClient{t: t, conn: conn, reader: bufio.NewReader(conn)}
	t.Cleanup(func() { _ = conn.Close() })
	return c
}

// Join dials addr and sends nickname as the first frame.
func Join(t *testing.T, addr, nickname string) *LineClient {
	t.Helper()

	c := DialLine(t, addr)
	c.Send(nickname)
	return c
}

// Conn exposes the underlying connection.
func (c *LineClient) Conn() net.Conn {
	return c.conn
}

// Send writes one frame terminated by a newline.
func (c *LineClient) Send(frame string) {
	c.t.Helper()

	require.NoError(c.t, c.conn.SetWriteDeadline(time.Now().Add(DefaultTimeout)))
	_, err := c.conn.Write([]byte(frame + "\n"))
	require.NoError(c.t, err, "send %q", frame)
}

// ReadLine returns the next line without its terminator.
func (c *LineClient) ReadLine(timeout time.Duration) (string, error) {
	if err := c.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return "", err
	}
	line, err := c.reader.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimSuffix(line, "\n"), nil
}

// Expect fails the test unless the next line equals want.
func (c *LineClient) Expect(want string) {
	c.t.Helper()

	got, err := c.ReadLine(DefaultTimeout)
	require.NoError(c.t, err, "waiting for %q", want)
	require.Equal(c.t, want, got)
}

// ExpectNoMessage fails the test if a line arrives within wait.
func (c *LineClient) ExpectNoMessage(wait time.Duration) {
	c.t.Helper()

	line, err := c.ReadLine(wait)
	if err == nil {
		c.t.Fatalf("expected no message, got %q", line)
	}
	var netErr net.Error
	require.True(c.t, errors.As(err, &netErr) && netErr.Timeout(), "expected timeout, got %v", err)
}

// ExpectClosed fails the test unless the server closes the connection.
func (c *LineClient) ExpectClosed() {
	c.t.Helper()

	for {
		_, err := c.ReadLine(DefaultTimeout)
		if err == nil {
			continue
		}
		var netErr net.Error
		require.False(c.t, errors.As(err, &netErr) && netErr.Timeout(), "connection still open")
		return
	}
}

// Close closes the connection.
func (c *LineClient) Close() {
	_ = c.conn.Close()
}

// ConnectWebSocket creates a WebSocket connection to the specified URL with
// the test origin header set.
func ConnectWebSocket(url string) (*websocket.Conn, error) {
	return ConnectWebSocketWithOrigin(url, TestOrigin)
}

// ConnectWebSocketWithOrigin dials url sending origin, or no Origin header
// when origin is empty.
func ConnectWebSocketWithOrigin(url, origin string) (*websocket.Conn, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: DefaultTimeout,
	}

	headers := http.Header{}
	if origin != "" {
		headers.Set("Origin", origin)
	}

	conn, resp, err := dialer.Dial(url, headers)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	return conn, err
}

// ReadText reads the next WebSocket message as a string.
func ReadText(conn *websocket.Conn, timeout time.Duration) (string, error) {
	if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return "", err
	}
	_, data, err := conn.ReadMessage()
	return string(data), err
}

// SendText writes one text message.
func SendText(conn *websocket.Conn, text string) error {
	return conn.WriteMessage(websocket.TextMessage, []byte(text))
}

// CloseWebSocket gracefully closes a WebSocket connection.
func CloseWebSocket(conn *websocket.Conn) error {
	err := conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	if err != nil {
		_ = conn.Close()
		return err
	}
	return conn.Close()
}

// MakeRequest creates and executes an HTTP request, returning the response.
func MakeRequest(t *testing.T, method, url string) *http.Response {
	t.Helper()

	client := &http.Client{Timeout: 5 * time.Second}

	req, err := http.NewRequest(method, url, http.NoBody)
	require.NoError(t, err, "create request")

	resp, err := client.Do(req)
	require.NoError(t, err, "perform request")
	return resp
}

// Eventually polls cond until it holds or the default timeout expires.
func Eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	require.Eventually(t, cond, DefaultTimeout, 10*time.Millisecond, msg)
}
