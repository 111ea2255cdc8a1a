package server

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/gorilla/websocket"
)

// Transport is a duplex frame stream owned by exactly one Session.
//
// ReadFrame and WriteFrame are each called from a single goroutine (the
// session's read pump and write pump respectively). Close and the deadline
// setters may be called from any goroutine.
type Transport interface {
	ReadFrame() ([]byte, error)
	WriteFrame(frame []byte) error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	RemoteAddr() string
	Close() error
}

// tcpTransport frames a net.Conn either by line or by single read.
type tcpTransport struct {
	conn     net.Conn
	framing  string
	maxFrame int
	scanner  *bufio.Scanner
	buf      []byte
}

// NewTCPTransport wraps conn using the given framing mode and frame size limit.
func NewTCPTransport(conn net.Conn, framing string, maxFrameSize int) Transport {
	if maxFrameSize <= 0 {
		maxFrameSize = defaultMaxFrameSize
	}

	t := &tcpTransport{conn: conn, framing: framing, maxFrame: maxFrameSize}
	if framing == FramingRaw {
		t.buf = make([]byte, maxFrameSize)
		return t
	}

	t.framing = FramingLine
	t.scanner = bufio.NewScanner(conn)
	// room for the frame plus its "\r\n" terminator
	t.scanner.Buffer(make([]byte, 0, maxFrameSize+2), maxFrameSize+2)
	return t
}

func (t *tcpTransport) ReadFrame() ([]byte, error) {
	if t.framing == FramingRaw {
		return t.readRaw()
	}
	return t.readLine()
}

// readRaw returns whatever one read produced. A zero-length read is the
// peer's end-of-stream.
func (t *tcpTransport) readRaw() ([]byte, error) {
	n, err := t.conn.Read(t.buf)
	if n > 0 {
		frame := make([]byte, n)
		copy(frame, t.buf[:n])
		return frame, nil
	}
	if err == nil {
		err = io.EOF
	}
	return nil, err
}

func (t *tcpTransport) readLine() ([]byte, error) {
	if !t.scanner.Scan() {
		if err := t.scanner.Err(); err != nil {
			return nil, fmt.Errorf("read line: %w", err)
		}
		return nil, io.EOF
	}

	line := t.scanner.Bytes()
	if len(line) > t.maxFrame {
		return nil, fmt.Errorf("read line: %d bytes: %w", len(line), bufio.ErrTooLong)
	}
	frame := make([]byte, len(line))
	copy(frame, line)
	return frame, nil
}

func (t *tcpTransport) WriteFrame(frame []byte) error {
	if t.framing == FramingLine && (len(frame) == 0 || frame[len(frame)-1] != '\n') {
		out := make([]byte, 0, len(frame)+1)
		out = append(out, frame...)
		frame = append(out, '\n')
	}

	_, err := t.conn.Write(frame)
	return err
}

func (t *tcpTransport) SetReadDeadline(d time.Time) error  { return t.conn.SetReadDeadline(d) }
func (t *tcpTransport) SetWriteDeadline(d time.Time) error { return t.conn.SetWriteDeadline(d) }
func (t *tcpTransport) RemoteAddr() string                 { return t.conn.RemoteAddr().String() }
func (t *tcpTransport) Close() error                       { return t.conn.Close() }

// wsTransport maps one WebSocket message to one frame.
type wsTransport struct {
	conn *websocket.Conn
	addr string
}

const wsCloseGrace = 250 * time.Millisecond

// NewWebSocketTransport wraps an upgraded WebSocket connection.
func NewWebSocketTransport(conn *websocket.Conn, addr string, maxFrameSize int) Transport {
	if maxFrameSize <= 0 {
		maxFrameSize = defaultMaxFrameSize
	}
	conn.SetReadLimit(int64(maxFrameSize))
	if addr == "" {
		addr = conn.RemoteAddr().String()
	}
	return &wsTransport{conn: conn, addr: addr}
}

func (t *wsTransport) ReadFrame() ([]byte, error) {
	for {
		messageType, data, err := t.conn.ReadMessage()
		if err != nil {
			return nil, err
		}
		if messageType == websocket.TextMessage || messageType == websocket.BinaryMessage {
			return data, nil
		}
	}
}

func (t *wsTransport) WriteFrame(frame []byte) error {
	return t.conn.WriteMessage(websocket.TextMessage, frame)
}

func (t *wsTransport) SetReadDeadline(d time.Time) error  { return t.conn.SetReadDeadline(d) }
func (t *wsTransport) SetWriteDeadline(d time.Time) error { return t.conn.SetWriteDeadline(d) }
func (t *wsTransport) RemoteAddr() string                 { return t.addr }

// Close sends a normal-closure control frame before dropping the connection.
// WriteControl is safe to call concurrently with the write pump.
func (t *wsTransport) Close() error {
	_ = t.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(wsCloseGrace))
	return t.conn.Close()
}
