package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/neurondb/NeuronGateway/internal/frames"
)

const (
	DefaultWriteWait      = 10 * time.Second
	DefaultPongWait       = 60 * time.Second
	DefaultMaxMessageSize = 64 * 1024
)

// ErrClosed is returned by Send after Close
var ErrClosed = errors.New("transport closed")

// Options tunes a WebSocket transport
type Options struct {
	WriteWait      time.Duration
	PongWait       time.Duration
	MaxMessageSize int64
}

/* WebSocket adapts a gorilla connection to the registry transport: one writer at a time,
 * bounded writes, and a ping loop that keeps the read deadline moving. */
type WebSocket struct {
	conn *websocket.Conn
	opts Options

	mu     sync.Mutex
	closed bool
	done   chan struct{}

	// CloseCode and CloseText are sent in the close frame
	closeCode int
	closeText string
}

/* NewWebSocket wraps conn and starts its ping loop */
func NewWebSocket(conn *websocket.Conn, opts Options) *WebSocket {
	if opts.WriteWait <= 0 {
		opts.WriteWait = DefaultWriteWait
	}
	if opts.PongWait <= 0 {
		opts.PongWait = DefaultPongWait
	}
	if opts.MaxMessageSize <= 0 {
		opts.MaxMessageSize = DefaultMaxMessageSize
	}

	ws := &WebSocket{
		conn:      conn,
		opts:      opts,
		done:      make(chan struct{}),
		closeCode: websocket.CloseNormalClosure,
	}

	conn.SetReadLimit(opts.MaxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(opts.PongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(opts.PongWait))
	})

	go ws.pingLoop()
	return ws
}

// Send writes f as one JSON text message
func (w *WebSocket) Send(ctx context.Context, f frames.Frame) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrClosed
	}

	deadline := time.Now().Add(w.opts.WriteWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = w.conn.SetWriteDeadline(deadline)
	return w.conn.WriteJSON(f)
}

// Receive blocks for the next message. A binary message is reported as
// frames.ErrInvalidFormat and the connection stays usable; any other error means it is gone.
func (w *WebSocket) Receive() ([]byte, error) {
	msgType, data, err := w.conn.ReadMessage()
	if err != nil {
		return nil, err
	}
	if msgType != websocket.TextMessage {
		return nil, fmt.Errorf("%w: binary messages are not supported", frames.ErrInvalidFormat)
	}
	return data, nil
}

// SetCloseStatus chooses the close code sent by Close
func (w *WebSocket) SetCloseStatus(code int, text string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closeCode = code
	w.closeText = text
}

// Close sends a close frame and closes the socket. Safe to call more than once.
func (w *WebSocket) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	close(w.done)

	_ = w.conn.SetWriteDeadline(time.Now().Add(w.opts.WriteWait))
	_ = w.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(w.closeCode, w.closeText))
	return w.conn.Close()
}

// IsPeerClose reports whether err from Receive means the connection ended normally:
// the peer closed it, dropped it, or this side closed it first
func IsPeerClose(err error) bool {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return true
	}
	return errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF)
}

/* pingLoop sends periodic pings until the transport closes */
func (w *WebSocket) pingLoop() {
	ticker := time.NewTicker((w.opts.PongWait * 9) / 10)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			w.mu.Lock()
			if w.closed {
				w.mu.Unlock()
				return
			}
			err := w.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(w.opts.WriteWait))
			w.mu.Unlock()
			if err != nil {
				return
			}
		case <-w.done:
			return
		}
	}
}
