package transport

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// WebSocket transport defaults.
const (
	// DefaultHandshakeTimeout is the default WebSocket handshake timeout.
	DefaultHandshakeTimeout = 10 * time.Second

	// DefaultMaxMessageSize is the default maximum message size (1 MB).
	DefaultMaxMessageSize = 1 << 20
)

// WSConfig configures the WebSocket transport.
type WSConfig struct {
	// URL is the backend stream endpoint (ws:// or wss://).
	URL string

	// AuthToken is sent as a bearer token during the handshake.
	// Authentication itself is the backend's concern; the transport
	// only carries the token.
	AuthToken string

	// HandshakeTimeout bounds the dial handshake (default: 10s).
	HandshakeTimeout time.Duration

	// MaxMessageSize is the maximum inbound message size (default: 1MB).
	MaxMessageSize int64
}

// WSDialer dials WebSocket streams to the backend.
type WSDialer struct {
	config WSConfig
}

// NewWSDialer creates a dialer for the given configuration.
func NewWSDialer(config WSConfig) (*WSDialer, error) {
	if config.URL == "" {
		return nil, fmt.Errorf("websocket dialer requires a URL")
	}
	if config.HandshakeTimeout == 0 {
		config.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if config.MaxMessageSize == 0 {
		config.MaxMessageSize = DefaultMaxMessageSize
	}
	return &WSDialer{config: config}, nil
}

// Dial opens a WebSocket stream. HTTP 401/403 handshake rejections are
// returned wrapped in ErrUnauthorized so callers skip retrying them.
func (d *WSDialer) Dial(ctx context.Context) (Stream, error) {
	dialer := &websocket.Dialer{
		HandshakeTimeout: d.config.HandshakeTimeout,
	}

	header := http.Header{}
	if d.config.AuthToken != "" {
		header.Set("Authorization", "Bearer "+d.config.AuthToken)
	}

	conn, resp, err := dialer.DialContext(ctx, d.config.URL, header)
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return nil, fmt.Errorf("%w: handshake rejected with status %d", ErrUnauthorized, resp.StatusCode)
		}
		return nil, fmt.Errorf("websocket dial failed: %w", err)
	}

	conn.SetReadLimit(d.config.MaxMessageSize)
	return &WSConn{conn: conn, closed: make(chan struct{})}, nil
}

// WSConn is a WebSocket-backed Stream. Each wire frame travels as one
// binary WebSocket message.
type WSConn struct {
	conn *websocket.Conn

	// Serializes writes; gorilla/websocket allows one concurrent writer.
	writeMu sync.Mutex

	closeOnce sync.Once
	closed    chan struct{}
}

// Send sends one binary message. Safe for concurrent use.
func (c *WSConn) Send(data []byte) error {
	select {
	case <-c.closed:
		return ErrStreamClosed
	default:
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := c.conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
		return fmt.Errorf("websocket send failed: %w", err)
	}
	return nil
}

// Receive blocks for the next binary message. A done context interrupts
// the read by forcing the read deadline.
func (c *WSConn) Receive(ctx context.Context) ([]byte, error) {
	if deadline, ok := ctx.Deadline(); ok {
		_ = c.conn.SetReadDeadline(deadline)
	} else {
		_ = c.conn.SetReadDeadline(time.Time{})
	}

	// Interrupt a blocked read when the context is cancelled.
	readDone := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			_ = c.conn.SetReadDeadline(time.Now())
		case <-readDone:
		}
	}()
	defer close(readDone)

	_, data, err := c.conn.ReadMessage()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		select {
		case <-c.closed:
			return nil, ErrStreamClosed
		default:
		}
		return nil, fmt.Errorf("websocket receive failed: %w", err)
	}
	return data, nil
}

// Close closes the connection. Idempotent.
func (c *WSConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		// Best effort close handshake before dropping the TCP connection.
		deadline := time.Now().Add(time.Second)
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		err = c.conn.Close()
	})
	return err
}
