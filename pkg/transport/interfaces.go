package transport

import (
	"context"
	"errors"
)

// Transport errors.
var (
	// ErrStreamClosed indicates the stream has been closed.
	ErrStreamClosed = errors.New("stream closed")

	// ErrMessageTooLarge indicates a message exceeds the maximum size.
	ErrMessageTooLarge = errors.New("message too large")

	// ErrUnauthorized indicates the backend rejected the connection
	// credentials. Not retryable.
	ErrUnauthorized = errors.New("connection not authorized")
)

// Stream is a duplex, ordered, message-oriented connection to the
// backend's change-event source.
// Implemented by WSConn and PipeEnd.
type Stream interface {
	// Send sends one message. Safe for concurrent use.
	Send(data []byte) error

	// Receive blocks until the next message arrives, the context is
	// done, or the stream closes. Messages are delivered in arrival
	// order; Receive must not be called concurrently.
	Receive(ctx context.Context) ([]byte, error)

	// Close closes the stream. Idempotent.
	Close() error
}

// Dialer establishes a Stream to the backend.
// Implemented by WSDialer.
type Dialer interface {
	// Dial opens a new stream. An ErrUnauthorized-wrapped error marks
	// the failure as fatal (no retry).
	Dial(ctx context.Context) (Stream, error)
}

// Compile-time interface satisfaction checks.
var (
	_ Stream = (*WSConn)(nil)
	_ Stream = (*PipeEnd)(nil)
	_ Dialer = (*WSDialer)(nil)
)
