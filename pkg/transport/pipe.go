package transport

import (
	"context"
	"sync"
)

// pipeBuffer is the per-direction message buffer of an in-memory pipe.
const pipeBuffer = 64

// NewPipe creates a connected in-memory stream pair. Messages sent on one
// end arrive on the other in order. Used by tests and embedded backends.
func NewPipe() (*PipeEnd, *PipeEnd) {
	aToB := make(chan []byte, pipeBuffer)
	bToA := make(chan []byte, pipeBuffer)
	closed := make(chan struct{})
	once := &sync.Once{}

	a := &PipeEnd{send: aToB, recv: bToA, closed: closed, closeOnce: once}
	b := &PipeEnd{send: bToA, recv: aToB, closed: closed, closeOnce: once}
	return a, b
}

// PipeEnd is one end of an in-memory duplex stream.
// Closing either end closes both.
type PipeEnd struct {
	send chan []byte
	recv chan []byte

	closed    chan struct{}
	closeOnce *sync.Once
}

// Send sends one message to the peer end.
func (p *PipeEnd) Send(data []byte) error {
	// Copy so the caller can reuse its buffer.
	msg := make([]byte, len(data))
	copy(msg, data)

	select {
	case <-p.closed:
		return ErrStreamClosed
	case p.send <- msg:
		return nil
	}
}

// Receive blocks for the next message from the peer end.
func (p *PipeEnd) Receive(ctx context.Context) ([]byte, error) {
	// Drain buffered messages even after close so nothing is lost.
	select {
	case msg := <-p.recv:
		return msg, nil
	default:
	}

	select {
	case msg := <-p.recv:
		return msg, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-p.closed:
		return nil, ErrStreamClosed
	}
}

// Close closes both ends of the pipe. Idempotent.
func (p *PipeEnd) Close() error {
	p.closeOnce.Do(func() {
		close(p.closed)
	})
	return nil
}
