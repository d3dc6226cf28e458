package bridge

import (
	"context"
	"errors"
	"sync"
)

// ErrClosed is returned by Send and Receive once a channel is closed.
var ErrClosed = errors.New("bridge: channel closed")

// Conn is one end of a message channel. Send and Receive may be called
// concurrently with each other, but each from at most one goroutine.
type Conn interface {
	Send(ctx context.Context, m Message) error
	// Receive blocks for the next message. A *DecodeError leaves the
	// channel usable; any other error ends it.
	Receive(ctx context.Context) (Message, error)
	Close() error
}

const pipeBuffer = 16

// Pipe returns two connected in-memory ends. Messages are passed by
// pointer without serialization. Closing either end closes both.
func Pipe() (Conn, Conn) {
	ab := make(chan Message, pipeBuffer)
	ba := make(chan Message, pipeBuffer)
	shared := &pipeState{done: make(chan struct{})}
	return &pipeConn{in: ba, out: ab, state: shared},
		&pipeConn{in: ab, out: ba, state: shared}
}

type pipeState struct {
	once sync.Once
	done chan struct{}
}

type pipeConn struct {
	in    <-chan Message
	out   chan<- Message
	state *pipeState
}

func (c *pipeConn) Send(ctx context.Context, m Message) error {
	select {
	case <-c.state.done:
		return ErrClosed
	default:
	}
	m.stamp()
	select {
	case c.out <- m:
		return nil
	case <-c.state.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *pipeConn) Receive(ctx context.Context) (Message, error) {
	select {
	case m := <-c.in:
		return m, nil
	case <-c.state.done:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *pipeConn) Close() error {
	c.state.once.Do(func() { close(c.state.done) })
	return nil
}
