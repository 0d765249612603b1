// Package transport provides the stream connections a pairing runs over:
// plain TCP by default, or a single QUIC stream.
package transport

import (
	"context"
	"fmt"
	"io"
	"net"
	"time"
)

// DialTimeout bounds connection establishment when the caller's context
// carries no earlier deadline.
const DialTimeout = 10 * time.Second

const (
	NameTCP  = "tcp"
	NameQUIC = "quic"
)

// Conn is one bidirectional byte stream between two paired hosts.
type Conn interface {
	io.Reader
	io.Writer
	io.Closer
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	RemoteAddr() net.Addr
}

// Listener accepts incoming pairing connections.
type Listener interface {
	// Accept blocks until a connection arrives or ctx is done.
	Accept(ctx context.Context) (Conn, error)
	Addr() net.Addr
	Close() error
}

// Transport opens listeners and outgoing connections.
type Transport interface {
	Name() string
	Listen(ctx context.Context, addr string) (Listener, error)
	Dial(ctx context.Context, addr string) (Conn, error)
}

// New returns the transport registered under name. An empty name selects TCP.
func New(name string) (Transport, error) {
	switch name {
	case "", NameTCP:
		return TCP{}, nil
	case NameQUIC:
		return &QUIC{}, nil
	default:
		return nil, fmt.Errorf("unknown transport %q (want %s or %s)", name, NameTCP, NameQUIC)
	}
}

func withDialTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) < DialTimeout {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, DialTimeout)
}
