package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"
)

// acceptPoll bounds each blocking Accept so cancellation is noticed.
const acceptPoll = time.Second

// TCP is the default transport.
type TCP struct{}

func (TCP) Name() string { return NameTCP }

// Dial connects to addr with TCP_NODELAY set.
func (TCP) Dial(ctx context.Context, addr string) (Conn, error) {
	ctx, cancel := withDialTimeout(ctx)
	defer cancel()

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	if tc, ok := conn.(*net.TCPConn); ok {
		_ = tc.SetNoDelay(true)
	}
	return conn, nil
}

// Listen binds a TCP listener on addr.
func (TCP) Listen(ctx context.Context, addr string) (Listener, error) {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}
	return &tcpListener{ln: ln.(*net.TCPListener)}, nil
}

type tcpListener struct {
	ln *net.TCPListener
}

func (l *tcpListener) Accept(ctx context.Context) (Conn, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		_ = l.ln.SetDeadline(time.Now().Add(acceptPoll))
		conn, err := l.ln.AcceptTCP()
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			return nil, err
		}
		_ = conn.SetNoDelay(true)
		return conn, nil
	}
}

func (l *tcpListener) Addr() net.Addr { return l.ln.Addr() }

func (l *tcpListener) Close() error { return l.ln.Close() }
