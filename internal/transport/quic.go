package transport

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net"
	"os"
	"sync"
	"time"

	"github.com/quic-go/quic-go"
)

// ALPNProtocol identifies pig3on pairing streams during the TLS handshake.
const ALPNProtocol = "pig3on-quic-v1"

// QUIC carries a pairing over one bidirectional QUIC stream. The acceptor
// opens the stream; the dialer picks it up when it first reads.
type QUIC struct {
	// Config overrides DefaultQUICConfig when set.
	Config *quic.Config
}

func (*QUIC) Name() string { return NameQUIC }

// ServerTLSConfig returns a TLS configuration with a fresh self-signed
// certificate. Pairing consent, not the certificate, authorizes a peer.
func ServerTLSConfig() (*tls.Config, error) {
	cert, err := generateSelfSignedCert()
	if err != nil {
		return nil, fmt.Errorf("generate certificate: %w", err)
	}
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		NextProtos:   []string{ALPNProtocol},
	}, nil
}

// ClientTLSConfig skips verification of the acceptor's self-signed certificate.
func ClientTLSConfig() *tls.Config {
	return &tls.Config{
		InsecureSkipVerify: true,
		NextProtos:         []string{ALPNProtocol},
	}
}

func (q *QUIC) config() *quic.Config {
	if q.Config != nil {
		return q.Config
	}
	return DefaultQUICConfig()
}

func generateSelfSignedCert() (tls.Certificate, error) {
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return tls.Certificate{}, err
	}

	host, _ := os.Hostname()
	template := x509.Certificate{
		SerialNumber:          big.NewInt(time.Now().UnixNano()),
		Subject:               pkix.Name{Organization: []string{"pig3on"}, CommonName: host},
		NotBefore:             time.Now().Add(-time.Minute),
		NotAfter:              time.Now().Add(24 * time.Hour),
		KeyUsage:              x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
	}

	certDER, err := x509.CreateCertificate(rand.Reader, &template, &template, &priv.PublicKey, priv)
	if err != nil {
		return tls.Certificate{}, err
	}
	return tls.Certificate{
		Certificate: [][]byte{certDER},
		PrivateKey:  priv,
	}, nil
}

// Listen binds a UDP socket on addr and serves QUIC on it.
func (q *QUIC) Listen(ctx context.Context, addr string) (Listener, error) {
	tlsConfig, err := ServerTLSConfig()
	if err != nil {
		return nil, err
	}

	var lc net.ListenConfig
	udpConn, err := lc.ListenPacket(ctx, "udp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}

	// quic-go warns on small buffers but works with them.
	_ = tuneUDPBuffers(udpConn, udpBufferSize)

	ln, err := quic.Listen(udpConn, tlsConfig, q.config())
	if err != nil {
		_ = udpConn.Close()
		return nil, fmt.Errorf("quic listen %s: %w", addr, err)
	}
	return &quicListener{ln: ln, udpConn: udpConn}, nil
}

// Dial completes the QUIC handshake with addr. The stream itself is
// accepted lazily, on the first Read or Write.
func (q *QUIC) Dial(ctx context.Context, addr string) (Conn, error) {
	dialCtx, cancel := withDialTimeout(ctx)
	defer cancel()

	conn, err := quic.DialAddr(dialCtx, addr, ClientTLSConfig(), q.config())
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	return &quicConn{conn: conn, open: conn.AcceptStream}, nil
}

type quicListener struct {
	ln      *quic.Listener
	udpConn net.PacketConn
}

func (l *quicListener) Accept(ctx context.Context) (Conn, error) {
	conn, err := l.ln.Accept(ctx)
	if err != nil {
		return nil, err
	}
	stream, err := conn.OpenStream()
	if err != nil {
		_ = conn.CloseWithError(0, "")
		return nil, fmt.Errorf("open stream: %w", err)
	}
	return &quicConn{conn: conn, stream: stream}, nil
}

func (l *quicListener) Addr() net.Addr { return l.ln.Addr() }

func (l *quicListener) Close() error {
	err := l.ln.Close()
	if cerr := l.udpConn.Close(); err == nil {
		err = cerr
	}
	return err
}

// quicConn adapts a QUIC connection and its single stream to Conn.
type quicConn struct {
	conn *quic.Conn
	open func(context.Context) (*quic.Stream, error)

	openMu sync.Mutex

	mu            sync.Mutex
	stream        *quic.Stream
	pending       *pendingAccept
	readDeadline  time.Time
	writeDeadline time.Time
}

// pendingAccept is a stream accept in progress on behalf of a Read or a
// Write. Its context ends when that direction's deadline passes, so moving
// the deadline also moves the accept.
type pendingAccept struct {
	read   bool
	cancel context.CancelFunc
	timer  *time.Timer
}

// arm schedules cancellation at t. The zero time disarms it.
func (p *pendingAccept) arm(t time.Time) {
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
	if t.IsZero() {
		return
	}
	d := time.Until(t)
	if d <= 0 {
		p.cancel()
		return
	}
	p.timer = time.AfterFunc(d, p.cancel)
}

func (c *quicConn) Read(p []byte) (int, error) {
	s, err := c.ensure(true)
	if err != nil {
		return 0, err
	}
	n, err := s.Read(p)
	return n, normalizeQUICError(err)
}

func (c *quicConn) Write(p []byte) (int, error) {
	s, err := c.ensure(false)
	if err != nil {
		return 0, err
	}
	n, err := s.Write(p)
	return n, normalizeQUICError(err)
}

func (c *quicConn) Close() error {
	c.mu.Lock()
	s := c.stream
	c.mu.Unlock()
	if s != nil {
		_ = s.Close()
	}
	return c.conn.CloseWithError(0, "")
}

func (c *quicConn) SetReadDeadline(t time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.readDeadline = t
	if c.stream != nil {
		return c.stream.SetReadDeadline(t)
	}
	if c.pending != nil && c.pending.read {
		c.pending.arm(t)
	}
	return nil
}

func (c *quicConn) SetWriteDeadline(t time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writeDeadline = t
	if c.stream != nil {
		return c.stream.SetWriteDeadline(t)
	}
	if c.pending != nil && !c.pending.read {
		c.pending.arm(t)
	}
	return nil
}

func (c *quicConn) RemoteAddr() net.Addr { return c.conn.RemoteAddr() }

// ensure returns the stream, accepting it from the peer first if needed.
// The accept honors the deadline of the direction asking for it, including
// changes made while it waits.
func (c *quicConn) ensure(read bool) (*quic.Stream, error) {
	c.mu.Lock()
	s := c.stream
	c.mu.Unlock()
	if s != nil {
		return s, nil
	}

	c.openMu.Lock()
	defer c.openMu.Unlock()

	c.mu.Lock()
	s = c.stream
	c.mu.Unlock()
	if s != nil {
		return s, nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p := &pendingAccept{read: read, cancel: cancel}
	c.mu.Lock()
	c.pending = p
	if read {
		p.arm(c.readDeadline)
	} else {
		p.arm(c.writeDeadline)
	}
	c.mu.Unlock()

	s, err := c.open(ctx)
	expired := ctx.Err() != nil

	c.mu.Lock()
	defer c.mu.Unlock()
	p.arm(time.Time{})
	c.pending = nil
	if err != nil {
		if expired {
			return nil, timeoutError{}
		}
		return nil, normalizeQUICError(err)
	}
	c.stream = s
	_ = s.SetReadDeadline(c.readDeadline)
	_ = s.SetWriteDeadline(c.writeDeadline)
	return s, nil
}

// normalizeQUICError reports a graceful close by the peer as io.EOF, the
// way a TCP connection would.
func normalizeQUICError(err error) error {
	var appErr *quic.ApplicationError
	if errors.As(err, &appErr) && appErr.Remote && appErr.ErrorCode == 0 {
		return io.EOF
	}
	return err
}

type timeoutError struct{}

func (timeoutError) Error() string   { return "i/o timeout" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return true }
