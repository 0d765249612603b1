package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/Murali47k/pig3on/internal/discovery"
	"github.com/Murali47k/pig3on/internal/framing"
	"github.com/Murali47k/pig3on/internal/transport"
	"github.com/Murali47k/pig3on/pkg/protocol"
)

// DefaultTokenTimeout bounds the wait for the acceptor's pairing answer.
const DefaultTokenTimeout = 10 * time.Second

const tokenSize = len(protocol.TokenAccept)

// Pause bounds after a failed Accept, such as running out of descriptors.
const (
	minAcceptBackoff = 5 * time.Millisecond
	maxAcceptBackoff = time.Second
)

var (
	// ErrRejected means the acceptor declined the pairing.
	ErrRejected = errors.New("pairing rejected by peer")
	// ErrAlreadyConnected means a session is live or a pairing is pending.
	ErrAlreadyConnected = errors.New("already connected")
	// ErrNotConnected means there is no session to act on.
	ErrNotConnected = errors.New("not connected")
)

// ConsentFunc decides whether the host at remoteAddr may pair. It runs
// synchronously in the accept loop, so no other connection is considered
// while it blocks.
type ConsentFunc func(ctx context.Context, remoteAddr string) bool

// ServeFunc drives an accepted session until the peer leaves or ctx ends.
// The session is torn down when it returns.
type ServeFunc func(ctx context.Context, s *Session) error

// Manager holds at most one Session and performs the pairing handshake on
// both sides.
type Manager struct {
	deviceName   string
	transport    transport.Transport
	logger       *slog.Logger
	TokenTimeout time.Duration

	mu      sync.Mutex
	current *Session
	pending bool
}

// NewManager creates a connection manager for this host.
func NewManager(deviceName string, tr transport.Transport, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Manager{
		deviceName:   deviceName,
		transport:    tr,
		logger:       logger,
		TokenTimeout: DefaultTokenTimeout,
	}
}

// reserve claims the single pairing slot.
func (m *Manager) reserve() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current != nil || m.pending {
		return false
	}
	m.pending = true
	return true
}

func (m *Manager) commit(s *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending = false
	m.current = s
}

func (m *Manager) abandon() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending = false
}

// Connect pairs with dev as the initiator. It fails with
// ErrAlreadyConnected, without touching the network, if a session exists
// or another pairing is in flight.
func (m *Manager) Connect(ctx context.Context, dev discovery.Device) (*Session, error) {
	if !m.reserve() {
		return nil, ErrAlreadyConnected
	}

	logger := m.logger.With("peer", dev.String())
	logger.Info("connecting", "addr", dev.HostPort(), "transport", m.transport.Name())

	conn, err := m.transport.Dial(ctx, dev.HostPort())
	if err != nil {
		m.abandon()
		return nil, &framing.NetworkError{Op: "dial", Err: err}
	}

	token, err := m.readToken(ctx, conn)
	if err != nil {
		m.abandon()
		_ = conn.Close()
		return nil, err
	}

	switch token {
	case protocol.TokenAccept:
	case protocol.TokenReject:
		m.abandon()
		_ = conn.Close()
		logger.Warn("pairing rejected")
		return nil, ErrRejected
	default:
		m.abandon()
		_ = conn.Close()
		return nil, fmt.Errorf("%w: unexpected pairing token %q", framing.ErrProtocol, token)
	}

	s := newSession(conn, dev, connectionTypeFor(m.transport))
	m.commit(s)
	logger.Info("paired", "session_id", s.ID, "type", s.Type)
	return s, nil
}

// readToken reads the fixed-size pairing answer. ACCEPT and REJECT have the
// same length, so exactly tokenSize bytes are consumed.
func (m *Manager) readToken(ctx context.Context, conn transport.Conn) (string, error) {
	_ = conn.SetReadDeadline(time.Now().Add(m.tokenTimeout()))
	defer conn.SetReadDeadline(time.Time{})
	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetReadDeadline(time.Now())
	})
	defer stop()

	buf := make([]byte, tokenSize)
	if _, err := io.ReadFull(conn, buf); err != nil {
		if ctx.Err() != nil {
			return "", fmt.Errorf("pairing: %w", ctx.Err())
		}
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return "", fmt.Errorf("pairing: %w", framing.ErrConnectionClosed)
		}
		return "", &framing.NetworkError{Op: "read", Err: err}
	}
	return string(buf), nil
}

func (m *Manager) writeToken(conn transport.Conn, token string) error {
	_ = conn.SetWriteDeadline(time.Now().Add(m.tokenTimeout()))
	defer conn.SetWriteDeadline(time.Time{})
	if _, err := conn.Write([]byte(token)); err != nil {
		return &framing.NetworkError{Op: "write", Err: err}
	}
	return nil
}

func (m *Manager) tokenTimeout() time.Duration {
	if m.TokenTimeout > 0 {
		return m.TokenTimeout
	}
	return DefaultTokenTimeout
}

// Disconnect tears down the current session.
func (m *Manager) Disconnect() error {
	m.mu.Lock()
	s := m.current
	m.current = nil
	m.mu.Unlock()
	if s == nil {
		return ErrNotConnected
	}
	m.logger.Info("disconnected", "session_id", s.ID, "peer", s.Peer.String())
	_ = s.close()
	return nil
}

// Release tears s down if it is still the current session. Transfers call
// it after a fatal ConnectionClosed.
func (m *Manager) Release(s *Session) {
	m.mu.Lock()
	if m.current == s {
		m.current = nil
	}
	m.mu.Unlock()
	_ = s.close()
}

// Current returns the live session, or nil.
func (m *Manager) Current() *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Status reports the connection state.
func (m *Manager) Status() Status {
	st := Status{DeviceName: m.deviceName}
	s := m.Current()
	if s == nil {
		return st
	}
	st.Connected = true
	st.PeerName = s.Peer.Name
	if st.PeerName == "" {
		st.PeerName = "Unknown"
	}
	st.PeerAddress = s.Peer.Address
	st.ConnectionType = s.Type
	st.SessionID = s.ID
	return st
}

// Listen binds the pairing port and runs Serve on it.
func (m *Manager) Listen(ctx context.Context, port int, consent ConsentFunc, serve ServeFunc) error {
	ln, err := m.transport.Listen(ctx, ":"+strconv.Itoa(port))
	if err != nil {
		return err
	}
	return m.Serve(ctx, ln, consent, serve)
}

// Serve accepts pairing requests on ln until ctx is done. Each connection
// is answered ACCEPT or REJECT before the next one is taken; a connection
// arriving while a session exists is rejected without asking consent.
// Accepted sessions are handed to serve on their own goroutine. Serve
// closes ln and waits for those goroutines before returning.
func (m *Manager) Serve(ctx context.Context, ln transport.Listener, consent ConsentFunc, serve ServeFunc) error {
	defer ln.Close()
	m.logger.Info("listening for pairing", "addr", ln.Addr().String(), "transport", m.transport.Name())

	var wg sync.WaitGroup
	defer wg.Wait()

	var backoff time.Duration
	for {
		conn, err := ln.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			backoff = nextAcceptBackoff(backoff)
			m.logger.Warn("accept failed", "error", err, "retry_in", backoff)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(backoff):
			}
			continue
		}
		backoff = 0

		s, ok := m.pair(ctx, conn, consent)
		if !ok {
			continue
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			defer m.Release(s)
			if err := serve(ctx, s); err != nil && ctx.Err() == nil {
				m.logger.Warn("session ended with error", "session_id", s.ID, "error", err)
			}
		}()
	}
}

// pair runs the acceptor side of the handshake for one connection.
func (m *Manager) pair(ctx context.Context, conn transport.Conn, consent ConsentFunc) (*Session, bool) {
	remote := conn.RemoteAddr().String()
	logger := m.logger.With("remote", remote)

	if !m.reserve() {
		logger.Info("rejecting pairing: already paired")
		_ = m.writeToken(conn, protocol.TokenReject)
		_ = conn.Close()
		return nil, false
	}

	logger.Info("incoming pairing request")
	host, port := splitHostPort(remote)
	if consent == nil || !consent(ctx, host) {
		m.abandon()
		logger.Info("pairing rejected")
		_ = m.writeToken(conn, protocol.TokenReject)
		_ = conn.Close()
		return nil, false
	}

	if err := m.writeToken(conn, protocol.TokenAccept); err != nil {
		m.abandon()
		logger.Warn("pairing answer failed", "error", err)
		_ = conn.Close()
		return nil, false
	}

	s := newSession(conn, discovery.Device{Address: host, Port: port}, connectionTypeFor(m.transport))
	m.commit(s)
	logger.Info("paired", "session_id", s.ID, "type", s.Type)
	return s, true
}

// nextAcceptBackoff doubles the pause after a failed Accept, from
// minAcceptBackoff up to maxAcceptBackoff.
func nextAcceptBackoff(d time.Duration) time.Duration {
	if d == 0 {
		return minAcceptBackoff
	}
	if d *= 2; d > maxAcceptBackoff {
		return maxAcceptBackoff
	}
	return d
}

func splitHostPort(addr string) (string, int) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return addr, 0
	}
	port, _ := strconv.Atoi(portStr)
	return host, port
}
