// Package session owns the single live pairing between two hosts: the
// consent-gated handshake that creates it and the teardown that ends it.
package session

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Murali47k/pig3on/internal/discovery"
	"github.com/Murali47k/pig3on/internal/framing"
	"github.com/Murali47k/pig3on/internal/transport"
)

// ConnectionType describes the link a Session runs over.
type ConnectionType string

const (
	WiFi ConnectionType = "WiFi"
	QUIC ConnectionType = "QUIC"
)

func connectionTypeFor(tr transport.Transport) ConnectionType {
	if tr.Name() == transport.NameQUIC {
		return QUIC
	}
	return WiFi
}

// Session is one live paired connection. It is created by a Manager and
// borrowed by transfers; only the Manager closes it.
type Session struct {
	ID        string
	Peer      discovery.Device
	Type      ConnectionType
	CreatedAt time.Time

	conn    transport.Conn
	channel *framing.Channel

	closeOnce sync.Once
	done      chan struct{}
}

func newSession(conn transport.Conn, peer discovery.Device, typ ConnectionType) *Session {
	return &Session{
		ID:        uuid.NewString(),
		Peer:      peer,
		Type:      typ,
		CreatedAt: time.Now(),
		conn:      conn,
		channel:   framing.New(conn),
		done:      make(chan struct{}),
	}
}

// Channel returns the framed message channel for this session.
func (s *Session) Channel() *framing.Channel {
	return s.channel
}

// Connected reports whether the session is still usable.
func (s *Session) Connected() bool {
	select {
	case <-s.done:
		return false
	default:
		return true
	}
}

// Done is closed when the session has been torn down.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

func (s *Session) close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		err = s.conn.Close()
	})
	return err
}

// Status is a snapshot of the connection state for display.
type Status struct {
	DeviceName     string         `json:"device_name"`
	Connected      bool           `json:"connected"`
	PeerName       string         `json:"peer_name,omitempty"`
	PeerAddress    string         `json:"peer_address,omitempty"`
	ConnectionType ConnectionType `json:"connection_type,omitempty"`
	SessionID      string         `json:"session_id,omitempty"`
}
