package discovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"time"

	"golang.org/x/net/ipv4"

	"github.com/Murali47k/pig3on/pkg/protocol"
)

// Responder answers DISCOVER broadcasts on the discovery port with this
// host's name, transfer port and version.
type Responder struct {
	Identity Identity
	// Port is the UDP port to listen on. Zero picks an ephemeral port.
	Port int
	// TransferPort is advertised to scanners as the pairing port.
	TransferPort int
	PollInterval time.Duration
	Logger       *slog.Logger

	mu sync.Mutex
	pc *ipv4.PacketConn
	lc net.PacketConn
}

// Listen binds the discovery socket. It is safe to call Serve without
// Listen; Serve binds on first use.
func (r *Responder) Listen() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.lc != nil {
		return nil
	}

	lc := net.ListenConfig{Control: setReuseAddr}
	conn, err := lc.ListenPacket(context.Background(), "udp4", ":"+strconv.Itoa(r.Port))
	if err != nil {
		return fmt.Errorf("listen discovery port %d: %w", r.Port, err)
	}

	pc := ipv4.NewPacketConn(conn)
	if err := pc.SetControlMessage(ipv4.FlagDst|ipv4.FlagInterface, true); err != nil {
		r.logger().Debug("discovery control messages unavailable", "error", err)
	}
	r.lc = conn
	r.pc = pc
	return nil
}

// Addr returns the bound local address, or nil before Listen.
func (r *Responder) Addr() net.Addr {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.lc == nil {
		return nil
	}
	return r.lc.LocalAddr()
}

// Serve answers requests until ctx is done, then closes the socket.
// Reads wake up every PollInterval so cancellation is noticed promptly.
func (r *Responder) Serve(ctx context.Context) error {
	if err := r.Listen(); err != nil {
		return err
	}
	r.mu.Lock()
	pc := r.pc
	r.mu.Unlock()
	defer r.close()

	logger := r.logger()
	logger.Info("discovery responder listening", "addr", pc.LocalAddr().String())

	poll := r.PollInterval
	if poll <= 0 {
		poll = DefaultPollInterval
	}
	buf := make([]byte, maxDatagramSize)

	for {
		if ctx.Err() != nil {
			return nil
		}
		_ = pc.SetReadDeadline(time.Now().Add(poll))

		n, cm, src, err := pc.ReadFrom(buf)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			logger.Debug("discovery read failed", "error", err)
			continue
		}

		r.handle(pc, buf[:n], cm, src)
	}
}

// Run is Serve with errors logged instead of returned, for use as a
// background goroutine.
func (r *Responder) Run(ctx context.Context) {
	if err := r.Serve(ctx); err != nil {
		r.logger().Error("discovery responder stopped", "error", err)
	}
}

func (r *Responder) handle(pc *ipv4.PacketConn, data []byte, cm *ipv4.ControlMessage, src net.Addr) {
	logger := r.logger()

	msg, err := protocol.Decode(data)
	if err != nil {
		logger.Debug("malformed discovery datagram", "from", src.String(), "error", err)
		return
	}
	if msg.Kind != protocol.KindDiscover {
		logger.Debug("ignoring discovery datagram", "from", src.String(), "kind", msg.Describe())
		return
	}

	attrs := []any{"from", src.String(), "peer", msg.Discover.Name}
	if cm != nil {
		attrs = append(attrs, "dst", cm.Dst.String(), "ifindex", cm.IfIndex)
	}
	logger.Debug("discover received", attrs...)

	resp, err := protocol.Encode(protocol.NewDiscoverResponse(r.Identity.Name, r.TransferPort, r.Identity.Version))
	if err != nil {
		logger.Debug("encode discover response failed", "error", err)
		return
	}
	if _, err := pc.WriteTo(resp, nil, src); err != nil {
		logger.Debug("discover response failed", "to", src.String(), "error", err)
	}
}

func (r *Responder) close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.pc != nil {
		_ = r.pc.Close()
	}
	r.pc = nil
	r.lc = nil
}

func (r *Responder) logger() *slog.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return slog.New(slog.DiscardHandler)
}
