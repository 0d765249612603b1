package discovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"time"

	"github.com/Murali47k/pig3on/pkg/protocol"
)

// Scanner broadcasts one DISCOVER request and collects the replies.
type Scanner struct {
	Identity Identity
	// Port is the discovery port peers listen on.
	Port int
	// BroadcastAddr overrides DefaultBroadcastAddr, mostly for tests.
	BroadcastAddr string
	// FallbackPort is used when a reply does not carry a usable port.
	FallbackPort int
	Logger       *slog.Logger
}

// Scan sends a DISCOVER datagram and collects DISCOVER_RESPONSE replies for
// up to timeout. Replies from an address already seen are dropped, so the
// first response from each host wins. An empty result means no peers were
// found and is not an error. Malformed datagrams are logged at debug level
// and skipped.
func (s *Scanner) Scan(ctx context.Context, timeout time.Duration) ([]Device, error) {
	logger := s.logger()

	// Go enables SO_BROADCAST on every datagram socket it opens.
	var lc net.ListenConfig
	pc, err := lc.ListenPacket(ctx, "udp4", ":0")
	if err != nil {
		return nil, fmt.Errorf("open scan socket: %w", err)
	}
	defer pc.Close()

	target, err := net.ResolveUDPAddr("udp4", net.JoinHostPort(s.broadcastAddr(), strconv.Itoa(s.Port)))
	if err != nil {
		return nil, fmt.Errorf("resolve broadcast address: %w", err)
	}

	req, err := protocol.Encode(protocol.NewDiscover(s.Identity.Name, s.Identity.Version))
	if err != nil {
		return nil, err
	}
	if _, err := pc.WriteTo(req, target); err != nil {
		return nil, fmt.Errorf("send discover: %w", err)
	}
	logger.Debug("discover sent", "target", target.String())

	devices := make([]Device, 0)
	seen := make(map[string]struct{})
	deadline := time.Now().Add(timeout)
	buf := make([]byte, maxDatagramSize)

	for {
		if ctx.Err() != nil {
			return devices, ctx.Err()
		}
		now := time.Now()
		if !now.Before(deadline) {
			return devices, nil
		}
		wait := deadline
		if poll := now.Add(DefaultPollInterval); poll.Before(wait) {
			wait = poll
		}
		_ = pc.SetReadDeadline(wait)

		n, src, err := pc.ReadFrom(buf)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			if errors.Is(err, net.ErrClosed) {
				return devices, nil
			}
			logger.Debug("scan read failed", "error", err)
			continue
		}

		udpAddr, ok := src.(*net.UDPAddr)
		if !ok {
			continue
		}
		address := udpAddr.IP.String()
		if _, dup := seen[address]; dup {
			logger.Debug("duplicate discover response dropped", "address", address)
			continue
		}

		dev, ok := s.parseResponse(buf[:n], address)
		if !ok {
			continue
		}
		seen[address] = struct{}{}
		devices = append(devices, dev)
		logger.Debug("device discovered", "name", dev.Name, "address", dev.Address, "port", dev.Port)
	}
}

func (s *Scanner) parseResponse(data []byte, address string) (Device, bool) {
	msg, err := protocol.Decode(data)
	if err != nil {
		s.logger().Debug("malformed discovery datagram", "address", address, "error", err)
		return Device{}, false
	}
	if msg.Kind != protocol.KindDiscoverResponse {
		s.logger().Debug("ignoring discovery datagram", "address", address, "kind", msg.Describe())
		return Device{}, false
	}

	resp := msg.DiscoverResponse
	dev := Device{
		Name:    resp.Name,
		Address: address,
		Port:    resp.Port,
		Version: resp.Version,
	}
	if dev.Name == "" {
		dev.Name = unknownName
	}
	if dev.Port <= 0 || dev.Port > 65535 {
		dev.Port = s.FallbackPort
	}
	return dev, true
}

func (s *Scanner) broadcastAddr() string {
	if s.BroadcastAddr != "" {
		return s.BroadcastAddr
	}
	return DefaultBroadcastAddr
}

func (s *Scanner) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.New(slog.DiscardHandler)
}
