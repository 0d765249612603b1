package transport

import (
	"errors"
	"net"
	"time"

	"github.com/quic-go/quic-go"
)

const (
	// udpBufferSize is requested for the QUIC listener socket. Kernels may
	// cap it lower; that is not an error.
	udpBufferSize = 4 * 1024 * 1024
	minUDPBuffer  = 256 * 1024
	maxUDPBuffer  = 64 * 1024 * 1024

	defaultStreamWindow = 16 * 1024 * 1024
	minStreamWindow     = 1024 * 1024
	maxStreamWindow     = 256 * 1024 * 1024
)

// QUICConfig returns connection settings with the stream and connection
// receive windows clamped around streamWindow. A pairing uses one stream,
// so the connection window matches the stream window.
func QUICConfig(streamWindow int) *quic.Config {
	win := uint64(clamp(streamWindow, minStreamWindow, maxStreamWindow))
	initial := win
	if initial > 4*1024*1024 {
		initial = 4 * 1024 * 1024
	}
	return &quic.Config{
		KeepAlivePeriod:                10 * time.Second,
		MaxIdleTimeout:                 30 * time.Second,
		MaxIncomingStreams:             1,
		InitialStreamReceiveWindow:     initial,
		MaxStreamReceiveWindow:         win,
		InitialConnectionReceiveWindow: initial,
		MaxConnectionReceiveWindow:     win,
	}
}

// DefaultQUICConfig returns the connection settings used on both sides.
func DefaultQUICConfig() *quic.Config {
	return QUICConfig(defaultStreamWindow)
}

// tuneUDPBuffers raises the socket buffers of a UDP PacketConn. It is best
// effort: the returned error only describes what the kernel refused.
func tuneUDPBuffers(conn net.PacketConn, size int) error {
	udp, ok := conn.(*net.UDPConn)
	if !ok {
		return errors.New("not a UDP socket")
	}
	size = clamp(size, minUDPBuffer, maxUDPBuffer)
	return errors.Join(udp.SetReadBuffer(size), udp.SetWriteBuffer(size))
}

func clamp(n, lo, hi int) int {
	if n < lo {
		return lo
	}
	if n > hi {
		return hi
	}
	return n
}
