//go:build unix

package discovery

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// setReuseAddr lets a restarted responder bind the discovery port while
// the previous socket is still being torn down.
func setReuseAddr(network, address string, c syscall.RawConn) error {
	var serr error
	if err := c.Control(func(fd uintptr) {
		serr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
	}); err != nil {
		return err
	}
	return serr
}
