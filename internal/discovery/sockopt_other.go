//go:build !unix

package discovery

import "syscall"

func setReuseAddr(network, address string, c syscall.RawConn) error { return nil }
