// Package discovery finds peers on the local network with a UDP broadcast
// request/response exchange and answers other peers' requests.
package discovery

import (
	"net"
	"strconv"
	"time"
)

const (
	// DefaultBroadcastAddr is the limited broadcast address scans are sent to.
	DefaultBroadcastAddr = "255.255.255.255"
	// DefaultPollInterval bounds how long a blocking read waits before the
	// stop signal is checked again.
	DefaultPollInterval = 1 * time.Second

	maxDatagramSize = 2048
	unknownName     = "Unknown"
)

// Identity is how this host presents itself to peers.
type Identity struct {
	Name    string
	Version string
}

// Device describes a peer found by a scan. Devices are compared by
// Address for de-duplication.
type Device struct {
	Name    string `json:"name"`
	Address string `json:"address"`
	Port    int    `json:"port"`
	Version string `json:"version"`
}

// HostPort returns the address the peer accepts pairing connections on.
func (d Device) HostPort() string {
	return net.JoinHostPort(d.Address, strconv.Itoa(d.Port))
}

func (d Device) String() string {
	return d.Name + " (" + d.Address + ")"
}
