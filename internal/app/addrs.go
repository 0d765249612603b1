package app

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
)

// LocalAddrs lists the non-loopback IPv4 addresses peers can reach port
// on, falling back to loopback when the host has no such address.
func LocalAddrs(port int) []string {
	addrs := make([]string, 0)
	ifaces, err := net.InterfaceAddrs()
	if err == nil {
		for _, addr := range ifaces {
			ipnet, ok := addr.(*net.IPNet)
			if !ok || ipnet.IP == nil {
				continue
			}
			if ipnet.IP.IsLoopback() {
				continue
			}
			if ip4 := ipnet.IP.To4(); ip4 != nil {
				addrs = append(addrs, net.JoinHostPort(ip4.String(), strconv.Itoa(port)))
			}
		}
	}
	if len(addrs) == 0 {
		addrs = append(addrs, net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
	}
	return addrs
}

// FeedURL returns the websocket URL of the event feed served on addr.
func FeedURL(addr string) (string, error) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return "", fmt.Errorf("events address %q: %w", addr, err)
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "localhost"
	}
	u := url.URL{
		Scheme: "ws",
		Host:   net.JoinHostPort(host, port),
		Path:   "/events",
	}
	return u.String(), nil
}

// parseAddr splits a "host[:port]" target, using defaultPort when the
// port is missing.
func parseAddr(addr string, defaultPort int) (string, int, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		if defaultPort <= 0 {
			return "", 0, fmt.Errorf("address %q: %w", addr, err)
		}
		return addr, defaultPort, nil
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port < 1 || port > 65535 {
		return "", 0, fmt.Errorf("address %q: invalid port", addr)
	}
	if host == "" {
		return "", 0, fmt.Errorf("address %q: missing host", addr)
	}
	return host, port, nil
}
