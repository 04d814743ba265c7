// Package portutil picks listening ports for the diffview server.
package portutil

import (
	"fmt"
	"math/rand/v2"
	"net"
	"strconv"
)

// Bounds of the IANA dynamic/private port range.
const (
	DynamicPortMin = 49152
	DynamicPortMax = 65535
)

// maxDynamicAttempts bounds how many random ports are probed before
// falling back to an OS-assigned one.
const maxDynamicAttempts = 20

// AllocatePort allocates an available port using OS assignment.
func AllocatePort(host string) (int, error) {
	listener, err := net.Listen("tcp", net.JoinHostPort(host, "0"))
	if err != nil {
		return 0, fmt.Errorf("failed to allocate port: %w", err)
	}
	defer func() {
		_ = listener.Close()
	}()

	addr := listener.Addr().(*net.TCPAddr)
	return addr.Port, nil
}

// PickDynamicPort returns a free port chosen at random from the dynamic range.
// When every probe is taken it falls back to AllocatePort.
func PickDynamicPort(host string) (int, error) {
	for range maxDynamicAttempts {
		port := DynamicPortMin + rand.IntN(DynamicPortMax-DynamicPortMin+1)
		if IsAvailable(host, port) {
			return port, nil
		}
	}
	return AllocatePort(host)
}

// IsAvailable reports whether host:port can be bound right now.
func IsAvailable(host string, port int) bool {
	listener, err := net.Listen("tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return false
	}
	_ = listener.Close()
	return true
}
