// Package protocol defines the echoip wire format and the failure taxonomy
// shared by the client and the server.
//
// A request is a zero-length UDP datagram. The response is a 4-byte datagram
// holding the big-endian octets of the request's IPv4 source address, sent
// back to the exact source address and port.
package protocol

import (
	"fmt"
	"net/netip"
	"time"
)

const (
	// DefaultPort is the UDP port used when none is configured.
	DefaultPort uint16 = 5300

	// ProbeSize is the payload size of a request.
	ProbeSize = 0

	// PayloadSize is the payload size of a response.
	PayloadSize = 4

	// ServerBufferSize bounds what the server reads from a request. Larger
	// datagrams are truncated by the kernel and still answered.
	ServerBufferSize = 8

	// ClientBufferSize is large enough to detect an oversized response.
	ClientBufferSize = 16

	// RecvTimeout bounds how long a client waits for the response.
	RecvTimeout = 5 * time.Second
)

// LengthError is returned by Decode when the payload is not PayloadSize bytes.
type LengthError struct {
	Actual   int
	Expected int
}

func (e *LengthError) Error() string {
	return fmt.Sprintf("%d bytes of address data, expected %d bytes", e.Actual, e.Expected)
}

// Encode returns the four octets of addr in network order.
// IPv4-mapped IPv6 addresses are unmapped first; addr must be IPv4.
func Encode(addr netip.Addr) [PayloadSize]byte {
	return addr.Unmap().As4()
}

// Decode interprets b as the four octets of an IPv4 address.
func Decode(b []byte) (netip.Addr, error) {
	if len(b) != PayloadSize {
		return netip.Addr{}, &LengthError{Actual: len(b), Expected: PayloadSize}
	}
	return netip.AddrFrom4([PayloadSize]byte(b)), nil
}

// ParseIPv4 parses s as a dotted-quad IPv4 address.
func ParseIPv4(s string) (netip.Addr, error) {
	addr, err := netip.ParseAddr(s)
	if err != nil {
		return netip.Addr{}, fmt.Errorf("invalid IP address %q: %w", s, err)
	}
	if !addr.Is4() {
		return netip.Addr{}, fmt.Errorf("not an IPv4 address: %s", s)
	}
	return addr, nil
}

// Endpoint builds the address and port pair a client sends to or a server
// listens on.
func Endpoint(addr netip.Addr, port uint16) netip.AddrPort {
	return netip.AddrPortFrom(addr.Unmap(), port)
}
