package server

import (
	"log/slog"
	"net"

	"golang.org/x/net/ipv4"

	"github.com/mjochimsen/echoip/internal/logging"
)

// datagramConn is the listening socket as seen by the receive loop.
type datagramConn interface {
	ReadFrom(b []byte) (n int, cm *ipv4.ControlMessage, src net.Addr, err error)
	WriteTo(b []byte, cm *ipv4.ControlMessage, dst net.Addr) (n int, err error)
	LocalAddr() net.Addr
	Close() error
}

// packetConn wraps the UDP socket with IPv4 packet info so that a server
// bound to 0.0.0.0 answers from the address the probe was sent to. Clients
// drop replies from any other source.
type packetConn struct {
	*ipv4.PacketConn
	pinSource bool
}

func newPacketConn(conn *net.UDPConn, wildcard bool, logger *slog.Logger) *packetConn {
	c := &packetConn{PacketConn: ipv4.NewPacketConn(conn)}
	if !wildcard {
		return c
	}

	if err := c.SetControlMessage(ipv4.FlagDst, true); err != nil {
		logger.Debug("reply source pinning unavailable, replies use the routing table source",
			logging.KeyError, err)
		return c
	}
	c.pinSource = true
	return c
}

// WriteTo sends b to dst. cm is the control message of the request being
// answered; its destination becomes the source of the reply.
func (c *packetConn) WriteTo(b []byte, cm *ipv4.ControlMessage, dst net.Addr) (int, error) {
	return c.PacketConn.WriteTo(b, c.replyControl(cm), dst)
}

// replyControl returns the control message for a reply to a request that
// arrived with cm, or nil to let the routing table pick the source.
func (c *packetConn) replyControl(cm *ipv4.ControlMessage) *ipv4.ControlMessage {
	if !c.pinSource || cm == nil || !isUnicast(cm.Dst) {
		return nil
	}
	return &ipv4.ControlMessage{Src: cm.Dst}
}

func isUnicast(ip net.IP) bool {
	return ip != nil && (ip.IsGlobalUnicast() || ip.IsLoopback())
}
