// Package client asks an echoip server for the caller's public IPv4 address.
//
// A lookup is a single exchange: bind an ephemeral socket, send one empty
// probe, wait at most protocol.RecvTimeout for one reply from the exact server
// endpoint, decode it. There are no retries.
package client

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"time"

	"github.com/mjochimsen/echoip/internal/protocol"
)

// packetConn is the subset of *net.UDPConn a lookup needs.
type packetConn interface {
	WriteToUDPAddrPort(b []byte, addr netip.AddrPort) (int, error)
	ReadFromUDPAddrPort(b []byte) (int, netip.AddrPort, error)
	SetReadDeadline(t time.Time) error
	LocalAddr() net.Addr
	Close() error
}

// localEndpoint is the wildcard address the client binds to.
var localEndpoint = netip.AddrPortFrom(netip.IPv4Unspecified(), 0)

// recvTimeout is a variable so tests do not have to wait five seconds.
var recvTimeout = protocol.RecvTimeout

// listen opens the client socket.
var listen = func(laddr netip.AddrPort) (packetConn, error) {
	conn, err := net.ListenUDP("udp4", net.UDPAddrFromAddrPort(laddr))
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// Result contains the outcome of a successful lookup.
type Result struct {
	// Address is the caller's IPv4 address as seen by the server.
	Address netip.Addr

	// Server is the endpoint that answered.
	Server netip.AddrPort

	// Local is the ephemeral endpoint the probe was sent from.
	Local netip.AddrPort

	// RTT is the time between sending the probe and receiving the reply.
	RTT time.Duration
}

// Lookup performs one discovery exchange with server.
//
// Every failure is a *protocol.Error describing the step that failed. The
// wait for the reply ends after protocol.RecvTimeout, at ctx's deadline if
// that comes first, or when ctx is cancelled.
func Lookup(ctx context.Context, server netip.AddrPort) (*Result, error) {
	server = protocol.Endpoint(server.Addr(), server.Port())

	conn, err := listen(localEndpoint)
	if err != nil {
		return nil, protocol.NewError(protocol.BindFailure, localEndpoint, err)
	}
	defer conn.Close()

	return exchange(ctx, conn, server)
}

// exchange runs the send, receive and decode steps on an already bound socket.
func exchange(ctx context.Context, conn packetConn, server netip.AddrPort) (*Result, error) {
	local := localAddrPort(conn)

	deadline := time.Now().Add(recvTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := conn.SetReadDeadline(deadline); err != nil {
		return nil, protocol.NewError(protocol.ReceiveFailure, local, err)
	}

	// Cancellation forces the pending read to time out.
	stop := context.AfterFunc(ctx, func() {
		conn.SetReadDeadline(time.Unix(1, 0))
	})
	defer stop()

	start := time.Now()
	n, err := conn.WriteToUDPAddrPort([]byte{}, server)
	if err != nil {
		return nil, protocol.NewError(protocol.SendFailure, server, err)
	}
	if n != protocol.ProbeSize {
		return nil, protocol.NewSizeError(protocol.MismatchedSendSize, server, n, protocol.ProbeSize)
	}

	buf := make([]byte, protocol.ClientBufferSize)
	n, from, err := conn.ReadFromUDPAddrPort(buf)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = ctxErr
		}
		return nil, protocol.NewError(protocol.ReceiveFailure, local, err)
	}
	rtt := time.Since(start)

	from = protocol.Endpoint(from.Addr(), from.Port())
	if from != server {
		return nil, protocol.NewError(protocol.ReceiveFailure, local,
			fmt.Errorf("reply from unexpected sender %s", from))
	}

	addr, err := protocol.Decode(buf[:n])
	if err != nil {
		return nil, &protocol.Error{
			Kind:     protocol.MismatchedRecvSize,
			Addr:     server,
			Actual:   n,
			Expected: protocol.PayloadSize,
			Err:      err,
		}
	}

	return &Result{
		Address: addr,
		Server:  server,
		Local:   local,
		RTT:     rtt,
	}, nil
}

// localAddrPort returns the socket's bound endpoint, or the zero value.
func localAddrPort(conn packetConn) netip.AddrPort {
	if udp, ok := conn.LocalAddr().(*net.UDPAddr); ok {
		ap := udp.AddrPort()
		return netip.AddrPortFrom(ap.Addr().Unmap(), ap.Port())
	}
	return netip.AddrPort{}
}
