// Package stuncheck asks a STUN server for the caller's mapped address.
//
// It is a cross-check for echoip results: a STUN binding response reports
// the same public endpoint an echoip server sees, plus the port.
package stuncheck

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"

	"gortc.io/stun"
)

// DefaultPort is the standard STUN port.
const DefaultPort = 3478

type result struct {
	addr netip.AddrPort
	err  error
}

// Lookup sends a binding request to server (host:port) and returns the
// XOR-mapped address from the response. Cancelling ctx abandons the request.
func Lookup(ctx context.Context, server string) (netip.AddrPort, error) {
	c, err := stun.Dial("udp4", server)
	if err != nil {
		return netip.AddrPort{}, fmt.Errorf("dial stun server %s: %w", server, err)
	}
	defer c.Close()

	done := make(chan result, 1)
	go func() {
		var res result
		message := stun.MustBuild(stun.TransactionID, stun.BindingRequest)
		err := c.Do(message, func(ev stun.Event) {
			if ev.Error != nil {
				res.err = ev.Error
				return
			}
			res.addr, res.err = mappedAddress(ev.Message)
		})
		if err != nil && res.err == nil {
			res.err = err
		}
		done <- res
	}()

	select {
	case res := <-done:
		if res.err != nil {
			return netip.AddrPort{}, fmt.Errorf("stun binding request to %s: %w", server, res.err)
		}
		return res.addr, nil
	case <-ctx.Done():
		return netip.AddrPort{}, ctx.Err()
	}
}

func mappedAddress(m *stun.Message) (netip.AddrPort, error) {
	if m == nil {
		return netip.AddrPort{}, errors.New("empty stun response")
	}

	var xorAddr stun.XORMappedAddress
	if err := xorAddr.GetFrom(m); err != nil {
		return netip.AddrPort{}, fmt.Errorf("read XOR-MAPPED-ADDRESS: %w", err)
	}

	ip, ok := netip.AddrFromSlice(xorAddr.IP)
	if !ok || xorAddr.Port < 0 || xorAddr.Port > 0xffff {
		return netip.AddrPort{}, fmt.Errorf("invalid mapped address %s", net.JoinHostPort(xorAddr.IP.String(), fmt.Sprint(xorAddr.Port)))
	}
	return netip.AddrPortFrom(ip.Unmap(), uint16(xorAddr.Port)), nil
}
