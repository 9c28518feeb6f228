package server

import (
	"net"
	"runtime"
	"testing"

	"golang.org/x/net/ipv4"

	"github.com/mjochimsen/echoip/internal/logging"
)

func TestReplyControl(t *testing.T) {
	tests := []struct {
		name    string
		pin     bool
		cm      *ipv4.ControlMessage
		wantSrc string
	}{
		{"loopback destination", true, &ipv4.ControlMessage{Dst: net.IPv4(127, 0, 0, 1)}, "127.0.0.1"},
		{"global destination", true, &ipv4.ControlMessage{Dst: net.IPv4(192, 0, 2, 7)}, "192.0.2.7"},
		{"no control message", true, nil, ""},
		{"no destination", true, &ipv4.ControlMessage{}, ""},
		{"broadcast destination", true, &ipv4.ControlMessage{Dst: net.IPv4bcast}, ""},
		{"multicast destination", true, &ipv4.ControlMessage{Dst: net.IPv4(224, 0, 0, 1)}, ""},
		{"unspecified destination", true, &ipv4.ControlMessage{Dst: net.IPv4zero}, ""},
		{"pinning disabled", false, &ipv4.ControlMessage{Dst: net.IPv4(127, 0, 0, 1)}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &packetConn{pinSource: tt.pin}

			got := c.replyControl(tt.cm)
			if tt.wantSrc == "" {
				if got != nil {
					t.Errorf("replyControl() = %+v, want nil", got)
				}
				return
			}
			if got == nil {
				t.Fatalf("replyControl() = nil, want Src %s", tt.wantSrc)
			}
			if got.Src.String() != tt.wantSrc {
				t.Errorf("Src = %s, want %s", got.Src, tt.wantSrc)
			}
			if got.Dst != nil {
				t.Errorf("Dst = %s, want unset", got.Dst)
			}
		})
	}
}

func TestNewPacketConn_PinsOnlyWildcard(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("IPv4 packet info is only asserted on Linux")
	}

	wildcard, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4zero})
	if err != nil {
		t.Fatalf("ListenUDP() error = %v", err)
	}
	defer wildcard.Close()

	if c := newPacketConn(wildcard, true, logging.NopLogger()); !c.pinSource {
		t.Error("pinSource = false for a wildcard bind, want true")
	}

	bound, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("ListenUDP() error = %v", err)
	}
	defer bound.Close()

	if c := newPacketConn(bound, false, logging.NopLogger()); c.pinSource {
		t.Error("pinSource = true for a specific address, want false")
	}
}
