//go:build !(linux || darwin || freebsd || netbsd || openbsd || dragonfly)

package server

import (
	"errors"
	"syscall"
)

// listenControl fails the bind when SO_REUSEPORT is requested, since this
// platform cannot share a UDP port between processes.
func listenControl(reusePort bool) func(network, address string, c syscall.RawConn) error {
	if !reusePort {
		return nil
	}

	return func(network, address string, c syscall.RawConn) error {
		return errors.New("SO_REUSEPORT is not supported on this platform")
	}
}
