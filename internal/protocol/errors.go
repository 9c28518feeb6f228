package protocol

import (
	"errors"
	"fmt"
	"net/netip"
)

// Kind identifies one failure in the closed set shared by client and server.
//
// Kind implements error so that a wrapped *Error can be matched with
// errors.Is(err, protocol.ReceiveFailure).
type Kind uint8

const (
	// BindFailure means the local or listening socket could not be bound.
	BindFailure Kind = iota + 1

	// SendFailure means the transport rejected an outgoing datagram.
	SendFailure

	// MismatchedSendSize means the transport accepted a datagram with the wrong byte count.
	MismatchedSendSize

	// ReceiveFailure covers transport errors, timeouts and replies from an
	// unexpected sender.
	ReceiveFailure

	// MismatchedRecvSize means a received payload cannot be decoded as an address.
	MismatchedRecvSize

	// InvalidAddress means a sender was not an IPv4 endpoint (server only).
	InvalidAddress
)

var kindNames = map[Kind]string{
	BindFailure:        "bind_failure",
	SendFailure:        "send_failure",
	MismatchedSendSize: "mismatched_send_size",
	ReceiveFailure:     "receive_failure",
	MismatchedRecvSize: "mismatched_recv_size",
	InvalidAddress:     "invalid_address",
}

// String returns the snake_case name used in logs and metric labels.
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Error implements error.
func (k Kind) Error() string {
	return k.String()
}

// Error is a protocol failure together with the endpoint it refers to.
type Error struct {
	Kind Kind

	// Addr is the endpoint the failure refers to. For a bind it is the
	// requested local endpoint, for a send the destination, for a receive
	// the local socket, for MismatchedRecvSize the server and for
	// InvalidAddress the offending sender. It may be the zero value when
	// the sender could not be expressed as an address and port.
	Addr netip.AddrPort

	// Actual and Expected are byte counts, set for the two size kinds only.
	Actual   int
	Expected int

	// Err is the underlying transport error, if any.
	Err error
}

// NewError returns an *Error of the given kind with an optional cause.
func NewError(kind Kind, addr netip.AddrPort, cause error) *Error {
	return &Error{Kind: kind, Addr: addr, Err: cause}
}

// NewSizeError returns a MismatchedSendSize or MismatchedRecvSize error.
func NewSizeError(kind Kind, addr netip.AddrPort, actual, expected int) *Error {
	return &Error{Kind: kind, Addr: addr, Actual: actual, Expected: expected}
}

func (e *Error) Error() string {
	addr := "unknown"
	if e.Addr.IsValid() {
		addr = e.Addr.String()
	}

	switch e.Kind {
	case BindFailure:
		return "unable to bind socket to " + addr
	case SendFailure:
		return "error sending data to " + addr
	case MismatchedSendSize:
		return fmt.Sprintf("sent %d of %d bytes to %s", e.Actual, e.Expected, addr)
	case ReceiveFailure:
		return "error receiving data on " + addr
	case MismatchedRecvSize:
		return fmt.Sprintf("received %d of %d bytes from %s", e.Actual, e.Expected, addr)
	case InvalidAddress:
		return "received invalid address " + addr
	default:
		return fmt.Sprintf("%s on %s", e.Kind, addr)
	}
}

// Unwrap returns the underlying transport error.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is the Kind of e.
func (e *Error) Is(target error) bool {
	k, ok := target.(Kind)
	return ok && k == e.Kind
}

// KindOf returns the Kind of the first *Error in err's chain, or 0.
func KindOf(err error) Kind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return 0
}
