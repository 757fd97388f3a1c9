package sip

import (
	"net"

	"braces.dev/errtrace"
)

// NewTransportTCP listens on addr over TCP and wraps the resulting
// [net.Listener] in a [ReliableTransport].
func NewTransportTCP(addr string, opts *ReliableTransportOptions) (*ReliableTransport, error) {
	ls, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, errtrace.Wrap(err)
	}
	var o ReliableTransportOptions
	if opts != nil {
		o = *opts
	}
	o.Streamed = true
	return errtrace.Wrap2(NewReliableTransport("TCP", ls, &o))
}
