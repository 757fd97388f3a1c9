package sip

import (
	"net"

	"braces.dev/errtrace"
)

// NewTransportUDP listens on addr over UDP and wraps the resulting
// [net.PacketConn] in an [UnreliableTransport].
func NewTransportUDP(addr string, opts *UnreliableTransportOptions) (*UnreliableTransport, error) {
	conn, err := net.ListenPacket("udp", addr)
	if err != nil {
		return nil, errtrace.Wrap(err)
	}
	return errtrace.Wrap2(NewUnreliableTransport("UDP", conn, opts))
}
