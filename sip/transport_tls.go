package sip

import (
	"crypto/tls"

	"braces.dev/errtrace"
)

// NewTransportTLS listens on addr over TLS/TCP and wraps the resulting
// [net.Listener] in a [ReliableTransport].
func NewTransportTLS(addr string, cfg *tls.Config, opts *ReliableTransportOptions) (*ReliableTransport, error) {
	ls, err := tls.Listen("tcp", addr, cfg)
	if err != nil {
		return nil, errtrace.Wrap(err)
	}

	var o ReliableTransportOptions
	if opts != nil {
		o = *opts
	}
	o.Streamed = true
	o.Secured = true
	return errtrace.Wrap2(NewReliableTransport("TLS", ls, &o))
}
