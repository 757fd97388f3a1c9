package sip

import (
	"context"
	"net/netip"
	"time"

	"braces.dev/errtrace"
)

// InboundRequestEnvelope carries a request received off the wire together with
// the transport-level context needed to route, match and respond to it.
type InboundRequestEnvelope struct {
	msg *Request
	tp  ServerTransport
}

func newInboundRequestEnvelope(req *Request, tp ServerTransport) *InboundRequestEnvelope {
	return &InboundRequestEnvelope{msg: req, tp: tp}
}

// Message returns the wrapped request.
func (e *InboundRequestEnvelope) Message() *Request {
	if e == nil {
		return nil
	}
	return e.msg
}

// AccessMessage calls fn with the wrapped request, allowing in-place edits.
func (e *InboundRequestEnvelope) AccessMessage(fn func(*Request)) {
	if e == nil || fn == nil {
		return
	}
	fn(e.msg)
}

// Method returns the wrapped request's method.
func (e *InboundRequestEnvelope) Method() RequestMethod {
	if e == nil || e.msg == nil {
		return ""
	}
	return e.msg.Method
}

// Headers returns the wrapped request's headers.
func (e *InboundRequestEnvelope) Headers() Headers {
	if e == nil || e.msg == nil {
		return nil
	}
	return e.msg.Headers
}

// Metadata returns the wrapped request's metadata.
func (e *InboundRequestEnvelope) Metadata() Metadata {
	if e == nil || e.msg == nil {
		return nil
	}
	return e.msg.MessageMetadata()
}

// IsValid returns whether the wrapped request is valid.
func (e *InboundRequestEnvelope) IsValid() bool {
	return e != nil && e.msg.IsValid()
}

// Validate validates the wrapped request. See [Request.Validate].
func (e *InboundRequestEnvelope) Validate() error {
	if e == nil {
		return NewInvalidArgumentError("invalid request")
	}
	return errtrace.Wrap(e.msg.Validate())
}

// NewResponse builds a response to the wrapped request. See [Request.NewResponse].
func (e *InboundRequestEnvelope) NewResponse(sts ResponseStatus, opts *ResponseOptions) (*OutboundResponseEnvelope, error) {
	if e == nil {
		return nil, NewInvalidArgumentError("invalid request")
	}
	res, err := e.msg.NewResponse(sts, opts)
	if err != nil {
		return nil, errtrace.Wrap(err)
	}
	return &OutboundResponseEnvelope{msg: res}, nil
}

// Equal returns whether the envelope wraps a request equal to val, which may
// be a *Request, a Request or another *InboundRequestEnvelope.
func (e *InboundRequestEnvelope) Equal(val any) bool {
	if e2, ok := val.(*InboundRequestEnvelope); ok {
		val = e2.Message()
	}
	return e.Message().Equal(val)
}

// Render renders the wrapped request to its wire format.
func (e *InboundRequestEnvelope) Render(_ any) string {
	return e.Message().RenderMessage()
}

// Transport returns the protocol of the transport the request was received on.
func (e *InboundRequestEnvelope) Transport() TransportProto {
	if e == nil {
		return ""
	}
	if proto, ok := GetTransportProto(e.tp); ok {
		return proto
	}
	proto, _ := msgTransport(e.msg)
	return proto
}

// LocalAddr returns the local address the request was received on.
func (e *InboundRequestEnvelope) LocalAddr() netip.AddrPort {
	if e == nil {
		return zeroAddrPort
	}
	if addr, ok := GetTransportLocalAddr(e.tp); ok {
		return addr
	}
	addr, _ := msgLocalAddr(e.msg)
	return addr
}

// RemoteAddr returns the address the request was received from.
func (e *InboundRequestEnvelope) RemoteAddr() netip.AddrPort {
	addr, _ := msgRemoteAddr(e.Message())
	return addr
}

// MessageTime returns the time the request was received, if recorded.
func (e *InboundRequestEnvelope) MessageTime() time.Time {
	if e == nil || e.msg == nil {
		return time.Time{}
	}
	if v, ok := e.msg.MessageMetadata().Get(RequestTstampField); ok {
		if t, ok := v.(time.Time); ok {
			return t
		}
	}
	return time.Time{}
}

// InboundResponseEnvelope carries a response received off the wire together
// with the transport-level context needed to route and match it.
type InboundResponseEnvelope struct {
	msg *Response
	tp  ClientTransport
}

func newInboundResponseEnvelope(res *Response, tp ClientTransport) *InboundResponseEnvelope {
	return &InboundResponseEnvelope{msg: res, tp: tp}
}

// Message returns the wrapped response.
func (e *InboundResponseEnvelope) Message() *Response {
	if e == nil {
		return nil
	}
	return e.msg
}

// AccessMessage calls fn with the wrapped response, allowing in-place edits.
func (e *InboundResponseEnvelope) AccessMessage(fn func(*Response)) {
	if e == nil || fn == nil {
		return
	}
	fn(e.msg)
}

// Status returns the wrapped response's status.
func (e *InboundResponseEnvelope) Status() ResponseStatus {
	if e == nil || e.msg == nil {
		return 0
	}
	return e.msg.Status
}

// Headers returns the wrapped response's headers.
func (e *InboundResponseEnvelope) Headers() Headers {
	if e == nil || e.msg == nil {
		return nil
	}
	return e.msg.Headers
}

// Metadata returns the wrapped response's metadata.
func (e *InboundResponseEnvelope) Metadata() Metadata {
	if e == nil || e.msg == nil {
		return nil
	}
	return e.msg.MessageMetadata()
}

// IsValid returns whether the wrapped response is valid.
func (e *InboundResponseEnvelope) IsValid() bool {
	return e != nil && e.msg.IsValid()
}

// Validate validates the wrapped response. See [Response.Validate].
func (e *InboundResponseEnvelope) Validate() error {
	if e == nil {
		return NewInvalidArgumentError("invalid response")
	}
	return errtrace.Wrap(e.msg.Validate())
}

// Equal returns whether the envelope wraps a response equal to val, which may
// be a *Response, a Response or another *InboundResponseEnvelope.
func (e *InboundResponseEnvelope) Equal(val any) bool {
	if e2, ok := val.(*InboundResponseEnvelope); ok {
		val = e2.Message()
	}
	return e.Message().Equal(val)
}

// Render renders the wrapped response to its wire format.
func (e *InboundResponseEnvelope) Render(_ any) string {
	return e.Message().RenderMessage()
}

// Transport returns the protocol of the transport the response was received on.
func (e *InboundResponseEnvelope) Transport() TransportProto {
	if e == nil {
		return ""
	}
	if proto, ok := GetTransportProto(e.tp); ok {
		return proto
	}
	proto, _ := msgTransport(e.msg)
	return proto
}

// LocalAddr returns the local address the response was received on.
func (e *InboundResponseEnvelope) LocalAddr() netip.AddrPort {
	if e == nil {
		return zeroAddrPort
	}
	if addr, ok := GetTransportLocalAddr(e.tp); ok {
		return addr
	}
	addr, _ := msgLocalAddr(e.msg)
	return addr
}

// RemoteAddr returns the address the response was received from.
func (e *InboundResponseEnvelope) RemoteAddr() netip.AddrPort {
	addr, _ := msgRemoteAddr(e.Message())
	return addr
}

// MessageTime returns the time the response was received, if recorded.
func (e *InboundResponseEnvelope) MessageTime() time.Time {
	if e == nil || e.msg == nil {
		return time.Time{}
	}
	if v, ok := e.msg.MessageMetadata().Get(ResponseTstampField); ok {
		if t, ok := v.(time.Time); ok {
			return t
		}
	}
	return time.Time{}
}

// OutboundRequestEnvelope carries a request about to be sent, plus the
// transport routing hints (transport protocol, local and remote address)
// attached to its metadata.
type OutboundRequestEnvelope struct {
	msg *Request
}

// NewOutboundRequestEnvelope wraps req for sending.
func NewOutboundRequestEnvelope(req *Request) (*OutboundRequestEnvelope, error) {
	if req == nil {
		return nil, NewInvalidArgumentError("invalid request")
	}
	return &OutboundRequestEnvelope{msg: req}, nil
}

// Message returns the wrapped request.
func (e *OutboundRequestEnvelope) Message() *Request {
	if e == nil {
		return nil
	}
	return e.msg
}

// AccessMessage calls fn with the wrapped request, allowing in-place edits.
func (e *OutboundRequestEnvelope) AccessMessage(fn func(*Request)) {
	if e == nil || fn == nil {
		return
	}
	fn(e.msg)
}

// Method returns the wrapped request's method.
func (e *OutboundRequestEnvelope) Method() RequestMethod {
	if e == nil || e.msg == nil {
		return ""
	}
	return e.msg.Method
}

// Headers returns the wrapped request's headers.
func (e *OutboundRequestEnvelope) Headers() Headers {
	if e == nil || e.msg == nil {
		return nil
	}
	return e.msg.Headers
}

// Metadata returns the wrapped request's metadata.
func (e *OutboundRequestEnvelope) Metadata() Metadata {
	if e == nil || e.msg == nil {
		return nil
	}
	return e.msg.MessageMetadata()
}

// IsValid returns whether the wrapped request is valid.
func (e *OutboundRequestEnvelope) IsValid() bool {
	return e != nil && e.msg.IsValid()
}

// Validate validates the wrapped request. See [Request.Validate].
func (e *OutboundRequestEnvelope) Validate() error {
	if e == nil {
		return NewInvalidArgumentError("invalid request")
	}
	return errtrace.Wrap(e.msg.Validate())
}

// Equal returns whether the envelope wraps a request equal to val, which may
// be a *Request, a Request or another *OutboundRequestEnvelope.
func (e *OutboundRequestEnvelope) Equal(val any) bool {
	if e2, ok := val.(*OutboundRequestEnvelope); ok {
		val = e2.Message()
	}
	return e.Message().Equal(val)
}

// Render renders the wrapped request to its wire format.
func (e *OutboundRequestEnvelope) Render(_ any) string {
	return e.Message().RenderMessage()
}

// Transport returns the transport protocol recorded in the request's metadata, if any.
func (e *OutboundRequestEnvelope) Transport() TransportProto {
	proto, _ := msgTransport(e.Message())
	return proto
}

// SetTransport records the transport protocol the request must be sent through.
func (e *OutboundRequestEnvelope) SetTransport(proto TransportProto) {
	if e == nil || e.msg == nil {
		return
	}
	md := e.msg.MessageMetadata()
	md.Set(TransportField, proto)
	e.msg.SetMessageMetadata(md)
}

// LocalAddr returns the local address recorded in the request's metadata, if any.
func (e *OutboundRequestEnvelope) LocalAddr() netip.AddrPort {
	addr, _ := msgLocalAddr(e.Message())
	return addr
}

// SetLocalAddr records the local address the request must be sent from.
func (e *OutboundRequestEnvelope) SetLocalAddr(addr netip.AddrPort) {
	if e == nil || e.msg == nil {
		return
	}
	md := e.msg.MessageMetadata()
	md.Set(LocalAddrField, addr)
	e.msg.SetMessageMetadata(md)
}

// RemoteAddr returns the remote address recorded in the request's metadata, if any.
func (e *OutboundRequestEnvelope) RemoteAddr() netip.AddrPort {
	addr, _ := msgRemoteAddr(e.Message())
	return addr
}

// SetRemoteAddr records the remote address the request must be sent to,
// overriding the address(es) [ResponseAddrs]-style resolution would otherwise produce.
func (e *OutboundRequestEnvelope) SetRemoteAddr(addr netip.AddrPort) {
	if e == nil || e.msg == nil {
		return
	}
	md := e.msg.MessageMetadata()
	md.Set(RemoteAddrField, addr)
	e.msg.SetMessageMetadata(md)
}

// OutboundResponseEnvelope carries a response about to be sent, plus the
// transport routing hints attached to its metadata.
type OutboundResponseEnvelope struct {
	msg *Response
}

// NewOutboundResponseEnvelope wraps res for sending.
func NewOutboundResponseEnvelope(res *Response) (*OutboundResponseEnvelope, error) {
	if res == nil {
		return nil, NewInvalidArgumentError("invalid response")
	}
	return &OutboundResponseEnvelope{msg: res}, nil
}

// Message returns the wrapped response.
func (e *OutboundResponseEnvelope) Message() *Response {
	if e == nil {
		return nil
	}
	return e.msg
}

// AccessMessage calls fn with the wrapped response, allowing in-place edits.
func (e *OutboundResponseEnvelope) AccessMessage(fn func(*Response)) {
	if e == nil || fn == nil {
		return
	}
	fn(e.msg)
}

// Status returns the wrapped response's status.
func (e *OutboundResponseEnvelope) Status() ResponseStatus {
	if e == nil || e.msg == nil {
		return 0
	}
	return e.msg.Status
}

// Headers returns the wrapped response's headers.
func (e *OutboundResponseEnvelope) Headers() Headers {
	if e == nil || e.msg == nil {
		return nil
	}
	return e.msg.Headers
}

// Metadata returns the wrapped response's metadata.
func (e *OutboundResponseEnvelope) Metadata() Metadata {
	if e == nil || e.msg == nil {
		return nil
	}
	return e.msg.MessageMetadata()
}

// IsValid returns whether the wrapped response is valid.
func (e *OutboundResponseEnvelope) IsValid() bool {
	return e != nil && e.msg.IsValid()
}

// Validate validates the wrapped response. See [Response.Validate].
func (e *OutboundResponseEnvelope) Validate() error {
	if e == nil {
		return NewInvalidArgumentError("invalid response")
	}
	return errtrace.Wrap(e.msg.Validate())
}

// Equal returns whether the envelope wraps a response equal to val, which may
// be a *Response, a Response or another *OutboundResponseEnvelope.
func (e *OutboundResponseEnvelope) Equal(val any) bool {
	if e2, ok := val.(*OutboundResponseEnvelope); ok {
		val = e2.Message()
	}
	return e.Message().Equal(val)
}

// Render renders the wrapped response to its wire format.
func (e *OutboundResponseEnvelope) Render(_ any) string {
	return e.Message().RenderMessage()
}

// Transport returns the transport protocol recorded in the response's metadata, if any.
func (e *OutboundResponseEnvelope) Transport() TransportProto {
	proto, _ := msgTransport(e.Message())
	return proto
}

// SetTransport records the transport protocol the response must be sent through.
func (e *OutboundResponseEnvelope) SetTransport(proto TransportProto) {
	if e == nil || e.msg == nil {
		return
	}
	md := e.msg.MessageMetadata()
	md.Set(TransportField, proto)
	e.msg.SetMessageMetadata(md)
}

// LocalAddr returns the local address recorded in the response's metadata, if any.
func (e *OutboundResponseEnvelope) LocalAddr() netip.AddrPort {
	addr, _ := msgLocalAddr(e.Message())
	return addr
}

// SetLocalAddr records the local address the response must be sent from.
func (e *OutboundResponseEnvelope) SetLocalAddr(addr netip.AddrPort) {
	if e == nil || e.msg == nil {
		return
	}
	md := e.msg.MessageMetadata()
	md.Set(LocalAddrField, addr)
	e.msg.SetMessageMetadata(md)
}

// RemoteAddr returns the remote address recorded in the response's metadata, if any.
func (e *OutboundResponseEnvelope) RemoteAddr() netip.AddrPort {
	addr, _ := msgRemoteAddr(e.Message())
	return addr
}

// SetRemoteAddr records the remote address the response must be sent to,
// overriding the RFC 3261 §18.2.2 / RFC 3263 §5 Via-derived resolution.
func (e *OutboundResponseEnvelope) SetRemoteAddr(addr netip.AddrPort) {
	if e == nil || e.msg == nil {
		return
	}
	md := e.msg.MessageMetadata()
	md.Set(RemoteAddrField, addr)
	e.msg.SetMessageMetadata(md)
}

// InboundRequest is an alias for [InboundRequestEnvelope].
type InboundRequest = InboundRequestEnvelope

// OutboundRequest is an alias for [OutboundRequestEnvelope].
type OutboundRequest = OutboundRequestEnvelope

// InboundResponse is an alias for [InboundResponseEnvelope].
type InboundResponse = InboundResponseEnvelope

// OutboundResponse is an alias for [OutboundResponseEnvelope].
type OutboundResponse = OutboundResponseEnvelope

// NewInboundRequest wraps req as received on localAddr from remoteAddr.
func NewInboundRequest(req *Request, localAddr, remoteAddr netip.AddrPort) *InboundRequestEnvelope {
	e := newInboundRequestEnvelope(req, nil)
	if req == nil {
		return e
	}
	md := req.MessageMetadata()
	md.Set(LocalAddrField, localAddr)
	md.Set(RemoteAddrField, remoteAddr)
	req.SetMessageMetadata(md)
	return e
}

// NewOutboundRequest wraps req for sending, discarding the construction error
// (req is non-nil in every caller that matters; callers that must validate
// user-supplied input should use [NewOutboundRequestEnvelope] instead).
func NewOutboundRequest(req *Request) *OutboundRequestEnvelope {
	e, _ := NewOutboundRequestEnvelope(req) //nolint:errcheck
	return e
}

// NewInboundResponse wraps res as received on localAddr from remoteAddr.
func NewInboundResponse(res *Response, localAddr, remoteAddr netip.AddrPort) *InboundResponseEnvelope {
	e := newInboundResponseEnvelope(res, nil)
	if res == nil {
		return e
	}
	md := res.MessageMetadata()
	md.Set(LocalAddrField, localAddr)
	md.Set(RemoteAddrField, remoteAddr)
	res.SetMessageMetadata(md)
	return e
}

// NewOutboundResponse wraps res for sending, discarding the construction
// error (see [NewOutboundRequest]).
func NewOutboundResponse(res *Response) *OutboundResponseEnvelope {
	e, _ := NewOutboundResponseEnvelope(res) //nolint:errcheck
	return e
}

// RequestReceiver receives inbound requests at the end of an interceptor chain.
type RequestReceiver interface {
	RecvRequest(ctx context.Context, req *InboundRequestEnvelope) error
}

// RequestReceiverFunc is a [RequestReceiver] implementation based on a function.
type RequestReceiverFunc func(ctx context.Context, req *InboundRequestEnvelope) error

func (fn RequestReceiverFunc) RecvRequest(ctx context.Context, req *InboundRequestEnvelope) error {
	return fn(ctx, req) //errtrace:skip
}

// ResponseReceiver receives inbound responses at the end of an interceptor chain.
type ResponseReceiver interface {
	RecvResponse(ctx context.Context, res *InboundResponseEnvelope) error
}

// ResponseReceiverFunc is a [ResponseReceiver] implementation based on a function.
type ResponseReceiverFunc func(ctx context.Context, res *InboundResponseEnvelope) error

func (fn ResponseReceiverFunc) RecvResponse(ctx context.Context, res *InboundResponseEnvelope) error {
	return fn(ctx, res) //errtrace:skip
}

// RequestSender sends outbound requests at the end of an interceptor chain.
type RequestSender interface {
	SendRequest(ctx context.Context, req *OutboundRequestEnvelope, opts *SendRequestOptions) error
}

// RequestSenderFunc is a [RequestSender] implementation based on a function.
type RequestSenderFunc func(ctx context.Context, req *OutboundRequestEnvelope, opts *SendRequestOptions) error

func (fn RequestSenderFunc) SendRequest(ctx context.Context, req *OutboundRequestEnvelope, opts *SendRequestOptions) error {
	return fn(ctx, req, opts) //errtrace:skip
}

// ResponseSender sends outbound responses at the end of an interceptor chain.
type ResponseSender interface {
	SendResponse(ctx context.Context, res *OutboundResponseEnvelope, opts *SendResponseOptions) error
}

// ResponseSenderFunc is a [ResponseSender] implementation based on a function.
type ResponseSenderFunc func(ctx context.Context, res *OutboundResponseEnvelope, opts *SendResponseOptions) error

func (fn ResponseSenderFunc) SendResponse(ctx context.Context, res *OutboundResponseEnvelope, opts *SendResponseOptions) error {
	return fn(ctx, res, opts) //errtrace:skip
}
