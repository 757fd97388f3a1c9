package sip

import (
	"bytes"
	"context"
	"errors"
	"io"
	"iter"
	"log/slog"
	"net"
	"net/netip"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"braces.dev/errtrace"

	"github.com/sipuastack/uacore/header"
	"github.com/sipuastack/uacore/internal/errorutil"
	"github.com/sipuastack/uacore/internal/types"
	"github.com/sipuastack/uacore/internal/util"
)

// transpImpl is implemented by the concrete transports ([ReliableTransport],
// [UnreliableTransport]) built on top of [baseTransp]. It supplies the
// protocol-specific parts of sending and serving; [baseTransp] supplies
// everything that is common: message rendering, Metadata bookkeeping, Via
// processing and callback dispatch.
type transpImpl interface {
	// writeTo writes buf to raddr, returning the local address the message
	// was actually sent from.
	writeTo(ctx context.Context, buf *bytes.Buffer, raddr netip.AddrPort, opts *transpWriteOpts) (netip.AddrPort, error)
	// serve runs the accept/read loop until the transport is closed.
	serve() error
	// close releases the transport's listener/connections.
	close() error
}

// transpWriteOpts customizes how [transpImpl.writeTo] resolves the
// connection used to send a message.
type transpWriteOpts struct {
	// noDialConn forbids dialing a new connection; the send fails with
	// [errNoConn] if no existing connection to raddr is tracked.
	noDialConn bool
}

// baseTransp implements the parts of [Transport] that don't depend on
// whether the underlying protocol is packet- or stream-oriented: request
// and response sending, Metadata tagging, RFC 3261 Via processing on
// inbound messages, and request/response callback dispatch.
type baseTransp struct {
	impl transpImpl

	ctx    context.Context
	cancel context.CancelFunc

	meta       TransportMetadata
	laddr      netip.AddrPort
	sentByHost string
	dnsRslvr   DNSResolver
	log        *slog.Logger

	closing   atomic.Bool
	closeOnce sync.Once
	closeErr  error

	onReq types.CallbackManager[InboundRequestHandler]
	onRes types.CallbackManager[InboundResponseHandler]

	inReqInts  types.CallbackManager[InboundRequestInterceptor]
	inResInts  types.CallbackManager[InboundResponseInterceptor]
	outReqInts types.CallbackManager[OutboundRequestInterceptor]
	outResInts types.CallbackManager[OutboundResponseInterceptor]
}

func newBaseTransp(
	ctx context.Context,
	impl transpImpl,
	meta TransportMetadata,
	laddr netip.AddrPort,
	sentByHost string,
	dnsRslvr DNSResolver,
	logger *slog.Logger,
) *baseTransp {
	ctx, cancel := context.WithCancel(ctx)
	return &baseTransp{
		impl:       impl,
		ctx:        ctx,
		cancel:     cancel,
		meta:       meta,
		laddr:      laddr,
		sentByHost: sentByHost,
		dnsRslvr:   dnsRslvr,
		log:        logger.With(TransportField, meta.Proto, LocalAddrField, laddr),
	}
}

func (tp *baseTransp) Proto() TransportProto   { return tp.meta.Proto }
func (tp *baseTransp) Network() string         { return tp.meta.Network }
func (tp *baseTransp) LocalAddr() netip.AddrPort { return tp.laddr }
func (tp *baseTransp) Reliable() bool          { return tp.meta.Reliable }
func (tp *baseTransp) Secured() bool           { return tp.meta.Secured }
func (tp *baseTransp) Streamed() bool          { return tp.meta.Streamed }
func (tp *baseTransp) DefaultPort() uint16     { return tp.meta.DefaultPort }

func (tp *baseTransp) isClosing() bool { return tp.closing.Load() }

func (tp *baseTransp) StatsID() StatsID { return StatsID(string(tp.meta.Proto) + ":" + tp.laddr.String()) }

func (tp *baseTransp) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Any(TransportField, tp.meta.Proto),
		slog.Any(LocalAddrField, tp.laddr),
	)
}

// OnRequest registers fn to be called for every inbound request accepted by
// this transport.
func (tp *baseTransp) OnRequest(fn InboundRequestHandler) (cancel func()) {
	return tp.onReq.Add(fn)
}

// OnResponse registers fn to be called for every inbound response accepted
// by this transport.
func (tp *baseTransp) OnResponse(fn InboundResponseHandler) (cancel func()) {
	return tp.onRes.Add(fn)
}

// UseInboundRequestInterceptor registers i to run on every inbound request
// before it reaches the handlers registered via [baseTransp.OnRequest].
func (tp *baseTransp) UseInboundRequestInterceptor(i InboundRequestInterceptor) (unbind func()) {
	return tp.inReqInts.Add(i)
}

// UseInboundResponseInterceptor registers i to run on every inbound response
// before it reaches the handlers registered via [baseTransp.OnResponse].
func (tp *baseTransp) UseInboundResponseInterceptor(i InboundResponseInterceptor) (unbind func()) {
	return tp.inResInts.Add(i)
}

// UseOutboundRequestInterceptor registers i to run on every outbound request
// before it is written to the network.
func (tp *baseTransp) UseOutboundRequestInterceptor(i OutboundRequestInterceptor) (unbind func()) {
	return tp.outReqInts.Add(i)
}

// UseOutboundResponseInterceptor registers i to run on every outbound
// response before it is written to the network.
func (tp *baseTransp) UseOutboundResponseInterceptor(i OutboundResponseInterceptor) (unbind func()) {
	return tp.outResInts.Add(i)
}

// Serve runs the transport's accept/read loop. It blocks until the
// transport is closed, ctx is canceled, or a non-recoverable error occurs.
func (tp *baseTransp) Serve(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() {
		tp.Close(context.Background()) //nolint:errcheck
	})
	defer stop()

	err := tp.impl.serve()
	if tp.isClosing() {
		return errtrace.Wrap(ErrTransportClosed)
	}
	return errtrace.Wrap(err)
}

// Close closes the transport, canceling its context and releasing its
// listener and tracked connections.
func (tp *baseTransp) Close(_ context.Context) error {
	tp.closeOnce.Do(func() {
		tp.closing.Store(true)
		tp.cancel()
		tp.closeErr = tp.impl.close()
	})
	return errtrace.Wrap(tp.closeErr)
}

// SendRequest renders req and writes it to the remote address recorded in
// its [Metadata] (see [RemoteAddrField]); the caller (transaction or dialog
// layer) is responsible for resolving that address before calling.
func (tp *baseTransp) SendRequest(ctx context.Context, req *OutboundRequestEnvelope, opts *SendRequestOptions) error {
	ctx = ContextWithTransport(ctx, tp.transportFacade())
	var chain []OutboundRequestInterceptor
	for i := range tp.outReqInts.All() {
		chain = append(chain, i)
	}
	sender := ChainOutboundRequest(chain, RequestSenderFunc(tp.sendReqNet))
	return errtrace.Wrap(sender.SendRequest(ctx, req, opts))
}

func (tp *baseTransp) sendReqNet(ctx context.Context, req *OutboundRequestEnvelope, opts *SendRequestOptions) error {
	msg := req.Message()
	if msg == nil || !msg.IsValid() {
		return errtrace.Wrap(ErrInvalidMessage)
	}
	raddr, ok := msgRemoteAddr(msg)
	if !ok {
		return errtrace.Wrap(ErrNoTarget)
	}
	return errtrace.Wrap(tp.sendMsg(ctx, msg, raddr, opts.timeout()))
}

// SendResponse renders res and writes it to the remote address recorded in
// its [Metadata], falling back to the address(es) derived from the topmost
// Via header per RFC 3261 §18.2.2 / RFC 3263 §5.
func (tp *baseTransp) SendResponse(ctx context.Context, res *OutboundResponseEnvelope, opts *SendResponseOptions) error {
	ctx = ContextWithTransport(ctx, tp.transportFacade())
	var chain []OutboundResponseInterceptor
	for i := range tp.outResInts.All() {
		chain = append(chain, i)
	}
	sender := ChainOutboundResponse(chain, ResponseSenderFunc(tp.sendResNet))
	return errtrace.Wrap(sender.SendResponse(ctx, res, opts))
}

func (tp *baseTransp) sendResNet(ctx context.Context, res *OutboundResponseEnvelope, opts *SendResponseOptions) error {
	msg := res.Message()
	if msg == nil || !msg.IsValid() {
		return errtrace.Wrap(ErrInvalidMessage)
	}
	if raddr, ok := msgRemoteAddr(msg); ok {
		return errtrace.Wrap(tp.sendMsg(ctx, msg, raddr, opts.timeout()))
	}

	hops := msg.MessageHeaders().Via()
	if len(hops) == 0 {
		return errtrace.Wrap(ErrNoTarget)
	}

	lastErr := error(ErrNoTarget)
	for _, raddr := range ResponseAddrs(ctx, hops[0], tp.meta, tp.dnsRslvr) {
		if err := tp.sendMsg(ctx, msg, raddr, opts.timeout()); err != nil {
			lastErr = err
			continue
		}
		return nil
	}
	return errtrace.Wrap(lastErr)
}

func (tp *baseTransp) sendMsg(ctx context.Context, msg Message, raddr netip.AddrPort, timeout time.Duration) error {
	if tp.isClosing() {
		return errtrace.Wrap(ErrTransportClosed)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	bb := getBytesBuf()
	defer freeBytesBuf(bb)
	if err := msg.RenderMessageTo(bb); err != nil {
		return errtrace.Wrap(err)
	}
	if uint(bb.Len()) > MaxMsgSize {
		return errtrace.Wrap(ErrMessageTooLarge)
	}

	laddr, err := tp.impl.writeTo(ctx, bb, raddr, nil)
	if err != nil {
		return errtrace.Wrap(err)
	}

	md := msg.MessageMetadata()
	md.Set(TransportField, tp.meta.Proto)
	md.Set(LocalAddrField, laddr)
	md.Set(RemoteAddrField, raddr)
	switch msg.(type) {
	case *Request:
		md.Set(RequestTstampField, time.Now())
	case *Response:
		md.Set(ResponseTstampField, time.Now())
	}
	msg.SetMessageMetadata(md)

	tp.log.LogAttrs(ctx, slog.LevelDebug, "outbound message sent",
		slog.Any("message", msg),
		slog.Any(RemoteAddrField, raddr),
	)
	return nil
}

// readMsgs drains msgs, dispatching every successfully parsed message to
// [baseTransp.handleMsg]. It returns nil on a clean end of input (EOF) and
// keeps reading past timeouts, temporary and grammar errors.
func (tp *baseTransp) readMsgs(msgs iter.Seq2[Message, error]) error {
	for msg, err := range msgs {
		if err != nil {
			if errorutil.IsTimeoutErr(err) || errorutil.IsTemporaryErr(err) {
				continue
			}
			if errorutil.IsGrammarErr(err) {
				tp.log.LogAttrs(tp.ctx, slog.LevelWarn,
					"failed to parse inbound message; continue serving...",
					slog.Any("error", err),
				)
				continue
			}
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return nil
			}
			return errtrace.Wrap(err)
		}
		tp.handleMsg(msg)
	}
	return nil
}

// handleMsg tags msg's Metadata, applies RFC 3261 §18.2.1/§18.1.2 Via
// processing and dispatches it to the registered request/response
// callbacks, or discards it silently when no handler is registered.
func (tp *baseTransp) handleMsg(msg Message) {
	if msg == nil || !msg.IsValid() {
		tp.log.LogAttrs(tp.ctx, slog.LevelWarn, "inbound message is invalid; discarding it")
		return
	}

	raddr, _ := msgRemoteAddr(msg)

	md := msg.MessageMetadata()
	md.Set(TransportField, tp.meta.Proto)
	md.Set(LocalAddrField, tp.laddr)
	switch msg.(type) {
	case *Request:
		md.Set(RequestTstampField, time.Now())
	case *Response:
		md.Set(ResponseTstampField, time.Now())
	}
	msg.SetMessageMetadata(md)

	var hop *header.ViaHop
	if vhs := msg.MessageHeaders().Get("Via"); len(vhs) > 0 {
		if via, ok := vhs[0].(header.Via); ok && len(via) > 0 {
			hop = &via[0]
		}
	}

	ctx := ContextWithTransport(tp.ctx, tp.transportFacade())

	switch m := msg.(type) {
	case *Request:
		if hop != nil && raddr.IsValid() {
			// RFC 3261 Section 18.2.1: fix up the topmost Via with the
			// address the request was actually received from.
			rhost := raddr.Addr().String()
			if ip := hop.Addr.IP(); ip == nil || ip.String() != rhost {
				if hop.Params == nil {
					hop.Params = make(Values)
				}
				hop.Params.Set("received", rhost)
			}
			// RFC 3581 Section 4.
			if !tp.meta.Reliable && hop.Params.Has("rport") {
				hop.Params.Set("rport", strconv.Itoa(int(raddr.Port())))
			}
		}

		tp.log.LogAttrs(ctx, slog.LevelDebug, "inbound request received; passing it on...",
			slog.Any("request", m),
			slog.Any(RemoteAddrField, raddr),
		)

		req := newInboundRequestEnvelope(m, tp.transportFacade())

		var chain []InboundRequestInterceptor
		for i := range tp.inReqInts.All() {
			chain = append(chain, i)
		}
		receiver := ChainInboundRequest(chain, RequestReceiverFunc(tp.recvReq))
		if err := receiver.RecvRequest(ctx, req); err != nil {
			sts := ResponseStatusServiceUnavailable
			level := slog.LevelWarn
			var rejErr *RejectError
			if errors.As(err, &rejErr) {
				level = rejErr.Level
				if rejErr.Status != 0 {
					sts = rejErr.Status
				}
			}

			tp.log.LogAttrs(ctx, level, "discarding inbound request",
				slog.Any("request", m),
				slog.Any("error", err),
			)
			respondStateless(ctx, tp.transportFacade(), m, sts)
		}
	case *Response:
		if hop != nil && !util.EqFold(hop.Addr.Host(), tp.sentByHost) {
			tp.log.LogAttrs(ctx, slog.LevelDebug,
				"discarding inbound response due to Via's sent-by mismatch with transport's host",
				slog.String("sent_by_host", tp.sentByHost),
				slog.Any("response", m),
			)
			return
		}

		tp.log.LogAttrs(ctx, slog.LevelDebug, "inbound response received; passing it on...",
			slog.Any("response", m),
			slog.Any(RemoteAddrField, raddr),
		)

		res := newInboundResponseEnvelope(m, tp.transportFacade())

		var chain []InboundResponseInterceptor
		for i := range tp.inResInts.All() {
			chain = append(chain, i)
		}
		receiver := ChainInboundResponse(chain, ResponseReceiverFunc(tp.recvRes))
		if err := receiver.RecvResponse(ctx, res); err != nil {
			level := slog.LevelWarn
			var rejErr *RejectError
			if errors.As(err, &rejErr) {
				level = rejErr.Level
			}

			tp.log.LogAttrs(ctx, level, "discarding inbound response",
				slog.Any("response", m),
				slog.Any("error", err),
			)
		}
	}
}

// recvReq is the terminal [RequestReceiver] of the inbound interceptor
// chain: it broadcasts req to every handler registered via
// [baseTransp.OnRequest].
func (tp *baseTransp) recvReq(ctx context.Context, req *InboundRequestEnvelope) error {
	var handled bool
	for fn := range tp.onReq.All() {
		handled = true
		fn(ctx, req)
	}
	if !handled {
		return errtrace.Wrap(ErrUnhandledMessage)
	}
	return nil
}

// recvRes is the terminal [ResponseReceiver] of the inbound interceptor
// chain: it broadcasts res to every handler registered via
// [baseTransp.OnResponse].
func (tp *baseTransp) recvRes(ctx context.Context, res *InboundResponseEnvelope) error {
	var handled bool
	for fn := range tp.onRes.All() {
		handled = true
		fn(ctx, res)
	}
	if !handled {
		return errtrace.Wrap(ErrUnhandledMessage)
	}
	return nil
}

// transportFacade returns the enclosing [Transport], so callback handlers
// receive the fully assembled transport (e.g. so [GetTransportProto] and
// friends work) rather than the embedded base.
func (tp *baseTransp) transportFacade() Transport {
	if t, ok := tp.impl.(Transport); ok {
		return t
	}
	return nil
}

// packetMsgs reads discrete packets off pc, parsing each with parser and
// tagging the resulting [Message]'s [Metadata] with the sender's address.
// Reads use readTimeout so the caller's loop can periodically check for
// shutdown between packets.
func packetMsgs(pc net.PacketConn, parser Parser, readTimeout time.Duration) iter.Seq2[Message, error] {
	rpc := &readDeadlinePacketConn{PacketConn: pc, readTimeout: readTimeout}
	return func(yield func(Message, error) bool) {
		buf := make([]byte, maxMsgSize)
		for {
			n, addr, err := rpc.ReadFrom(buf)
			if err != nil {
				if !yield(nil, err) {
					return
				}
				continue
			}

			msg, perr := parser.ParsePacket(buf[:n])
			if msg != nil {
				if raddr, aerr := netip.ParseAddrPort(addr.String()); aerr == nil {
					md := msg.MessageMetadata()
					md.Set(RemoteAddrField, raddr)
					msg.SetMessageMetadata(md)
				}
			}
			if !yield(msg, perr) {
				return
			}
		}
	}
}

// streamMsgs parses SIP messages off a continuous connection, tagging each
// resulting [Message]'s [Metadata] with the connection's remote address.
func streamMsgs(conn net.Conn, parser Parser, readTimeout time.Duration) iter.Seq2[Message, error] {
	raddr, _ := netip.ParseAddrPort(conn.RemoteAddr().String())
	rdr := &readDeadlineConn{Conn: conn, readTimeout: readTimeout}
	return func(yield func(Message, error) bool) {
		for msg, err := range parser.ParseStream(rdr).Messages() {
			if msg != nil && raddr.IsValid() {
				md := msg.MessageMetadata()
				md.Set(RemoteAddrField, raddr)
				msg.SetMessageMetadata(md)
			}
			if !yield(msg, err) {
				return
			}
		}
	}
}
