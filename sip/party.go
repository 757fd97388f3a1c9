package sip

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"braces.dev/errtrace"

	"github.com/sipuastack/uacore/dns"
	"github.com/sipuastack/uacore/header"
	"github.com/sipuastack/uacore/internal/types"
	"github.com/sipuastack/uacore/internal/util"
	"github.com/sipuastack/uacore/log"
	"github.com/sipuastack/uacore/uri"
)

// Party errors.
const (
	// ErrPartyClosed is returned when using a [Party] after [Party.Terminate].
	ErrPartyClosed Error = "party closed"
	// ErrPartyNotListening is returned when originating or answering a
	// dialog before [Party.Listen] has attached a transport.
	ErrPartyNotListening Error = "party not listening"
	// ErrPartyAlreadyListening is returned by [Party.Listen] on a party
	// that already owns a transport.
	ErrPartyAlreadyListening Error = "party already listening"
	// ErrDialogNotPending is returned by [Party.Accept]/[Party.Reject]
	// for a dialog with no inbound INVITE awaiting a decision.
	ErrDialogNotPending Error = "dialog has no pending inbound invite"
)

// defaultMaxForwards is RFC 3261 §8.1.1.6's suggested initial Max-Forwards value.
const defaultMaxForwards = 70

// defaultListenPort is the well-known SIP UDP/TCP port used when a
// [Party] is not told which port to listen on.
const defaultListenPort uint16 = 5060

// defaultAllowedMethods lists the methods a Party answers itself,
// advertised on its default OPTIONS response and 405s.
var defaultAllowedMethods = header.Allow{
	RequestMethodInvite,
	RequestMethodAck,
	RequestMethodCancel,
	RequestMethodBye,
	RequestMethodOptions,
}

// Authorizer answers a 401/407 challenge received on a request this
// [Party] originated with credentials to retry it (RFC 3261 §22.2). The
// Party reissues the request with the same Call-ID and an incremented
// CSeq, attaching the returned credentials as an Authorization (for a
// 401) or Proxy-Authorization (for a 407) header.
type Authorizer interface {
	Authorize(ctx context.Context, req *Request, sts ResponseStatus, challenge header.AuthChallenge) (header.AuthCredentials, error)
}

// AuthorizerFunc adapts a function to an [Authorizer].
type AuthorizerFunc func(ctx context.Context, req *Request, sts ResponseStatus, challenge header.AuthChallenge) (header.AuthCredentials, error)

func (fn AuthorizerFunc) Authorize(
	ctx context.Context,
	req *Request,
	sts ResponseStatus,
	challenge header.AuthChallenge,
) (header.AuthCredentials, error) {
	return fn(ctx, req, sts, challenge)
}

// partyIdentity is the immutable identity a [Party] resolves once at
// construction time from [PartyOptions]' two-way AOR/URI configuration
// facility. Username, Host and AOR are always kept consistent with URI.
type partyIdentity struct {
	uri      URI
	username string
	host     string
	aor      string
}

func resolvePartyIdentity(opts *PartyOptions) (partyIdentity, error) {
	switch {
	case opts.URI != nil:
		sipURI, ok := opts.URI.(*uri.SIP)
		if !ok {
			return partyIdentity{}, errtrace.Wrap(NewInvalidArgumentError("party URI must be a sip/sips URI"))
		}
		return partyIdentity{
			uri:      sipURI,
			username: sipURI.User.Username(),
			host:     sipURI.Addr.Host(),
			aor:      sipURI.User.Username() + "@" + sipURI.Addr.Host(),
		}, nil

	case opts.AOR != "":
		usr, host, ok := splitAOR(opts.AOR)
		if !ok {
			return partyIdentity{}, errtrace.Wrap(NewInvalidArgumentError("invalid AOR " + strconv.Quote(opts.AOR)))
		}
		return partyIdentity{
			uri:      &uri.SIP{User: uri.User(usr), Addr: uri.Host(host)},
			username: usr,
			host:     host,
			aor:      usr + "@" + host,
		}, nil

	case opts.Username != "" && opts.Host != "":
		return partyIdentity{
			uri:      &uri.SIP{User: uri.User(opts.Username), Addr: uri.Host(opts.Host)},
			username: opts.Username,
			host:     opts.Host,
			aor:      opts.Username + "@" + opts.Host,
		}, nil

	default:
		return partyIdentity{}, errtrace.Wrap(NewInvalidArgumentError("party requires AOR, URI, or Username+Host"))
	}
}

func splitAOR(aor string) (user, host string, ok bool) {
	user, host, ok = cutLast(aor, '@')
	if !ok || user == "" || host == "" {
		return "", "", false
	}
	return user, host, true
}

func cutLast(s string, sep byte) (before, after string, found bool) {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == sep {
			return s[:i], s[i+1:], true
		}
	}
	return s, "", false
}

// matches reports whether reqURI addresses this identity, per RFC 3261
// §8.2.1's suggestion of matching on the AOR carried in the request-URI
// (case-insensitive user and host, RFC 3261 §19.1.4).
func (id partyIdentity) matches(reqURI URI) bool {
	sipURI, ok := reqURI.(*uri.SIP)
	if !ok {
		return false
	}
	return util.EqFold(sipURI.User.Username(), id.username) && util.EqFold(sipURI.Addr.Host(), id.host)
}

// PartyOptions carries the identity and tunables of a [Party].
//
// AOR, URI, Username and Host are mutually derivable, mirroring each
// other rather than composing: set URI to "sip:alice@example.com" and
// Username/Host/AOR follow from it; set AOR to "alice@example.com" and
// URI is composed from it. Set exactly one of URI or AOR, or both of
// Username and Host.
type PartyOptions struct {
	AOR      string
	URI      URI
	Username string
	Host     string

	// Contact is the URI this party advertises in the Contact header of
	// requests and responses it originates. If nil, it is derived from
	// the resolved identity.
	Contact URI

	// T1Ms, T2Ms, T4Ms override the base SIP retransmission timers (RFC
	// 3261 §17.1.1.1). Zero uses the package defaults.
	T1Ms, T2Ms, T4Ms int

	// MaxForwards is the Max-Forwards value stamped on requests this
	// party originates. Zero uses 70.
	MaxForwards uint

	// Authorizer answers 401/407 challenges on requests this party
	// originates. If nil, challenges are returned to the caller unhandled.
	Authorizer Authorizer

	// OnInboundInvite is called with a freshly created early dialog when
	// an inbound, dialog-initiating INVITE arrives addressed to this
	// party's AOR. The handler is expected to call [Party.Accept] or
	// [Party.Reject] on the dialog, synchronously or from another
	// goroutine; the server transaction is held open in the meantime.
	OnInboundInvite NewDialogHandler
	// OnDialogState is called on every state transition of every dialog
	// this party owns, both those it originated and those it accepted.
	OnDialogState DialogStateHandler

	Logger *slog.Logger
}

func (o *PartyOptions) contact(id partyIdentity) URI {
	if o != nil && o.Contact != nil {
		return o.Contact
	}
	return id.uri
}

func (o *PartyOptions) timings() TimingConfig {
	if o == nil {
		return TimingConfig{}
	}
	return NewTimings(
		time.Duration(o.T1Ms)*time.Millisecond,
		time.Duration(o.T2Ms)*time.Millisecond,
		time.Duration(o.T4Ms)*time.Millisecond,
		0, 0,
	)
}

func (o *PartyOptions) maxForwards() uint {
	if o == nil || o.MaxForwards == 0 {
		return defaultMaxForwards
	}
	return o.MaxForwards
}

func (o *PartyOptions) log() *slog.Logger {
	if o == nil || o.Logger == nil {
		return log.Default()
	}
	return o.Logger
}

func (o *PartyOptions) authorizer() Authorizer {
	if o == nil {
		return nil
	}
	return o.Authorizer
}

// ListenOptions carries the optional parts of [Party.Listen].
type ListenOptions struct {
	// Addr is the local host to bind to. Empty binds to all interfaces
	// via 0.0.0.0.
	Addr string
	// Port is the local UDP port to bind to. Zero uses 5060.
	Port uint16
	// PortFilter is passed to the bind step, which offers it each
	// ephemeral candidate port in turn (accepting the first one it
	// returns true for) only when the port to bind is 0. Listen always
	// binds Port, or 5060 when Port is zero, so Listen never consults
	// PortFilter.
	PortFilter func(port uint16) bool
}

func (o *ListenOptions) addr() string {
	if o == nil {
		return ""
	}
	return o.Addr
}

func (o *ListenOptions) port() uint16 {
	if o == nil || o.Port == 0 {
		return defaultListenPort
	}
	return o.Port
}

func (o *ListenOptions) portFilter() func(uint16) bool {
	if o == nil {
		return nil
	}
	return o.PortFilter
}

// InviteOptions carries the optional parts of [Party.Invite].
type InviteOptions struct {
	// Headers are appended to the INVITE, e.g. Content-Type/SDP body
	// framing supplied by an SDP collaborator.
	Headers Headers
	// Body is the INVITE's body, typically an SDP offer.
	Body []byte
}

// AcceptOptions carries the optional parts of [Party.Accept].
type AcceptOptions struct {
	Headers Headers
	Body    []byte
}

// RejectOptions carries the optional parts of [Party.Reject].
type RejectOptions struct {
	Reason  ResponseReason
	Headers Headers
}

// Party is a SIP user agent identity (RFC 3261 §8): an address-of-record
// that can listen for inbound requests, originate dialogs, and accept or
// reject the ones offered to it. It owns a [TransactionManager] and a
// [DialogManager] but not necessarily a [Transport] of its own: many
// Parties on one host can share a single listening socket, each seeing
// only the inbound requests addressed to its own AOR (see [Party.Listen]).
type Party struct {
	log *slog.Logger
	id  partyIdentity

	contact     URI
	maxForwards uint
	timings     TimingConfig
	authorizer  Authorizer

	onInboundInvite types.CallbackManager[NewDialogHandler]
	onDialogState   types.CallbackManager[DialogStateHandler]

	txm     *TransactionManager
	dialogs *DialogManager

	mu       sync.Mutex
	tp       Transport
	unbind   func()
	dnsRslvr DNSResolver

	pendingMu sync.Mutex
	pending   map[DialogID]ServerTransaction

	closed atomic.Bool
}

// NewParty creates a [Party] identified per opts. It does not yet listen
// for inbound requests or hold any transport; call [Party.Listen] to
// attach one.
func NewParty(opts *PartyOptions) (*Party, error) {
	id, err := resolvePartyIdentity(opts)
	if err != nil {
		return nil, errtrace.Wrap(err)
	}

	p := &Party{
		log:         opts.log().With("party", id.aor),
		id:          id,
		contact:     opts.contact(id),
		maxForwards: opts.maxForwards(),
		timings:     opts.timings(),
		authorizer:  opts.authorizer(),
		dialogs:     NewDialogManager(&DialogManagerOptions{Logger: opts.log()}),
		dnsRslvr:    dns.DefaultResolver(),
		pending:     make(map[DialogID]ServerTransaction),
	}
	p.txm = NewTransactionManager(&TransactionManagerOptions{Logger: opts.log()})

	if opts != nil {
		if opts.OnInboundInvite != nil {
			p.onInboundInvite.Add(opts.OnInboundInvite)
		}
		if opts.OnDialogState != nil {
			p.onDialogState.Add(opts.OnDialogState)
		}
	}
	return p, nil
}

// AOR returns the party's address-of-record, "user@host".
func (p *Party) AOR() string { return p.id.aor }

// URI returns the party's own URI.
func (p *Party) URI() URI { return p.id.uri }

// LogValue implements [slog.LogValuer].
func (p *Party) LogValue() slog.Value {
	if p == nil {
		return zeroSlogValue
	}
	return slog.GroupValue(slog.String("aor", p.id.aor))
}

// sharedTransports registers physical transports by the local address
// they bound to, so that repeated [Party.Listen] calls asking for the
// same address (in particular, the same defaults) share one socket
// instead of each opening its own. Each entry is refcounted so the
// underlying transport is only closed once every party attached to it
// has stopped listening.
var (
	sharedTranspsMu sync.Mutex
	sharedTransps   = map[string]*sharedTransp{}
)

type sharedTransp struct {
	tp   *UnreliableTransport
	refs int
}

func acquireSharedTransport(ctx context.Context, key, laddr string, filter func(uint16) bool, logger *slog.Logger) (*UnreliableTransport, error) {
	sharedTranspsMu.Lock()
	defer sharedTranspsMu.Unlock()

	if entry, ok := sharedTransps[key]; ok {
		entry.refs++
		return entry.tp, nil
	}

	tp, boundKey, err := bindTransport(laddr, filter, logger)
	if err != nil {
		return nil, errtrace.Wrap(err)
	}
	if boundKey != key {
		key = boundKey
	}
	entry := &sharedTransp{tp: tp, refs: 1}
	sharedTransps[key] = entry

	go func() {
		if err := tp.Serve(ctx); err != nil && !errors.Is(err, ErrTransportClosed) && !errors.Is(err, net.ErrClosed) {
			logger.LogAttrs(context.Background(), slog.LevelError,
				"shared transport serve failed",
				slog.Any("error", err),
			)
		}
	}()
	return tp, nil
}

func releaseSharedTransport(ctx context.Context, key string) {
	sharedTranspsMu.Lock()
	entry, ok := sharedTransps[key]
	if !ok {
		sharedTranspsMu.Unlock()
		return
	}
	entry.refs--
	last := entry.refs <= 0
	if last {
		delete(sharedTransps, key)
	}
	sharedTranspsMu.Unlock()

	if last {
		entry.tp.Close(ctx) //nolint:errcheck
	}
}

// bindTransport opens the UDP listener for laddr, honoring an explicit
// port or, if none was requested and filter is set, probing ephemeral
// ports until filter accepts one.
func bindTransport(laddr string, filter func(uint16) bool, logger *slog.Logger) (*UnreliableTransport, string, error) {
	opts := &UnreliableTransportOptions{Logger: logger}

	host, portStr, err := net.SplitHostPort(laddr)
	if err != nil {
		return nil, "", errtrace.Wrap(NewInvalidArgumentError(err))
	}
	if portStr != "0" || filter == nil {
		tp, err := NewTransportUDP(laddr, opts)
		if err != nil {
			return nil, "", errtrace.Wrap(err)
		}
		return tp, laddr, nil
	}

	const maxAttempts = 64
	for range maxAttempts {
		conn, err := net.ListenPacket("udp", net.JoinHostPort(host, "0"))
		if err != nil {
			return nil, "", errtrace.Wrap(err)
		}
		_, boundPortStr, _ := net.SplitHostPort(conn.LocalAddr().String())
		boundPort, _ := strconv.ParseUint(boundPortStr, 10, 16)
		if filter(uint16(boundPort)) {
			tp, err := NewUnreliableTransport("UDP", conn, opts)
			if err != nil {
				conn.Close() //nolint:errcheck
				return nil, "", errtrace.Wrap(err)
			}
			return tp, net.JoinHostPort(host, boundPortStr), nil
		}
		conn.Close() //nolint:errcheck
	}
	return nil, "", errtrace.Wrap(NewInvalidArgumentError("no ephemeral port satisfying filter found"))
}

// Listen attaches the party to a UDP transport bound to opts' address,
// creating one if no other party already listens there. Multiple
// parties calling Listen with the same (default) address share a single
// underlying socket; each still receives only the inbound requests
// addressed to its own AOR, since the shared [Transport]'s interceptor
// chain tries every attached party's [TransactionManager] in turn before
// falling through to that party's own request handler.
func (p *Party) Listen(ctx context.Context, opts *ListenOptions) error {
	if p.closed.Load() {
		return errtrace.Wrap(ErrPartyClosed)
	}

	host := opts.addr()
	if host == "" {
		host = "0.0.0.0"
	}
	laddr := net.JoinHostPort(host, strconv.Itoa(int(opts.port())))

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.tp != nil {
		return errtrace.Wrap(ErrPartyAlreadyListening)
	}

	tp, err := acquireSharedTransport(ctx, laddr, laddr, opts.portFilter(), p.log)
	if err != nil {
		return errtrace.Wrap(err)
	}

	unbindReqInt := tp.UseInboundRequestInterceptor(p.txm.InboundRequestInterceptor())
	unbindResInt := tp.UseInboundResponseInterceptor(p.txm.InboundResponseInterceptor())
	unbindReq := tp.OnRequest(func(ctx context.Context, req *InboundRequestEnvelope) {
		p.handleInboundRequest(ctx, req)
	})

	p.tp = tp
	p.unbind = func() {
		unbindReq()
		unbindReqInt()
		unbindResInt()
		releaseSharedTransport(context.WithoutCancel(ctx), laddr)
	}
	return nil
}

// handleInboundRequest is invoked for every inbound request that no
// existing transaction of this party claimed. It routes on the
// request-URI's AOR (RFC 3261 §8.2.1): requests for a different party's
// AOR are ignored so the shared transport's chain can offer them to the
// next attached party.
func (p *Party) handleInboundRequest(ctx context.Context, req *InboundRequestEnvelope) {
	// In-dialog requests target the Contact URI this party handed the
	// peer, not its AOR, so a dialog match takes precedence over the
	// AOR filter below and is tried regardless of the request-URI.
	if dlg, ok := p.matchInDialogRequest(req); ok {
		p.handleInDialogRequest(ctx, dlg, req)
		return
	}

	if !p.id.matches(req.Message().URI) {
		return
	}

	switch req.Method() {
	case RequestMethodInvite:
		p.handleInboundInvite(ctx, req)
	case RequestMethodOptions:
		p.handleInboundOptions(ctx, req)
	case RequestMethodBye, RequestMethodAck, RequestMethodCancel:
		// No matching dialog/transaction: stale or already-terminated,
		// nothing to do beyond RFC 3261 §12.2.2's implicit ignore for ACK.
	default:
		respondStateless(ctx, p.tp, req.Message(), ResponseStatusMethodNotAllowed)
	}
}

func (p *Party) matchInDialogRequest(req *InboundRequestEnvelope) (*Dialog, bool) {
	hdrs := req.Headers()
	callID, ok := hdrs.CallID()
	if !ok {
		return nil, false
	}
	to, ok := hdrs.To()
	if !ok {
		return nil, false
	}
	from, ok := hdrs.From()
	if !ok {
		return nil, false
	}
	toTag, _ := to.Tag()
	fromTag, _ := from.Tag()
	if toTag == "" {
		return nil, false
	}
	dlg, err := p.dialogs.Lookup(DialogID{CallID: string(callID), LocalTag: toTag, RemoteTag: fromTag})
	if err != nil {
		return nil, false
	}
	return dlg, true
}

func (p *Party) handleInDialogRequest(ctx context.Context, dlg *Dialog, req *InboundRequestEnvelope) {
	if err := dlg.HandleInboundRequest(ctx, req); err != nil {
		p.log.LogAttrs(ctx, slog.LevelDebug,
			"in-dialog request rejected",
			slog.Any("dialog", dlg),
			slog.Any("error", err),
		)
		respondStateless(ctx, p.tp, req.Message(), ResponseStatusCallTransactionDoesNotExist)
		return
	}

	if req.Method().Equal(RequestMethodAck) {
		return
	}

	srvTx, err := p.txm.NewServerTransaction(ctx, req, p.tp, &ServerTransactionOptions{Timings: p.timings, Log: p.log})
	if err != nil {
		p.log.LogAttrs(ctx, slog.LevelWarn, "failed to create server transaction", slog.Any("error", err))
		return
	}
	dlg.AttachTransaction(srvTx.Key().String())

	if req.Method().Equal(RequestMethodBye) {
		srvTx.Respond(ctx, ResponseStatusOK, nil) //nolint:errcheck
		return
	}
	// Re-INVITEs and other in-dialog requests beyond BYE/ACK are answered
	// with the same 200 a fresh INVITE would get; a richer application
	// would route these to the same accept/reject decision as Party.Accept.
	srvTx.Respond(ctx, ResponseStatusOK, nil) //nolint:errcheck
}

func (p *Party) handleInboundOptions(ctx context.Context, req *InboundRequestEnvelope) {
	srvTx, err := p.txm.NewServerTransaction(ctx, req, p.tp, &ServerTransactionOptions{Timings: p.timings, Log: p.log})
	if err != nil {
		p.log.LogAttrs(ctx, slog.LevelWarn, "failed to create server transaction", slog.Any("error", err))
		return
	}
	hdrs := make(Headers, 1).Set(defaultAllowedMethods)
	srvTx.Respond(ctx, ResponseStatusOK, &RespondOptions{ //nolint:errcheck
		ResponseOptions: &ResponseOptions{Headers: hdrs},
	})
}

func (p *Party) handleInboundInvite(ctx context.Context, req *InboundRequestEnvelope) {
	srvTx, err := p.txm.NewServerTransaction(ctx, req, p.tp, &ServerTransactionOptions{Timings: p.timings, Log: p.log})
	if err != nil {
		p.log.LogAttrs(ctx, slog.LevelWarn, "failed to create inbound INVITE transaction", slog.Any("error", err))
		return
	}

	localTag := GenerateTag(0)
	dlg, err := NewUASDialog(ctx, req, localTag, &DialogOptions{
		Logger:      p.log,
		Contact:     p.contact,
		MaxForwards: p.maxForwards,
	})
	if err != nil {
		p.log.LogAttrs(ctx, slog.LevelWarn, "failed to create inbound dialog", slog.Any("error", err))
		srvTx.Respond(ctx, ResponseStatusServerInternalError, nil) //nolint:errcheck
		return
	}
	if err := p.dialogs.Register(dlg); err != nil {
		srvTx.Respond(ctx, ResponseStatusServerInternalError, nil) //nolint:errcheck
		return
	}
	dlg.OnStateChanged(p.dispatchDialogState)
	dlg.AttachTransaction(srvTx.Key().String())

	p.pendingMu.Lock()
	p.pending[dlg.ID()] = srvTx
	p.pendingMu.Unlock()

	for fn := range p.onInboundInvite.All() {
		fn(ctx, dlg)
	}
}

func (p *Party) dispatchDialogState(ctx context.Context, dlg *Dialog, from, to DialogState) {
	for fn := range p.onDialogState.All() {
		fn(ctx, dlg, from, to)
	}
}

// resolveTarget resolves a request-URI's host to a network address to
// send an outbound request to. The transport layer performs no such
// resolution itself for requests (unlike for responses, RFC 3261
// §18.2.2), so a party must do it before creating a client transaction.
func (p *Party) resolveTarget(ctx context.Context, target URI) (netip.AddrPort, error) {
	sipURI, ok := target.(*uri.SIP)
	if !ok {
		return netip.AddrPort{}, errtrace.Wrap(NewInvalidArgumentError("target must be a sip/sips URI"))
	}
	host := sipURI.Addr.Host()
	port, hasPort := sipURI.Addr.Port()
	if !hasPort {
		port = defaultListenPort
	}

	if addr, err := netip.ParseAddr(host); err == nil {
		return netip.AddrPortFrom(addr, port), nil
	}

	ips, err := p.dnsRslvr.LookupIP(ctx, "ip", host)
	if err != nil || len(ips) == 0 {
		return netip.AddrPort{}, errtrace.Wrap(&TransportError{Op: "resolve", Network: "ip", Addr: host, Cause: err})
	}
	addr, ok := netip.AddrFromSlice(ips[0])
	if !ok {
		return netip.AddrPort{}, errtrace.Wrap(&TransportError{Op: "resolve", Network: "ip", Addr: host})
	}
	return netip.AddrPortFrom(addr.Unmap(), port), nil
}

// Invite originates a dialog-initiating INVITE to target and returns the
// dialog immediately, in [DialogStateInitial]; it is promoted to
// Early/Confirmed/Terminated asynchronously as responses arrive, observed
// via [PartyOptions.OnDialogState] or [Dialog.WaitForState].
func (p *Party) Invite(ctx context.Context, target URI, opts *InviteOptions) (*Dialog, error) {
	tp, err := p.attachedTransport()
	if err != nil {
		return nil, errtrace.Wrap(err)
	}

	raddr, err := p.resolveTarget(ctx, target)
	if err != nil {
		return nil, errtrace.Wrap(err)
	}

	var hdrs Headers
	var body []byte
	if opts != nil {
		hdrs = opts.Headers
		body = opts.Body
	}

	req, err := NewRequest(RequestMethodInvite, target, p.id.uri, target, &RequestOptions{Headers: hdrs, Body: body})
	if err != nil {
		return nil, errtrace.Wrap(err)
	}
	req.Headers.Set(header.MaxForwards(p.maxForwards))
	if p.contact != nil {
		req.Headers.Set(header.Contact{{URI: p.contact.Clone()}})
	}

	dlg, err := NewUACDialog(ctx, req, &DialogOptions{
		Logger:      p.log,
		Contact:     p.contact,
		MaxForwards: p.maxForwards,
	})
	if err != nil {
		return nil, errtrace.Wrap(err)
	}
	if err := p.dialogs.RegisterPending(dlg); err != nil {
		return nil, errtrace.Wrap(err)
	}
	dlg.OnStateChanged(p.dispatchDialogState)

	outReq := NewOutboundRequest(req)
	outReq.SetRemoteAddr(raddr)

	clnTx, err := p.txm.NewClientTransaction(ctx, outReq, tp, &ClientTransactionOptions{Timings: p.timings, Log: p.log})
	if err != nil {
		dlg.Fail(ctx, &DialogError{Reason: "failed to create client transaction", ID: dlg.ID(), Cause: err}) //nolint:errcheck
		return dlg, errtrace.Wrap(err)
	}
	dlg.AttachTransaction(clnTx.Key().String())
	p.failDialogOnTransactionTimeout(clnTx, dlg)

	clnTx.OnResponse(func(ctx context.Context, tx ClientTransaction, res *InboundResponse) {
		p.handleInviteResponse(ctx, dlg, req, tx, res)
	})
	return dlg, nil
}

// failDialogOnTransactionTimeout fails dlg if tx terminates abnormally
// (Timer B expiry or a transport error) before ever delivering a final
// response, since no INVITE response then reaches [Party.handleInviteResponse]
// to promote or fail the dialog itself.
func (p *Party) failDialogOnTransactionTimeout(tx ClientTransaction, dlg *Dialog) {
	var cancel func()
	cancel = tx.OnStateChanged(func(ctx context.Context, _, to TransactionState) {
		if to != TransactionStateTerminated {
			return
		}
		defer cancel()
		if err := tx.LastError(); err != nil && dlg.State() != DialogStateConfirmed {
			dlg.Fail(ctx, &DialogError{Reason: "client transaction terminated", ID: dlg.ID(), Cause: err}) //nolint:errcheck
		}
	})
}

func (p *Party) handleInviteResponse(ctx context.Context, dlg *Dialog, req *Request, tx ClientTransaction, res *InboundResponse) {
	sts := res.Status()

	if (sts == ResponseStatusUnauthorized || sts == ResponseStatusProxyAuthenticationRequired) && p.authorizer != nil {
		if p.retryWithAuth(ctx, dlg, req, sts, res) {
			return
		}
	}

	if err := dlg.Promote(ctx, res); err != nil {
		p.log.LogAttrs(ctx, slog.LevelDebug, "failed to promote dialog", slog.Any("error", err))
	}

	if sts.IsSuccessful() {
		ackReq, err := dlg.Ack(nil)
		if err == nil {
			outAck := NewOutboundRequest(ackReq)
			if raddr, rerr := p.resolveTarget(ctx, ackReq.URI); rerr == nil {
				outAck.SetRemoteAddr(raddr)
			}
			p.tp.SendRequest(ctx, outAck, nil) //nolint:errcheck
		}
	}
}

// retryWithAuth answers a 401/407 challenge on req using p.authorizer,
// resending it with the credentials attached and an incremented CSeq
// (RFC 3261 §22.2). It reports whether it took over handling the
// response (true) or the caller should proceed with normal dialog
// promotion (false, e.g. no matching challenge header or the authorizer
// declined).
func (p *Party) retryWithAuth(ctx context.Context, dlg *Dialog, req *Request, sts ResponseStatus, res *InboundResponse) bool {
	var challenge header.AuthChallenge
	var credHeader HeaderName
	if sts == ResponseStatusUnauthorized {
		wa, ok := res.Headers().WWWAuthenticate()
		if !ok {
			return false
		}
		challenge, credHeader = wa.AuthChallenge, "Authorization"
	} else {
		pa, ok := res.Headers().ProxyAuthenticate()
		if !ok {
			return false
		}
		challenge, credHeader = pa.AuthChallenge, "Proxy-Authorization"
	}

	creds, err := p.authorizer.Authorize(ctx, req, sts, challenge)
	if err != nil || creds == nil {
		return false
	}

	retry := req.Clone().(*Request)
	cseq, _ := retry.Headers.CSeq()
	retry.Headers.Set(&header.CSeq{SeqNum: cseq.SeqNum + 1, Method: cseq.Method})
	if credHeader == "Authorization" {
		retry.Headers.Set(&header.Authorization{AuthCredentials: creds})
	} else {
		retry.Headers.Set(&header.ProxyAuthorization{AuthCredentials: creds})
	}

	raddr, err := p.resolveTarget(ctx, retry.URI)
	if err != nil {
		return false
	}
	outReq := NewOutboundRequest(retry)
	outReq.SetRemoteAddr(raddr)

	clnTx, err := p.txm.NewClientTransaction(ctx, outReq, p.tp, &ClientTransactionOptions{Timings: p.timings, Log: p.log})
	if err != nil {
		return false
	}
	dlg.AttachTransaction(clnTx.Key().String())
	p.failDialogOnTransactionTimeout(clnTx, dlg)
	clnTx.OnResponse(func(ctx context.Context, tx ClientTransaction, res *InboundResponse) {
		p.handleInviteResponse(ctx, dlg, retry, tx, res)
	})
	return true
}

// Accept answers dlg's pending inbound INVITE with a 200 OK.
func (p *Party) Accept(ctx context.Context, dlg *Dialog, opts *AcceptOptions) error {
	srvTx, err := p.popPending(dlg.ID())
	if err != nil {
		return errtrace.Wrap(err)
	}

	var hdrs Headers
	var body []byte
	if opts != nil {
		hdrs = opts.Headers
		body = opts.Body
	}
	if hdrs == nil {
		hdrs = make(Headers, 1)
	}
	if p.contact != nil {
		hdrs.Set(header.Contact{{URI: p.contact.Clone()}})
	}

	return errtrace.Wrap(srvTx.Respond(ctx, ResponseStatusOK, &RespondOptions{
		ResponseOptions: &ResponseOptions{Headers: hdrs, Body: body, LocalTag: dlg.ID().LocalTag},
	}))
}

// Reject answers dlg's pending inbound INVITE with sts, terminating the
// dialog.
func (p *Party) Reject(ctx context.Context, dlg *Dialog, sts ResponseStatus, opts *RejectOptions) error {
	srvTx, err := p.popPending(dlg.ID())
	if err != nil {
		return errtrace.Wrap(err)
	}

	var reason ResponseReason
	var hdrs Headers
	if opts != nil {
		reason = opts.Reason
		hdrs = opts.Headers
	}

	respErr := srvTx.Respond(ctx, sts, &RespondOptions{
		ResponseOptions: &ResponseOptions{Reason: reason, Headers: hdrs, LocalTag: dlg.ID().LocalTag},
	})
	dlg.Fail(ctx, &DialogError{ //nolint:errcheck
		Reason: fmt.Sprintf("%d %s", int(sts), sts.Reason()),
		ID:     dlg.ID(),
		Cause:  ErrDialogTerminated,
	})
	return errtrace.Wrap(respErr)
}

func (p *Party) popPending(id DialogID) (ServerTransaction, error) {
	p.pendingMu.Lock()
	defer p.pendingMu.Unlock()
	tx, ok := p.pending[id]
	if !ok {
		return nil, errtrace.Wrap(ErrDialogNotPending)
	}
	delete(p.pending, id)
	return tx, nil
}

// Bye ends an established dialog by sending a BYE and terminating it
// once the request is issued; RFC 3261 §15 leaves the dialog terminated
// regardless of the BYE's eventual response.
func (p *Party) Bye(ctx context.Context, dlg *Dialog) error {
	tp, err := p.attachedTransport()
	if err != nil {
		return errtrace.Wrap(err)
	}

	req, err := dlg.Bye(nil)
	if err != nil {
		return errtrace.Wrap(err)
	}
	raddr, err := p.resolveTarget(ctx, req.URI)
	if err != nil {
		return errtrace.Wrap(err)
	}
	outReq := NewOutboundRequest(req)
	outReq.SetRemoteAddr(raddr)

	if _, err = p.txm.NewClientTransaction(ctx, outReq, tp, &ClientTransactionOptions{Timings: p.timings, Log: p.log}); err != nil {
		return errtrace.Wrap(err)
	}
	return errtrace.Wrap(dlg.Terminate(ctx))
}

// Options sends an OPTIONS request to target, e.g. for a keep-alive or
// capability probe outside any dialog.
func (p *Party) Options(ctx context.Context, target URI) (ClientTransaction, error) {
	tp, err := p.attachedTransport()
	if err != nil {
		return nil, errtrace.Wrap(err)
	}
	raddr, err := p.resolveTarget(ctx, target)
	if err != nil {
		return nil, errtrace.Wrap(err)
	}

	req, err := NewRequest(RequestMethodOptions, target, p.id.uri, target, nil)
	if err != nil {
		return nil, errtrace.Wrap(err)
	}
	outReq := NewOutboundRequest(req)
	outReq.SetRemoteAddr(raddr)

	return errtrace.Wrap2(p.txm.NewClientTransaction(ctx, outReq, tp, &ClientTransactionOptions{Timings: p.timings, Log: p.log}))
}

func (p *Party) attachedTransport() (Transport, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.tp == nil {
		return nil, errtrace.Wrap(ErrPartyNotListening)
	}
	return p.tp, nil
}

// Terminate ends every dialog the party currently holds Confirmed with a
// BYE, unregisters it from its shared transport, and releases the
// transport's socket if no other party still uses it.
func (p *Party) Terminate(ctx context.Context) error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}

	for dlg := range p.dialogs.All() {
		if dlg.State() == DialogStateConfirmed {
			p.Bye(ctx, dlg) //nolint:errcheck
		} else {
			dlg.Terminate(ctx) //nolint:errcheck
		}
	}

	p.mu.Lock()
	unbind := p.unbind
	p.tp = nil
	p.unbind = nil
	p.mu.Unlock()

	if unbind != nil {
		unbind()
	}

	return errtrace.Wrap(p.txm.Close(ctx))
}
