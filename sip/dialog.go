package sip

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"

	"braces.dev/errtrace"

	"github.com/sipuastack/uacore/header"
	"github.com/sipuastack/uacore/internal/types"
	"github.com/sipuastack/uacore/log"
	"github.com/sipuastack/uacore/sip/fsm"
	"github.com/sipuastack/uacore/uri"
)

// DialogRole tells which side of a dialog this process is playing:
// the side that sent the dialog-initiating INVITE, or the side that
// received it.
type DialogRole string

const (
	DialogRoleUAC DialogRole = "uac"
	DialogRoleUAS DialogRole = "uas"
)

// DialogState is one of the states of a [Dialog]'s lifecycle, RFC 3261 §12.
type DialogState string

const (
	// DialogStateInitial is a UAC dialog created for an INVITE that has not
	// yet received any response establishing the peer's tag.
	DialogStateInitial DialogState = "initial"
	// DialogStateEarly is a dialog with a peer tag but no 2xx yet.
	DialogStateEarly DialogState = "early"
	// DialogStateConfirmed is a dialog established by a 2xx to the
	// dialog-initiating INVITE.
	DialogStateConfirmed DialogState = "confirmed"
	// DialogStateTerminated is a sink state: BYE exchanged, or a failure
	// response ended the dialog before it was ever confirmed.
	DialogStateTerminated DialogState = "terminated"
	// DialogStateError is a sink state for a dialog abandoned due to a
	// protocol violation rather than a normal termination; [Dialog.LastError]
	// carries the reason.
	DialogStateError DialogState = "error"
)

// DialogID identifies a dialog by RFC 3261 §12.1: Call-ID plus the tags
// each side attached to it. RemoteTag is empty for a UAC dialog that has
// not yet received a response establishing the peer's tag.
type DialogID struct {
	CallID    string
	LocalTag  string
	RemoteTag string
}

// String returns a human-readable rendering of the id.
func (id DialogID) String() string {
	return id.CallID + ";local-tag=" + id.LocalTag + ";remote-tag=" + id.RemoteTag
}

// IsZero reports whether id carries no Call-ID.
func (id DialogID) IsZero() bool { return id.CallID == "" }

const dialogCtxKey types.ContextKey = "dialog"

// ContextWithDialog returns a copy of ctx carrying dlg, retrievable with
// [DialogFromContext].
func ContextWithDialog(ctx context.Context, dlg *Dialog) context.Context {
	return context.WithValue(ctx, dialogCtxKey, dlg)
}

// DialogFromContext returns the [Dialog] stored in ctx, if any.
func DialogFromContext(ctx context.Context) (*Dialog, bool) {
	dlg, ok := ctx.Value(dialogCtxKey).(*Dialog)
	return dlg, ok
}

// DialogOptions carries the optional parts of a [Dialog] built with
// [NewUACDialog] or [NewUASDialog].
type DialogOptions struct {
	// Logger is the logger used by the dialog. If nil, [log.Default] is used.
	Logger *slog.Logger
	// Contact is this side's own Contact URI, attached to requests and
	// responses sent within the dialog so the peer knows where to reach it.
	Contact URI
	// InitialCSeq overrides the local CSeq sequence number a UAC dialog
	// seeds itself with. Zero means it is taken from the dialog-initiating
	// INVITE's own CSeq.
	InitialCSeq uint32
	// MaxForwards overrides the Max-Forwards value stamped on in-dialog
	// requests this dialog builds. Zero means 70.
	MaxForwards uint
}

func (o *DialogOptions) log() *slog.Logger {
	if o == nil || o.Logger == nil {
		return log.Default()
	}
	return o.Logger
}

func (o *DialogOptions) contact() URI {
	if o == nil {
		return nil
	}
	return o.Contact
}

func (o *DialogOptions) maxForwards() uint {
	if o == nil || o.MaxForwards == 0 {
		return 70
	}
	return o.MaxForwards
}

// Dialog is a peer-to-peer SIP relationship established by an
// INVITE/2xx/ACK exchange (RFC 3261 §12). It tracks the identifying tags,
// the CSeq discipline for each direction, the Record-Route-derived
// route-set, and the peer's remote-target URI, and builds the in-dialog
// requests that follow from that state.
//
// A Dialog holds no reference to the transactions it owns; per this
// module's ownership model, a transaction looks its dialog up by
// [DialogID] instead of holding a pointer to it, so the two never form a
// reference cycle. Use [Dialog.AttachTransaction]/[Dialog.DetachTransaction]
// to track which transaction keys currently belong to it.
type Dialog struct {
	ctx context.Context //nolint:containedctx
	log *slog.Logger

	role DialogRole

	mu          sync.RWMutex
	id          DialogID
	localURI    URI
	remoteURI   URI
	localTarget URI
	remoteTarg  URI
	routeSet    []header.RouteHop
	secure      bool
	maxForwards uint
	lastErr     error
	activeTx    map[string]struct{}

	localCSeq     atomic.Uint32
	remoteCSeq    atomic.Uint32
	remoteCSeqSet atomic.Bool

	fsm     *fsm.Machine
	onState types.CallbackManager[DialogStateHandler]
}

// NewUACDialog creates the dialog a UAC forms by sending req, a
// dialog-initiating INVITE about to be sent. The dialog starts in
// [DialogStateInitial]; it is promoted to Early/Confirmed as 1xx/2xx
// responses bearing a To-tag arrive, see [DialogManager.Promote].
func NewUACDialog(ctx context.Context, req *Request, opts *DialogOptions) (*Dialog, error) {
	if req == nil || !req.Method.Equal(RequestMethodInvite) {
		return nil, errtrace.Wrap(NewInvalidArgumentError("invalid dialog-initiating request"))
	}

	callID, ok := req.Headers.CallID()
	if !ok {
		return nil, errtrace.Wrap(NewInvalidArgumentError("missing Call-ID"))
	}
	from, ok := req.Headers.From()
	if !ok {
		return nil, errtrace.Wrap(NewInvalidArgumentError("missing From"))
	}
	localTag, ok := from.Tag()
	if !ok {
		return nil, errtrace.Wrap(NewInvalidArgumentError("missing From tag"))
	}
	to, ok := req.Headers.To()
	if !ok {
		return nil, errtrace.Wrap(NewInvalidArgumentError("missing To"))
	}
	cseq, ok := req.Headers.CSeq()
	if !ok {
		return nil, errtrace.Wrap(NewInvalidArgumentError("missing CSeq"))
	}

	dlg := newDialog(ctx, DialogRoleUAC, DialogID{CallID: string(callID), LocalTag: localTag}, from.URI, to.URI, opts)
	seqNum := uint32(cseq.SeqNum) //nolint:gosec
	if opts != nil && opts.InitialCSeq != 0 {
		seqNum = opts.InitialCSeq
	}
	dlg.localCSeq.Store(seqNum)

	if err := dlg.initFSM(DialogStateInitial); err != nil {
		return nil, errtrace.Wrap(err)
	}
	return dlg, nil
}

// NewUASDialog creates the dialog a UAS forms upon deciding to answer
// req, an inbound dialog-creating INVITE, with a provisional or final
// response tagged localTag. Unlike the UAC side, the UAS dialog's id is
// complete (both tags known) the moment it is created, so it starts in
// [DialogStateEarly].
func NewUASDialog(ctx context.Context, req *InboundRequest, localTag string, opts *DialogOptions) (*Dialog, error) {
	if req == nil || !req.Method().Equal(RequestMethodInvite) {
		return nil, errtrace.Wrap(NewInvalidArgumentError("invalid dialog-initiating request"))
	}
	if localTag == "" {
		return nil, errtrace.Wrap(NewInvalidArgumentError("missing local tag"))
	}

	hdrs := req.Headers()
	callID, ok := hdrs.CallID()
	if !ok {
		return nil, errtrace.Wrap(NewInvalidArgumentError("missing Call-ID"))
	}
	from, ok := hdrs.From()
	if !ok {
		return nil, errtrace.Wrap(NewInvalidArgumentError("missing From"))
	}
	remoteTag, ok := from.Tag()
	if !ok {
		return nil, errtrace.Wrap(NewInvalidArgumentError("missing From tag"))
	}
	to, ok := hdrs.To()
	if !ok {
		return nil, errtrace.Wrap(NewInvalidArgumentError("missing To"))
	}
	cseq, ok := hdrs.CSeq()
	if !ok {
		return nil, errtrace.Wrap(NewInvalidArgumentError("missing CSeq"))
	}

	id := DialogID{CallID: string(callID), LocalTag: localTag, RemoteTag: remoteTag}
	dlg := newDialog(ctx, DialogRoleUAS, id, to.URI, from.URI, opts)
	dlg.remoteCSeq.Store(uint32(cseq.SeqNum)) //nolint:gosec
	dlg.remoteCSeqSet.Store(true)
	dlg.routeSet = slices.Clone(hdrs.RecordRoute())
	if contact, ok := hdrs.FirstContact(); ok {
		dlg.remoteTarg = contact.URI
	}

	if err := dlg.initFSM(DialogStateEarly); err != nil {
		return nil, errtrace.Wrap(err)
	}
	return dlg, nil
}

func newDialog(ctx context.Context, role DialogRole, id DialogID, localURI, remoteURI URI, opts *DialogOptions) *Dialog {
	dlg := &Dialog{
		ctx:         ctx,
		role:        role,
		id:          id,
		localURI:    localURI,
		remoteURI:   remoteURI,
		localTarget: opts.contact(),
		secure:      isSecureURI(localURI) || isSecureURI(remoteURI),
		maxForwards: opts.maxForwards(),
		activeTx:    make(map[string]struct{}),
	}
	dlg.log = opts.log().With("dialog", dlg)
	return dlg
}

func isSecureURI(u URI) bool {
	sipURI, ok := u.(*uri.SIP)
	return ok && sipURI.Secured
}

const (
	dlgEvtProvisional = "provisional"
	dlgEvtEstablish   = "establish"
	dlgEvtFail        = "fail"
	dlgEvtBye         = "bye"
	dlgEvtError       = "error"
	dlgEvtTerminate   = "terminate"
)

func (dlg *Dialog) initFSM(start DialogState) error {
	dlg.fsm = fsm.New(start)
	dlg.fsm.OnTransitioned(dlg.onTransitioned)

	dlg.fsm.Configure(DialogStateInitial).
		Permit(dlgEvtProvisional, DialogStateEarly).
		Permit(dlgEvtEstablish, DialogStateConfirmed).
		Permit(dlgEvtFail, DialogStateTerminated).
		Permit(dlgEvtError, DialogStateError).
		Permit(dlgEvtTerminate, DialogStateTerminated)

	dlg.fsm.Configure(DialogStateEarly).
		PermitReentry(dlgEvtProvisional).
		Permit(dlgEvtEstablish, DialogStateConfirmed).
		Permit(dlgEvtFail, DialogStateTerminated).
		Permit(dlgEvtError, DialogStateError).
		Permit(dlgEvtTerminate, DialogStateTerminated)

	dlg.fsm.Configure(DialogStateConfirmed).
		Permit(dlgEvtBye, DialogStateTerminated).
		Permit(dlgEvtError, DialogStateError).
		Permit(dlgEvtTerminate, DialogStateTerminated)

	dlg.fsm.Configure(DialogStateTerminated).
		OnEntry(dlg.actTerminated)

	dlg.fsm.Configure(DialogStateError).
		OnEntry(dlg.actTerminated)

	return nil
}

func (dlg *Dialog) onTransitioned(t fsm.Transition) {
	from, _ := t.Source.(DialogState)
	to, ok := t.Destination.(DialogState)
	if !ok || from == to {
		return
	}

	dlg.log.LogAttrs(dlg.ctx, slog.LevelDebug,
		"dialog state changed",
		slog.Any("dialog", dlg),
		slog.Any("from", from),
		slog.Any("to", to),
	)

	dlg.onState.Range(func(fn DialogStateHandler) {
		fn(dlg.ctx, dlg, from, to)
	})
}

func (dlg *Dialog) actTerminated(ctx context.Context, _ ...any) error {
	dlg.log.LogAttrs(ctx, slog.LevelDebug, "dialog terminated", slog.Any("dialog", dlg), slog.Any("error", dlg.LastError()))
	return nil
}

// ID returns the dialog's current identity. For a UAC dialog not yet
// promoted, RemoteTag is empty.
func (dlg *Dialog) ID() DialogID {
	dlg.mu.RLock()
	defer dlg.mu.RUnlock()
	return dlg.id
}

// Role reports which side of the dialog this process is playing.
func (dlg *Dialog) Role() DialogRole { return dlg.role }

// State returns the dialog's current state.
func (dlg *Dialog) State() DialogState {
	if dlg == nil || dlg.fsm == nil {
		return ""
	}
	return dlg.fsm.State().(DialogState) //nolint:forcetypeassert
}

// LocalURI returns the URI identifying this side of the dialog.
func (dlg *Dialog) LocalURI() URI {
	dlg.mu.RLock()
	defer dlg.mu.RUnlock()
	return dlg.localURI
}

// RemoteURI returns the URI identifying the peer.
func (dlg *Dialog) RemoteURI() URI {
	dlg.mu.RLock()
	defer dlg.mu.RUnlock()
	return dlg.remoteURI
}

// RemoteTarget returns the Contact URI last learned from the peer.
func (dlg *Dialog) RemoteTarget() URI {
	dlg.mu.RLock()
	defer dlg.mu.RUnlock()
	return dlg.remoteTarg
}

// RouteSet returns a copy of the dialog's current route-set.
func (dlg *Dialog) RouteSet() []header.RouteHop {
	dlg.mu.RLock()
	defer dlg.mu.RUnlock()
	return slices.Clone(dlg.routeSet)
}

// Secure reports whether either endpoint URI of the dialog uses sips.
func (dlg *Dialog) Secure() bool {
	dlg.mu.RLock()
	defer dlg.mu.RUnlock()
	return dlg.secure
}

// LastError returns the error that moved the dialog to [DialogStateError]
// or, for a failed but otherwise normal termination, the cause recorded
// by [Dialog.Fail].
func (dlg *Dialog) LastError() error {
	dlg.mu.RLock()
	defer dlg.mu.RUnlock()
	return dlg.lastErr
}

// OnStateChanged registers fn to be called on every dialog state
// transition, returning a function that unregisters it.
func (dlg *Dialog) OnStateChanged(fn DialogStateHandler) (cancel func()) {
	return dlg.onState.Add(fn)
}

// AttachTransaction records key as an active transaction owned by the
// dialog. The dialog keeps no reference to the transaction itself, only
// its matching key; see the [Dialog] doc comment.
func (dlg *Dialog) AttachTransaction(key string) {
	dlg.mu.Lock()
	dlg.activeTx[key] = struct{}{}
	dlg.mu.Unlock()
}

// DetachTransaction removes key from the dialog's set of active
// transactions.
func (dlg *Dialog) DetachTransaction(key string) {
	dlg.mu.Lock()
	delete(dlg.activeTx, key)
	dlg.mu.Unlock()
}

// ActiveTransactionCount reports how many transaction keys are currently
// attached to the dialog.
func (dlg *Dialog) ActiveTransactionCount() int {
	dlg.mu.RLock()
	defer dlg.mu.RUnlock()
	return len(dlg.activeTx)
}

// Promote applies the dialog-establishing effects of an inbound response
// to the dialog-initiating INVITE (RFC 3261 §12.1.2): it records the
// peer's To-tag the first time it is seen, reverses and stores the
// Record-Route set for a UAC dialog, and updates the remote target from
// the response's Contact. It then fires the matching state transition:
// Early for a 1xx, Confirmed for a 2xx, Terminated (via [Dialog.Fail])
// for anything else.
func (dlg *Dialog) Promote(ctx context.Context, res *InboundResponse) error {
	sts := res.Status()
	hdrs := res.Headers()

	to, ok := hdrs.To()
	if !ok {
		return errtrace.Wrap(NewInvalidArgumentError("missing To"))
	}
	remoteTag, ok := to.Tag()
	if !ok && sts.IsSuccessful() {
		return errtrace.Wrap(NewInvalidArgumentError("missing To tag on 2xx"))
	}

	dlg.mu.Lock()
	if dlg.id.RemoteTag == "" {
		dlg.id.RemoteTag = remoteTag
	}
	if dlg.role == DialogRoleUAC && len(dlg.routeSet) == 0 {
		dlg.routeSet = reverseRouteSet(hdrs.RecordRoute())
	}
	if contact, ok := hdrs.FirstContact(); ok {
		dlg.remoteTarg = contact.URI
	}
	dlg.mu.Unlock()

	switch {
	case sts.IsSuccessful():
		return errtrace.Wrap(dlg.fsm.FireCtx(ctx, dlgEvtEstablish))
	case sts.IsProvisional():
		return errtrace.Wrap(dlg.fsm.FireCtx(ctx, dlgEvtProvisional))
	default:
		cause := &DialogError{
			Reason: fmt.Sprintf("%d %s", int(sts), sts.Reason()),
			ID:     dlg.ID(),
			Cause:  ErrDialogTerminated,
		}
		return errtrace.Wrap(dlg.Fail(ctx, cause))
	}
}

// Fail transitions a not-yet-terminated dialog to [DialogStateTerminated],
// recording cause as [Dialog.LastError].
func (dlg *Dialog) Fail(ctx context.Context, cause error) error {
	dlg.mu.Lock()
	dlg.lastErr = cause
	dlg.mu.Unlock()
	return errtrace.Wrap(dlg.fsm.FireCtx(ctx, dlgEvtFail))
}

// ReportError transitions the dialog to [DialogStateError], recording
// cause as [Dialog.LastError]. Use this for protocol violations (e.g. a
// missing mandatory header on a confirmed dialog) rather than normal
// termination.
func (dlg *Dialog) ReportError(ctx context.Context, cause error) error {
	dlg.mu.Lock()
	dlg.lastErr = cause
	dlg.mu.Unlock()
	return errtrace.Wrap(dlg.fsm.FireCtx(ctx, dlgEvtError))
}

// Terminate transitions the dialog to [DialogStateTerminated]. It is a
// no-op if the dialog is already terminated.
func (dlg *Dialog) Terminate(ctx context.Context) error {
	if st := dlg.State(); st == DialogStateTerminated || st == DialogStateError {
		return nil
	}
	return errtrace.Wrap(dlg.fsm.FireCtx(ctx, dlgEvtTerminate))
}

// WaitForState blocks until predicate(dlg.State()) is true or ctx is
// done. It never holds dlg's internal lock while blocked.
func (dlg *Dialog) WaitForState(ctx context.Context, predicate func(DialogState) bool) error {
	if predicate(dlg.State()) {
		return nil
	}

	ch := make(chan struct{}, 1)
	cancel := dlg.OnStateChanged(func(_ context.Context, _ *Dialog, _, to DialogState) {
		if predicate(to) {
			select {
			case ch <- struct{}{}:
			default:
			}
		}
	})
	defer cancel()

	if predicate(dlg.State()) {
		return nil
	}

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return errtrace.Wrap(ctx.Err())
	}
}

// HandleInboundRequest applies an in-dialog request's effect on the
// dialog state (RFC 3261 §12.2.2): it rejects a request whose CSeq did
// not strictly increase over the last one seen from the peer, updates
// the remote target from the request's Contact, and fires the dialog's
// termination transition for a BYE.
func (dlg *Dialog) HandleInboundRequest(ctx context.Context, req *InboundRequest) error {
	method := req.Method()
	hdrs := req.Headers()

	cseq, ok := hdrs.CSeq()
	if !ok {
		return errtrace.Wrap(NewInvalidArgumentError("missing CSeq"))
	}

	if !method.Equal(RequestMethodAck) {
		seqNum := uint32(cseq.SeqNum) //nolint:gosec
		if dlg.remoteCSeqSet.Load() && seqNum <= dlg.remoteCSeq.Load() {
			return errtrace.Wrap(&DialogError{
				Reason: fmt.Sprintf("CSeq %d did not increase past %d", seqNum, dlg.remoteCSeq.Load()),
				ID:     dlg.ID(),
				Cause:  ErrDialogCSeqRegression,
			})
		}
		dlg.remoteCSeq.Store(seqNum)
		dlg.remoteCSeqSet.Store(true)
	}

	if contact, ok := hdrs.FirstContact(); ok {
		dlg.mu.Lock()
		dlg.remoteTarg = contact.URI
		dlg.mu.Unlock()
	}

	if method.Equal(RequestMethodBye) {
		return errtrace.Wrap(dlg.fsm.FireCtx(ctx, dlgEvtBye))
	}
	return nil
}

// targetURI returns the request-URI and Route header to use for an
// in-dialog request, per RFC 3261 §12.2.1.1: the first route-set entry
// if it is a strict router (no "lr" parameter), else the remote target,
// with the corresponding remainder of the route-set carried in Route.
func (dlg *Dialog) targetURI() (target URI, routeHdr []header.RouteHop) {
	dlg.mu.RLock()
	defer dlg.mu.RUnlock()

	if len(dlg.routeSet) > 0 && !hasLooseRouting(dlg.routeSet[0].URI) {
		return dlg.routeSet[0].URI, dlg.routeSet[1:]
	}
	return dlg.remoteTarg, dlg.routeSet
}

func hasLooseRouting(u URI) bool {
	sipURI, ok := u.(*uri.SIP)
	return ok && sipURI.Params.Has("lr")
}

// BuildRequest builds an in-dialog request for method, following RFC
// 3261 §12.2.1.1: From/To carry the dialog's local/remote URI and tags,
// Call-ID matches the dialog, CSeq increments by one for every method
// except ACK and CANCEL (which reuse the last INVITE's CSeq number), and
// the request-URI/Route header follow the dialog's route-set. opts'
// From/To/Call-ID/CSeq/Route entries, if any, are ignored since the
// dialog already owns those.
func (dlg *Dialog) BuildRequest(method RequestMethod, opts *RequestOptions) (*Request, error) {
	if st := dlg.State(); st == DialogStateTerminated || st == DialogStateError {
		return nil, errtrace.Wrap(ErrDialogTerminated)
	}

	dlg.mu.RLock()
	id := dlg.id
	localURI := dlg.localURI
	remoteURI := dlg.remoteURI
	localTarget := dlg.localTarget
	maxFwd := dlg.maxForwards
	dlg.mu.RUnlock()

	target, routeHdr := dlg.targetURI()
	if target == nil {
		return nil, errtrace.Wrap(NewInvalidArgumentError("no remote target"))
	}

	var seqNum uint32
	if method.Equal(RequestMethodAck) || method.Equal(RequestMethodCancel) {
		seqNum = dlg.localCSeq.Load()
	} else {
		seqNum = dlg.localCSeq.Add(1)
	}

	hdrs := make(Headers, 8).
		Set(&header.From{URI: localURI.Clone(), Params: make(Values).Set("tag", id.LocalTag)}).
		Set(&header.To{URI: remoteURI.Clone(), Params: make(Values).Set("tag", id.RemoteTag)}).
		Set(header.CallID(id.CallID)).
		Set(&header.CSeq{SeqNum: uint(seqNum), Method: method}).
		Set(header.MaxForwards(maxFwd))

	if len(routeHdr) > 0 {
		hdrs.Set(header.Route(routeHdr))
	}
	if localTarget != nil {
		hdrs.Set(header.Contact{{URI: localTarget.Clone()}})
	}

	for n, hs := range opts.headers() {
		if n == "From" || n == "To" || n == "Call-ID" || n == "CSeq" || n == "Route" {
			continue
		}
		for _, h := range hs {
			hdrs.Append(h)
		}
	}

	return &Request{
		Method:  method,
		URI:     target.Clone(),
		Proto:   ProtoVer20(),
		Headers: hdrs,
		Body:    opts.body(),
	}, nil
}

// ReInvite builds a new in-dialog INVITE, reusing the dialog's
// established route-set and incrementing local CSeq, sharing
// [Dialog.BuildRequest]'s codepath with the dialog-initiating INVITE.
func (dlg *Dialog) ReInvite(opts *RequestOptions) (*Request, error) {
	return errtrace.Wrap2(dlg.BuildRequest(RequestMethodInvite, opts))
}

// Bye builds the BYE that ends the dialog.
func (dlg *Dialog) Bye(opts *RequestOptions) (*Request, error) {
	return errtrace.Wrap2(dlg.BuildRequest(RequestMethodBye, opts))
}

// Ack builds the ACK for a 2xx response to the dialog-initiating INVITE
// or a re-INVITE. RFC 3261 §13.2.2.4 treats this ACK as its own request
// outside any transaction, unlike the ACK to a non-2xx which the INVITE
// client transaction generates itself.
func (dlg *Dialog) Ack(opts *RequestOptions) (*Request, error) {
	return errtrace.Wrap2(dlg.BuildRequest(RequestMethodAck, opts))
}

func reverseRouteSet(hops []header.RouteHop) []header.RouteHop {
	if len(hops) == 0 {
		return nil
	}
	rev := slices.Clone(hops)
	slices.Reverse(rev)
	return rev
}

// forkClone returns an independent dialog for a not-yet-established UAC
// dialog forking into a distinct remote tag (RFC 3261 §12.1.2: each 2xx
// establishes its own dialog). The clone starts fresh in
// [DialogStateInitial] with its own FSM, sharing none of the parent's
// mutable state beyond the values already fixed at construction time.
func (dlg *Dialog) forkClone(remoteTag string) *Dialog {
	dlg.mu.RLock()
	id := dlg.id
	localURI := dlg.localURI
	remoteURI := dlg.remoteURI
	localTarget := dlg.localTarget
	secure := dlg.secure
	maxFwd := dlg.maxForwards
	dlg.mu.RUnlock()

	id.RemoteTag = remoteTag

	clone := &Dialog{
		ctx:         dlg.ctx,
		log:         dlg.log,
		role:        dlg.role,
		id:          id,
		localURI:    localURI,
		remoteURI:   remoteURI,
		localTarget: localTarget,
		secure:      secure,
		maxForwards: maxFwd,
		activeTx:    make(map[string]struct{}),
	}
	clone.localCSeq.Store(dlg.localCSeq.Load())
	clone.initFSM(DialogStateInitial) //nolint:errcheck

	return clone
}

// LogValue implements [slog.LogValuer].
func (dlg *Dialog) LogValue() slog.Value {
	if dlg == nil {
		return slog.Value{}
	}
	dlg.mu.RLock()
	defer dlg.mu.RUnlock()
	return slog.GroupValue(
		slog.String("id", dlg.id.String()),
		slog.String("role", string(dlg.role)),
	)
}
