package sip

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"sync"
	"sync/atomic"

	"braces.dev/errtrace"

	"github.com/sipuastack/uacore/internal/types"
	"github.com/sipuastack/uacore/log"
	"github.com/sipuastack/uacore/sip/fsm"
)

// TransactionType identifies the kind of SIP transaction (client or server,
// INVITE or non-INVITE), see RFC 3261 section 17.
type TransactionType string

const (
	TransactionTypeClientInvite    TransactionType = "client-invite"
	TransactionTypeClientNonInvite TransactionType = "client-non-invite"
	TransactionTypeServerInvite    TransactionType = "server-invite"
	TransactionTypeServerNonInvite TransactionType = "server-non-invite"
)

// TransactionState is a state of the transaction FSM, see RFC 3261 section 17.
type TransactionState string

const (
	TransactionStateCalling    TransactionState = "calling"
	TransactionStateTrying     TransactionState = "trying"
	TransactionStateProceeding TransactionState = "proceeding"
	TransactionStateAccepted   TransactionState = "accepted"
	TransactionStateCompleted  TransactionState = "completed"
	TransactionStateConfirmed  TransactionState = "confirmed"
	TransactionStateTerminated TransactionState = "terminated"
)

// Transaction is the common behavior of client and server SIP transactions.
// See [ClientTransaction] and [ServerTransaction] for the role-specific parts.
type Transaction interface {
	// Type returns the transaction type.
	Type() TransactionType
	// State returns the transaction's current state.
	State() TransactionState
	// OnStateChanged registers a callback to be called whenever the
	// transaction's state changes.
	//
	// The callback can be canceled by calling the returned cancel function.
	// Multiple callbacks can be registered.
	OnStateChanged(fn TransactionStateHandler) (cancel func())
	// Terminate forces the transaction into the terminated state, releasing
	// its timers and resources. It is a no-op if the transaction is already
	// terminated.
	Terminate(ctx context.Context) error
	// LastError returns the error that drove the transaction into
	// [TransactionStateTerminated] abnormally, or nil if it terminated
	// normally or has not yet terminated.
	LastError() error
}

// transactImpl is implemented by the concrete leaf transaction types
// (InviteClientTransaction, NonInviteServerTransaction, and so on) embedding
// [baseTransact]/[clientTransact]/[serverTransact].
type transactImpl interface {
	initFSM(start TransactionState) error
}

const (
	txEvtTranspErr = "transport_error"
	txEvtTerminate = "terminate"
)

// baseTransact implements the parts of [Transaction] shared by client and
// server transactions: state tracking through a [fsm.Machine], state-change
// notification and forced termination.
type baseTransact struct {
	ctx context.Context //nolint:containedctx
	log *slog.Logger
	typ TransactionType
	impl any

	fsm *fsm.Machine

	onState types.CallbackManager[TransactionStateHandler]

	terminated chan struct{}
	termOnce   sync.Once

	lastErr atomic.Pointer[error]
}

func newBaseTransact(ctx context.Context, typ TransactionType, impl any, logger *slog.Logger) *baseTransact {
	if logger == nil {
		logger = log.Default()
	}
	return &baseTransact{
		ctx:        ctx,
		log:        logger,
		typ:        typ,
		impl:       impl,
		terminated: make(chan struct{}),
	}
}

// Context returns the transaction's own context, rooted independently of any
// request/response context that flows through it. It lives for as long as
// the transaction does and is canceled when the transaction terminates.
func (tx *baseTransact) Context() context.Context {
	return tx.ctx
}

// Type returns the transaction type.
func (tx *baseTransact) Type() TransactionType {
	if tx == nil {
		return ""
	}
	return tx.typ
}

// State returns the transaction's current state.
func (tx *baseTransact) State() TransactionState {
	if tx == nil || tx.fsm == nil {
		return ""
	}
	return tx.fsm.State().(TransactionState) //nolint:forcetypeassert
}

// LastError returns the error that drove the transaction into
// [TransactionStateTerminated] abnormally (a transport failure or a timer
// B/F/H timeout), or nil for a transaction that completed normally. See
// the §7 error taxonomy's propagation policy: errors below the
// transaction layer attach here rather than raising across strand
// boundaries.
func (tx *baseTransact) LastError() error {
	if tx == nil {
		return nil
	}
	if p := tx.lastErr.Load(); p != nil {
		return *p
	}
	return nil
}

func (tx *baseTransact) setLastError(cause error) {
	tx.lastErr.Store(&cause)
}

func (tx *baseTransact) initFSM(start TransactionState) error {
	tx.fsm = fsm.New(start)
	tx.fsm.OnTransitioned(tx.onTransitioned)
	return nil
}

func (tx *baseTransact) onTransitioned(t fsm.Transition) {
	from, _ := t.Source.(TransactionState)
	to, ok := t.Destination.(TransactionState)
	if !ok || from == to {
		return
	}

	tx.log.LogAttrs(tx.ctx, slog.LevelDebug,
		"transaction state changed",
		slog.Any("transaction", tx.impl),
		slog.Any("from", from),
		slog.Any("to", to),
	)

	tx.onState.Range(func(fn TransactionStateHandler) {
		fn(tx.ctx, from, to)
	})

	if to == TransactionStateTerminated {
		tx.termOnce.Do(func() { close(tx.terminated) })
	}
}

// OnStateChanged registers a callback to be called whenever the transaction's
// state changes.
//
// The callback will be called with the transaction's context, see [Transaction.Context].
// The transaction can be retrieved from the context using [TransactionFromContext].
func (tx *baseTransact) OnStateChanged(fn TransactionStateHandler) (cancel func()) {
	return tx.onState.Add(fn)
}

// Terminate forces the transaction into the terminated state.
// It is a no-op if the transaction is already terminated.
func (tx *baseTransact) Terminate(ctx context.Context) error {
	if tx.State() == TransactionStateTerminated {
		return nil
	}
	if err := tx.fsm.FireCtx(ctx, txEvtTerminate); err != nil {
		return errtrace.Wrap(fmt.Errorf("terminate transaction: %w", err))
	}
	return nil
}

//nolint:unparam
func (tx *baseTransact) actNoop(_ context.Context, _ ...any) error { return nil }

func (tx *baseTransact) actTerminated(ctx context.Context, _ ...any) error {
	tx.log.LogAttrs(ctx, slog.LevelDebug, "transaction terminated", slog.Any("transaction", tx.impl))
	return nil
}

func (tx *baseTransact) actTranspErr(ctx context.Context, args ...any) error {
	var err error
	if len(args) > 0 {
		err, _ = args[0].(error)
	}
	cause := &TransportError{Op: "send", Cause: err}
	tx.setLastError(cause)

	tx.log.LogAttrs(ctx, slog.LevelWarn,
		"transaction terminated due to transport error",
		slog.Any("transaction", tx.impl),
		slog.Any("error", cause),
	)
	return nil
}

func (tx *baseTransact) actTimedOut(ctx context.Context, _ ...any) error {
	cause := &TransactionError{Reason: string(ErrTransactionTimedOut), State: tx.State()}
	tx.setLastError(cause)

	tx.log.LogAttrs(ctx, slog.LevelDebug,
		"transaction timed out",
		slog.Any("transaction", tx.impl),
		slog.Any("error", cause),
	)
	return nil
}

const transactCtxKey types.ContextKey = "transaction"

// ContextWithTransaction returns a copy of ctx carrying tx, retrievable with
// [TransactionFromContext].
func ContextWithTransaction(ctx context.Context, tx Transaction) context.Context {
	return context.WithValue(ctx, transactCtxKey, tx)
}

// TransactionFromContext returns the transaction carried by ctx, if any.
func TransactionFromContext(ctx context.Context) (Transaction, bool) {
	tx, ok := ctx.Value(transactCtxKey).(Transaction)
	return tx, ok
}

// TransactionStore stores transactions of type V, keyed by K, and matches
// inbound messages to the transaction they belong to.
type TransactionStore[K comparable, V any] interface {
	// Load returns the transaction stored under key.
	// It returns [ErrTransactionNotFound] if no transaction is stored under key.
	Load(ctx context.Context, key K) (V, error)
	// Store stores tx, keyed by the key its Key method reports.
	// It returns [ErrTransactionExists] if a transaction is already stored under that key.
	Store(ctx context.Context, tx V) error
	// Delete removes tx from the store.
	// It returns [ErrTransactionNotFound] if tx is not stored.
	Delete(ctx context.Context, tx V) error
	// All returns an iterator over every stored transaction.
	All(ctx context.Context) (iter.Seq[V], error)
	// LookupMatched returns the stored transaction that matches msg.
	// It returns [ErrTransactionNotFound] if no transaction matches.
	LookupMatched(ctx context.Context, msg Message) (V, error)
}

type keyer[K comparable] interface {
	Key() K
}

type memoryTransactionStore[K comparable, V any] struct {
	mu  sync.RWMutex
	txs map[K]V
}

// NewMemoryTransactionStore creates an in-memory [TransactionStore].
// V is expected to implement Key() K, e.g. [ClientTransaction] or [ServerTransaction].
func NewMemoryTransactionStore[K comparable, V any]() TransactionStore[K, V] {
	return &memoryTransactionStore[K, V]{txs: make(map[K]V)}
}

func (s *memoryTransactionStore[K, V]) key(tx V) (K, error) {
	v, ok := any(tx).(keyer[K])
	if !ok {
		var zero K
		return zero, errtrace.Wrap(NewInvalidArgumentError("invalid transaction"))
	}
	return v.Key(), nil
}

func (s *memoryTransactionStore[K, V]) Load(_ context.Context, key K) (V, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tx, ok := s.txs[key]
	if !ok {
		var zero V
		return zero, errtrace.Wrap(ErrTransactionNotFound)
	}
	return tx, nil
}

func (s *memoryTransactionStore[K, V]) Store(_ context.Context, tx V) error {
	key, err := s.key(tx)
	if err != nil {
		return errtrace.Wrap(err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.txs == nil {
		s.txs = make(map[K]V)
	}
	if _, ok := s.txs[key]; ok {
		return errtrace.Wrap(ErrTransactionExists)
	}
	s.txs[key] = tx
	return nil
}

func (s *memoryTransactionStore[K, V]) Delete(_ context.Context, tx V) error {
	key, err := s.key(tx)
	if err != nil {
		return errtrace.Wrap(err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.txs[key]; !ok {
		return errtrace.Wrap(ErrTransactionNotFound)
	}
	delete(s.txs, key)
	return nil
}

func (s *memoryTransactionStore[K, V]) all() iter.Seq[V] {
	return func(yield func(V) bool) {
		s.mu.RLock()
		txs := make([]V, 0, len(s.txs))
		for _, tx := range s.txs {
			txs = append(txs, tx)
		}
		s.mu.RUnlock()

		for _, tx := range txs {
			if !yield(tx) {
				return
			}
		}
	}
}

func (s *memoryTransactionStore[K, V]) All(_ context.Context) (iter.Seq[V], error) {
	return s.all(), nil
}

func (s *memoryTransactionStore[K, V]) LookupMatched(_ context.Context, msg Message) (V, error) {
	var zero V

	for tx := range s.all() {
		var err error
		switch m := any(tx).(type) {
		case interface{ MatchRequest(req *InboundRequest) error }:
			req, ok := msg.(*InboundRequestEnvelope)
			if !ok {
				return zero, errtrace.Wrap(NewInvalidArgumentError("invalid message"))
			}
			err = m.MatchRequest(req)
		case interface{ MatchResponse(res *InboundResponse) error }:
			res, ok := msg.(*InboundResponseEnvelope)
			if !ok {
				return zero, errtrace.Wrap(NewInvalidArgumentError("invalid message"))
			}
			err = m.MatchResponse(res)
		default:
			return zero, errtrace.Wrap(NewInvalidArgumentError("invalid transaction"))
		}

		if err == nil {
			return tx, nil
		}
		if errors.Is(err, ErrInvalidArgument) {
			return zero, errtrace.Wrap(err)
		}
	}

	return zero, errtrace.Wrap(ErrTransactionNotFound)
}

// ServerTransactionFactoryFunc adapts a plain function to [ServerTransactionFactory].
type ServerTransactionFactoryFunc func(
	ctx context.Context,
	req *InboundRequest,
	tp ServerTransport,
	opts *ServerTransactionOptions,
) (ServerTransaction, error)

func (fn ServerTransactionFactoryFunc) NewServerTransaction(
	ctx context.Context,
	req *InboundRequest,
	tp ServerTransport,
	opts *ServerTransactionOptions,
) (ServerTransaction, error) {
	return errtrace.Wrap2(fn(ctx, req, tp, opts))
}

// NewServerTransaction creates a new server transaction for req, choosing the
// INVITE or non-INVITE state machine based on its method.
func NewServerTransaction(
	ctx context.Context,
	req *InboundRequest,
	tp ServerTransport,
	opts *ServerTransactionOptions,
) (ServerTransaction, error) {
	return errtrace.Wrap2(DefaultServerTransactionFactory().NewServerTransaction(ctx, req, tp, opts))
}

// ClientTransactionFactoryFunc adapts a plain function to [ClientTransactionFactory].
type ClientTransactionFactoryFunc func(
	ctx context.Context,
	req *OutboundRequest,
	tp ClientTransport,
	opts *ClientTransactionOptions,
) (ClientTransaction, error)

func (fn ClientTransactionFactoryFunc) NewClientTransaction(
	ctx context.Context,
	req *OutboundRequest,
	tp ClientTransport,
	opts *ClientTransactionOptions,
) (ClientTransaction, error) {
	return errtrace.Wrap2(fn(ctx, req, tp, opts))
}

// NewClientTransaction creates a new client transaction for req, choosing the
// INVITE or non-INVITE state machine based on its method.
func NewClientTransaction(
	ctx context.Context,
	req *OutboundRequest,
	tp ClientTransport,
	opts *ClientTransactionOptions,
) (ClientTransaction, error) {
	return errtrace.Wrap2(DefaultClientTransactionFactory().NewClientTransaction(ctx, req, tp, opts))
}
