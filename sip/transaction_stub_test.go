package sip_test

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/sipuastack/uacore/sip"
)

// stubTransaction is a minimal [sip.Transaction] used to exercise code that
// only cares about transaction type and state-change notification, without
// running a real FSM.
type stubTransaction struct {
	typ   sip.TransactionType
	state atomic.Value // sip.TransactionState

	mu       sync.Mutex
	handlers []sip.TransactionStateHandler
}

func (tx *stubTransaction) Type() sip.TransactionType { return tx.typ }

func (tx *stubTransaction) State() sip.TransactionState {
	st, _ := tx.state.Load().(sip.TransactionState)
	return st
}

func (tx *stubTransaction) OnStateChanged(fn sip.TransactionStateHandler) (cancel func()) {
	tx.mu.Lock()
	tx.handlers = append(tx.handlers, fn)
	tx.mu.Unlock()
	return func() {}
}

func (tx *stubTransaction) Terminate(context.Context) error {
	tx.fireState(sip.TransactionStateTerminated)
	return nil
}

// fireState updates the stub's state and notifies every registered handler.
func (tx *stubTransaction) fireState(to sip.TransactionState) {
	from := tx.State()
	tx.state.Store(to)

	tx.mu.Lock()
	handlers := append([]sip.TransactionStateHandler(nil), tx.handlers...)
	tx.mu.Unlock()

	for _, fn := range handlers {
		fn(context.Background(), from, to)
	}
}

type stubClientTransaction struct {
	stubTransaction
	key        sip.ClientTransactionKey
	recvCalled atomic.Bool
}

func (tx *stubClientTransaction) Key() sip.ClientTransactionKey { return tx.key }

func (tx *stubClientTransaction) MatchResponse(res *sip.InboundResponse) error {
	resKey, err := sip.MakeClientTransactionKey(res)
	if err != nil {
		return err
	}
	if !tx.key.Equal(resKey) {
		return sip.ErrTransactionNotMatched
	}
	return nil
}

func (tx *stubClientTransaction) RecvResponse(context.Context, *sip.InboundResponse) error {
	tx.recvCalled.Store(true)
	return nil
}

func (tx *stubClientTransaction) OnResponse(sip.TransactionResponseHandler) (cancel func()) {
	return func() {}
}

type stubServerTransaction struct {
	stubTransaction
	key        sip.ServerTransactionKey
	recvCalled atomic.Bool
}

func (tx *stubServerTransaction) Key() sip.ServerTransactionKey { return tx.key }

func (tx *stubServerTransaction) MatchRequest(req *sip.InboundRequest) error {
	reqKey, err := sip.MakeServerTransactionKey(req)
	if err != nil {
		return err
	}
	if !tx.key.Equal(reqKey) {
		return sip.ErrTransactionNotMatched
	}
	return nil
}

func (tx *stubServerTransaction) RecvRequest(context.Context, *sip.InboundRequest) error {
	tx.recvCalled.Store(true)
	return nil
}

func (tx *stubServerTransaction) Respond(context.Context, sip.ResponseStatus, *sip.RespondOptions) error {
	return nil
}
