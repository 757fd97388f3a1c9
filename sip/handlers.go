package sip

import "context"

// Handler type aliases.
type (
	ErrorHandler = func(ctx context.Context, err error)

	InboundResponseHandler  = func(ctx context.Context, res *InboundResponseEnvelope)
	InboundRequestHandler   = func(ctx context.Context, req *InboundRequestEnvelope)
	OutboundRequestHandler  = func(ctx context.Context, req *OutboundRequestEnvelope)
	OutboundResponseHandler = func(ctx context.Context, res *OutboundResponseEnvelope)

	// RequestHandler is called with a request delivered out-of-band of the
	// normal transport receive path, e.g. an ACK passed to a terminated
	// INVITE server transaction or a request re-delivered by a transaction layer.
	RequestHandler = func(ctx context.Context, req *InboundRequest)

	TransactionStateHandler  = func(ctx context.Context, from, to TransactionState)
	ClientTransactionHandler = func(ctx context.Context, tx ClientTransaction)
	ServerTransactionHandler = func(ctx context.Context, tx ServerTransaction)

	DialogStateHandler = func(ctx context.Context, dlg *Dialog, from, to DialogState)
	NewDialogHandler   = func(ctx context.Context, dlg *Dialog)
)

// Handler interfaces.
type (
	TransactionInitHandlerRegistry interface {
		OnNewClientTransaction(fn ClientTransactionHandler) (unbind func())
		OnNewServerTransaction(fn ServerTransactionHandler) (unbind func())
	}
)
