package sip

import "github.com/sipuastack/uacore/internal/errorutil"

// Common errors.
const (
	ErrInvalidArgument        = errorutil.ErrInvalidArgument
	ErrActionNotAllowed Error = "action not allowed"
)

// Transaction errors.
const (
	ErrTransactionNotFound      Error = "transaction not found"
	ErrTransactionNotMatched    Error = "transaction not matched"
	ErrTransactionExists        Error = "transaction already exists"
	ErrTransactionTimedOut      Error = "transaction timed out"
	ErrTransactionTerminated    Error = "transaction terminated"
	ErrTransactionManagerClosed Error = "transaction manager closed"
)

// Dialog errors.
const (
	ErrDialogNotFound       Error = "dialog not found"
	ErrDialogExists         Error = "dialog already exists"
	ErrDialogTerminated     Error = "dialog terminated"
	ErrDialogCSeqRegression Error = "in-dialog request CSeq did not increase"
	ErrDialogManagerClosed  Error = "dialog manager closed"
)

// Transport errors.
const (
	// ErrTransportClosed is returned when attempting to use a closed transport.
	ErrTransportClosed Error = "transport closed"
	// ErrNoTarget is returned when no target for the message is resolved.
	ErrNoTarget Error = "no target resolved"
	// ErrUnhandledMessage is returned when the message wasn't handled by any receiver or sender.
	ErrUnhandledMessage Error = "unhandled message"
	ErrNoTransport      Error = "no transport resolved"

	errNoConn Error = "no connection found"
)

// Message errors.
const (
	ErrInvalidMessage    Error = "invalid message"
	ErrEntityTooLarge    Error = "entity too large"
	ErrMessageTooLarge   Error = "message too large"
	ErrMethodNotAllowed  Error = "request method not allowed"
	ErrMessageNotMatched Error = "message not matched"

	errMissHdrs Error = "missing mandatory headers"
)

// Error represents a SIP error.
// See [errorutil.Error].
type Error = errorutil.Error

// NewInvalidArgumentError creates a new error with [ErrInvalidArgument] or
// wraps provided error with [ErrInvalidArgument].
func NewInvalidArgumentError(args ...any) error {
	return errorutil.NewInvalidArgumentError(args...) //errtrace:skip
}

// NewInvalidMessageError wraps err with [ErrInvalidMessage].
func NewInvalidMessageError(err error) error {
	return errorutil.NewWrapperError(ErrInvalidMessage, err) //errtrace:skip
}

// newMissHdrErr wraps [errMissHdrs] naming the missing header.
func newMissHdrErr(name HeaderName) error {
	return errorutil.NewWrapperError(errMissHdrs, string(name)) //errtrace:skip
}
