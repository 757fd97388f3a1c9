package sip

import "fmt"

// TransportError, TransactionError, DialogError and ProtocolError are
// the typed causes carried by [Error]-returning operations across the
// stack, mirroring the shape of the teacher's per-domain error types
// (gosip's top-level Error and sip.RequestError): a concrete struct
// with an Error() string, plus Category() and Unwrap() so callers can
// dispatch on category or drill into the underlying cause with
// errors.As/errors.Is.
//
// ParseError, the parse-layer member of this family, is defined in
// parser.go alongside the parser it reports errors for.

// TransportError reports a failure at or below the transport layer: a
// bind failure, a send failure, or a socket closing unexpectedly.
type TransportError struct {
	// Op names the failing operation, e.g. "listen", "dial", "send".
	Op      string
	Network string
	Addr    string
	Cause   error
}

func (e *TransportError) Error() string {
	switch {
	case e.Addr != "" && e.Network != "":
		return fmt.Sprintf("sip: transport %s %s/%s: %v", e.Op, e.Network, e.Addr, e.Cause)
	case e.Network != "":
		return fmt.Sprintf("sip: transport %s %s: %v", e.Op, e.Network, e.Cause)
	default:
		return fmt.Sprintf("sip: transport %s: %v", e.Op, e.Cause)
	}
}

func (e *TransportError) Category() string { return "transport" }
func (e *TransportError) Unwrap() error    { return e.Cause }

// TransactionError reports a failure raised by the transaction layer: a
// timer B/F/H timeout, an ICMP-unreachable propagated up from the
// transport, or an input delivered while the transaction's state machine
// cannot accept it.
type TransactionError struct {
	Reason string
	State  TransactionState
	Cause  error
}

func (e *TransactionError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("sip: transaction error in state %s: %s: %v", e.State, e.Reason, e.Cause)
	}
	return fmt.Sprintf("sip: transaction error in state %s: %s", e.State, e.Reason)
}

func (e *TransactionError) Category() string { return "transaction" }
func (e *TransactionError) Unwrap() error    { return e.Cause }

// DialogError reports a failure raised by the dialog layer: an invalid
// in-dialog request, a CSeq regression, or a route-set mismatch.
type DialogError struct {
	Reason string
	ID     DialogID
	Cause  error
}

func (e *DialogError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("sip: dialog %s error: %s: %v", e.ID, e.Reason, e.Cause)
	}
	return fmt.Sprintf("sip: dialog %s error: %s", e.ID, e.Reason)
}

func (e *DialogError) Category() string { return "dialog" }
func (e *DialogError) Unwrap() error    { return e.Cause }

// ProtocolError reports a violation of RFC 3261's wire-level contract
// that the parser cannot catch on its own, e.g. a mandatory header
// missing from a request that has otherwise established a confirmed
// dialog.
type ProtocolError struct {
	Reason string
	Method RequestMethod
	Cause  error
}

func (e *ProtocolError) Error() string {
	if e.Method != "" {
		return fmt.Sprintf("sip: protocol error (%s): %s", e.Method, e.Reason)
	}
	return fmt.Sprintf("sip: protocol error: %s", e.Reason)
}

func (e *ProtocolError) Category() string { return "protocol" }
func (e *ProtocolError) Unwrap() error    { return e.Cause }
