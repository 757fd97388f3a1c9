package sip

import (
	"errors"
	"fmt"
	"io"
	"maps"
	"slices"

	"github.com/sipuastack/uacore/internal/errorutil"
	"github.com/sipuastack/uacore/internal/types"
	"github.com/sipuastack/uacore/internal/util"
)

// ResponseStatus is a SIP response status code (1xx-6xx), see RFC 3261 §21.
type ResponseStatus = types.ResponseStatus

// ResponseReason is the human-readable phrase that accompanies a [ResponseStatus].
type ResponseReason = types.ResponseReason

const (
	ResponseStatusTrying               = types.ResponseStatusTrying
	ResponseStatusRinging              = types.ResponseStatusRinging
	ResponseStatusCallIsBeingForwarded = types.ResponseStatusCallIsBeingForwarded
	ResponseStatusQueued               = types.ResponseStatusQueued
	ResponseStatusSessionProgress      = types.ResponseStatusSessionProgress

	ResponseStatusOK             = types.ResponseStatusOK
	ResponseStatusAccepted       = types.ResponseStatusAccepted
	ResponseStatusNoNotification = types.ResponseStatusNoNotification

	ResponseStatusMultipleChoices    = types.ResponseStatusMultipleChoices
	ResponseStatusMovedPermanently   = types.ResponseStatusMovedPermanently
	ResponseStatusMovedTemporarily   = types.ResponseStatusMovedTemporarily
	ResponseStatusUseProxy           = types.ResponseStatusUseProxy
	ResponseStatusAlternativeService = types.ResponseStatusAlternativeService

	ResponseStatusBadRequest                   = types.ResponseStatusBadRequest
	ResponseStatusUnauthorized                 = types.ResponseStatusUnauthorized
	ResponseStatusPaymentRequired               = types.ResponseStatusPaymentRequired
	ResponseStatusForbidden                    = types.ResponseStatusForbidden
	ResponseStatusNotFound                     = types.ResponseStatusNotFound
	ResponseStatusMethodNotAllowed             = types.ResponseStatusMethodNotAllowed
	ResponseStatusNotAcceptable                = types.ResponseStatusNotAcceptable
	ResponseStatusProxyAuthenticationRequired  = types.ResponseStatusProxyAuthenticationRequired
	ResponseStatusRequestTimeout               = types.ResponseStatusRequestTimeout
	ResponseStatusConflict                     = types.ResponseStatusConflict
	ResponseStatusGone                         = types.ResponseStatusGone
	ResponseStatusLengthRequired               = types.ResponseStatusLengthRequired
	ResponseStatusConditionalRequestFailed     = types.ResponseStatusConditionalRequestFailed
	ResponseStatusRequestEntityTooLarge        = types.ResponseStatusRequestEntityTooLarge
	ResponseStatusRequestURITooLong            = types.ResponseStatusRequestURITooLong
	ResponseStatusUnsupportedMediaType         = types.ResponseStatusUnsupportedMediaType
	ResponseStatusUnsupportedURIScheme         = types.ResponseStatusUnsupportedURIScheme
	ResponseStatusUnknownResourcePriority      = types.ResponseStatusUnknownResourcePriority
	ResponseStatusBadExtension                 = types.ResponseStatusBadExtension
	ResponseStatusExtensionRequired            = types.ResponseStatusExtensionRequired
	ResponseStatusSessionIntervalTooSmall      = types.ResponseStatusSessionIntervalTooSmall
	ResponseStatusIntervalTooBrief             = types.ResponseStatusIntervalTooBrief
	ResponseStatusUseIdentityHeader            = types.ResponseStatusUseIdentityHeader
	ResponseStatusProvideReferrerIdentity      = types.ResponseStatusProvideReferrerIdentity
	ResponseStatusFlowFailed                   = types.ResponseStatusFlowFailed
	ResponseStatusAnonymityDisallowed          = types.ResponseStatusAnonymityDisallowed
	ResponseStatusBadIdentityInfo              = types.ResponseStatusBadIdentityInfo
	ResponseStatusUnsupportedCertificate       = types.ResponseStatusUnsupportedCertificate
	ResponseStatusInvalidIdentityHeader        = types.ResponseStatusInvalidIdentityHeader
	ResponseStatusFirstHopLacksOutboundSupport = types.ResponseStatusFirstHopLacksOutboundSupport
	ResponseStatusMaxBreadthExceeded           = types.ResponseStatusMaxBreadthExceeded
	ResponseStatusConsentNeeded                = types.ResponseStatusConsentNeeded
	ResponseStatusTemporarilyUnavailable       = types.ResponseStatusTemporarilyUnavailable
	ResponseStatusCallTransactionDoesNotExist  = types.ResponseStatusCallTransactionDoesNotExist
	ResponseStatusLoopDetected                 = types.ResponseStatusLoopDetected
	ResponseStatusTooManyHops                  = types.ResponseStatusTooManyHops
	ResponseStatusAddressIncomplete            = types.ResponseStatusAddressIncomplete
	ResponseStatusAmbiguous                    = types.ResponseStatusAmbiguous
	ResponseStatusBusyHere                     = types.ResponseStatusBusyHere
	ResponseStatusRequestTerminated            = types.ResponseStatusRequestTerminated
	ResponseStatusNotAcceptableHere            = types.ResponseStatusNotAcceptableHere
	ResponseStatusBadEvent                     = types.ResponseStatusBadEvent
	ResponseStatusRequestPending                = types.ResponseStatusRequestPending
	ResponseStatusUndecipherable                = types.ResponseStatusUndecipherable
	ResponseStatusSecurityAgreementRequired     = types.ResponseStatusSecurityAgreementRequired

	ResponseStatusServerInternalError = types.ResponseStatusServerInternalError
	ResponseStatusNotImplemented      = types.ResponseStatusNotImplemented
	ResponseStatusBadGateway          = types.ResponseStatusBadGateway
	ResponseStatusServiceUnavailable  = types.ResponseStatusServiceUnavailable
	ResponseStatusGatewayTimeout      = types.ResponseStatusGatewayTimeout
	ResponseStatusVersionNotSupported = types.ResponseStatusVersionNotSupported
	ResponseStatusMessageTooLarge     = types.ResponseStatusMessageTooLarge
	ResponseStatusPreconditionFailure = types.ResponseStatusPreconditionFailure

	ResponseStatusBusyEverywhere       = types.ResponseStatusBusyEverywhere
	ResponseStatusDecline              = types.ResponseStatusDecline
	ResponseStatusDoesNotExistAnywhere = types.ResponseStatusDoesNotExistAnywhere
	ResponseStatusNotAcceptable606     = types.ResponseStatusNotAcceptable606
	ResponseStatusDialogTerminated     = types.ResponseStatusDialogTerminated
)

// Response represents a SIP response message, RFC 3261 §7.2.
type Response struct {
	Status  ResponseStatus
	Reason  ResponseReason
	Proto   Proto
	Headers Headers
	Body    []byte

	Metadata Metadata
}

func (res *Response) MessageHeaders() Headers { return res.Headers }

func (res *Response) SetMessageHeaders(h Headers) Message {
	res.Headers = h
	return res
}

func (res *Response) MessageBody() []byte { return res.Body }

func (res *Response) SetMessageBody(b []byte) Message {
	res.Body = b
	return res
}

func (res *Response) MessageMetadata() Metadata { return res.Metadata }

func (res *Response) SetMessageMetadata(data Metadata) Message {
	res.Metadata = data
	return res
}

func (res *Response) RenderMessageTo(w io.Writer) error {
	if res == nil {
		return nil
	}
	if _, err := fmt.Fprint(w, res.Proto, " ", uint(res.Status), " ", res.Reason, "\r\n"); err != nil {
		return err
	}
	if err := renderHeaders(w, res.Headers); err != nil {
		return err
	}
	if _, err := fmt.Fprint(w, "\r\n"); err != nil {
		return err
	}
	if _, err := w.Write(res.Body); err != nil {
		return err
	}
	return nil
}

func (res *Response) RenderMessage() string {
	if res == nil {
		return ""
	}
	sb := util.GetStringBuilder()
	defer util.FreeStringBuilder(sb)
	res.RenderMessageTo(sb) //nolint:errcheck
	return sb.String()
}

func (res *Response) Clone() Message {
	if res == nil {
		return nil
	}
	res2 := *res
	res2.Headers = res.Headers.Clone()
	res2.Body = slices.Clone(res.Body)
	res2.Metadata = maps.Clone(res.Metadata)
	return &res2
}

// IsValid returns whether the response is valid.
func (res *Response) IsValid() bool {
	return res.Validate() == nil
}

// Validate validates the response against RFC 3261 §8.2.6 and returns a
// joined error describing every violation found.
func (res *Response) Validate() error {
	if res == nil {
		return NewInvalidArgumentError("invalid response")
	}

	errs := make([]error, 0, 6)

	if !res.Status.IsValid() {
		errs = append(errs, errorutil.Errorf("invalid status %d", res.Status))
	}
	if !res.Proto.IsValid() {
		errs = append(errs, errorutil.Errorf("invalid protocol %q", res.Proto))
	}
	if !validateHeaders(res.Headers) {
		errs = append(errs, errorutil.Errorf("invalid headers"))
	}
	for _, n := range [...]HeaderName{"Via", "From", "To", "Call-ID", "CSeq"} {
		if !res.Headers.Has(n) {
			errs = append(errs, newMissHdrErr(n))
		}
	}

	return errors.Join(errs...)
}

func (res *Response) Equal(val any) bool {
	var other *Response
	switch v := val.(type) {
	case Response:
		other = &v
	case *Response:
		other = v
	default:
		return false
	}

	if res == other {
		return true
	} else if res == nil || other == nil {
		return false
	}

	return res.Status.Equal(other.Status) &&
		res.Reason.Equal(other.Reason) &&
		res.Proto.Equal(other.Proto) &&
		compareHeaders(res.Headers, other.Headers) &&
		slices.Equal(res.Body, other.Body)
}

// BuildResponse generates a SIP response from a SIP request as described in RFC 3261 Section 8.2.6.
func BuildResponse(req *Request, status ResponseStatus, reason ResponseReason) (*Response, error) {
	if !req.IsValid() {
		return nil, errors.New("request is invalid")
	}

	if reason == "" {
		reason = status.Reason()
	}
	res := &Response{
		Status:   status,
		Reason:   reason,
		Proto:    req.Proto,
		Headers:  make(Headers, 6).CopyFrom(req.Headers, "Via", "From", "To", "Call-ID", "CSeq"),
		Body:     slices.Clone(req.Body),
		Metadata: maps.Clone(req.Metadata),
	}
	if status == ResponseStatusTrying {
		res.Headers.CopyFrom(req.Headers, "Timestamp")
	} else {
		if to, ok := res.Headers.To(); ok {
			if to.Params == nil || !to.Params.Has("tag") {
				if to.Params == nil {
					to.Params = make(Values)
				}
				to.Params.Set("tag", GenerateTag(0))
			}
		}
	}
	return res, nil
}
