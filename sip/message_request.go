package sip

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"slices"
	"strconv"

	"github.com/sipuastack/uacore/header"
	"github.com/sipuastack/uacore/internal/errorutil"
	"github.com/sipuastack/uacore/internal/types"
	"github.com/sipuastack/uacore/internal/util"
)

// RequestMethod represents a SIP request method.
// See [types.RequestMethod].
type RequestMethod = types.RequestMethod

// Request method constants.
// See [types.RequestMethod].
const (
	RequestMethodAck       = types.RequestMethodAck
	RequestMethodBye       = types.RequestMethodBye
	RequestMethodCancel    = types.RequestMethodCancel
	RequestMethodInfo      = types.RequestMethodInfo
	RequestMethodInvite    = types.RequestMethodInvite
	RequestMethodMessage   = types.RequestMethodMessage
	RequestMethodNotify    = types.RequestMethodNotify
	RequestMethodOptions   = types.RequestMethodOptions
	RequestMethodPrack     = types.RequestMethodPrack
	RequestMethodPublish   = types.RequestMethodPublish
	RequestMethodRefer     = types.RequestMethodRefer
	RequestMethodRegister  = types.RequestMethodRegister
	RequestMethodSubscribe = types.RequestMethodSubscribe
	RequestMethodUpdate    = types.RequestMethodUpdate
)

// IsKnownRequestMethod returns whether the method is a known SIP request method.
func IsKnownRequestMethod(method RequestMethod) bool {
	return types.IsKnownRequestMethod(method)
}

// Request represents a SIP request message, RFC 3261 §7.1.
type Request struct {
	Method  RequestMethod `json:"method"`
	URI     URI           `json:"uri"`
	Proto   Proto         `json:"proto"`
	Headers Headers       `json:"headers"`
	Body    []byte        `json:"body"`

	Metadata Metadata `json:"-"`
}

func (req *Request) MessageHeaders() Headers { return req.Headers }

func (req *Request) SetMessageHeaders(h Headers) Message {
	req.Headers = h
	return req
}

func (req *Request) MessageBody() []byte { return req.Body }

func (req *Request) SetMessageBody(b []byte) Message {
	req.Body = b
	return req
}

func (req *Request) MessageMetadata() Metadata { return req.Metadata }

func (req *Request) SetMessageMetadata(data Metadata) Message {
	req.Metadata = data
	return req
}

func (req *Request) RenderMessageTo(w io.Writer) error {
	if req == nil {
		return nil
	}
	if _, err := fmt.Fprint(w, req.Method, " "); err != nil {
		return err
	}
	if req.URI != nil {
		if _, err := req.URI.RenderTo(w, nil); err != nil {
			return err
		}
	}
	if _, err := fmt.Fprint(w, " ", req.Proto, "\r\n"); err != nil {
		return err
	}
	if err := renderHeaders(w, req.Headers); err != nil {
		return err
	}
	if _, err := fmt.Fprint(w, "\r\n"); err != nil {
		return err
	}
	if _, err := w.Write(req.Body); err != nil {
		return err
	}
	return nil
}

func (req *Request) RenderMessage() string {
	if req == nil {
		return ""
	}
	sb := util.GetStringBuilder()
	defer util.FreeStringBuilder(sb)
	req.RenderMessageTo(sb) //nolint:errcheck
	return sb.String()
}

// String returns the request start line.
func (req *Request) String() string {
	if req == nil {
		return "<nil>"
	}
	sb := util.GetStringBuilder()
	defer util.FreeStringBuilder(sb)
	fmt.Fprint(sb, req.Method, " ")
	if req.URI != nil {
		fmt.Fprint(sb, req.URI.Render(nil))
	}
	fmt.Fprint(sb, " ", req.Proto)
	return sb.String()
}

// Format implements [fmt.Formatter] for custom formatting.
func (req *Request) Format(f fmt.State, verb rune) {
	switch verb {
	case 's':
		if f.Flag('+') {
			req.RenderMessageTo(f) //nolint:errcheck
			return
		}
		fmt.Fprint(f, req.String())
		return
	case 'q':
		if f.Flag('+') {
			fmt.Fprint(f, strconv.Quote(req.RenderMessage()))
			return
		}
		fmt.Fprint(f, strconv.Quote(req.String()))
		return
	default:
		type hideMethods Request
		type Request hideMethods
		fmt.Fprintf(f, fmt.FormatString(f, verb), (*Request)(req))
		return
	}
}

// LogValue implements [slog.LogValuer] for structured logging.
func (req *Request) LogValue() slog.Value {
	if req == nil {
		return slog.Value{}
	}

	attrs := make([]slog.Attr, 0, 6)
	attrs = append(attrs, slog.String("method", string(req.Method)), slog.Any("uri", req.URI))
	if hop, ok := util.IterFirst(slices.Values(req.Headers.Via())); ok {
		attrs = append(attrs, slog.Any("Via", hop))
	}
	if from, ok := req.Headers.From(); ok {
		attrs = append(attrs, slog.Any("From", from))
	}
	if to, ok := req.Headers.To(); ok {
		attrs = append(attrs, slog.Any("To", to))
	}
	if id, ok := req.Headers.CallID(); ok {
		attrs = append(attrs, slog.Any("Call-ID", id))
	}
	if cseq, ok := req.Headers.CSeq(); ok {
		attrs = append(attrs, slog.Any("CSeq", cseq))
	}

	return slog.GroupValue(attrs...)
}

// Clone returns a deep copy of the request.
func (req *Request) Clone() Message {
	if req == nil {
		return nil
	}

	req2 := *req
	if req.URI != nil {
		req2.URI = req.URI.Clone()
	}
	req2.Headers = req.Headers.Clone()
	req2.Body = slices.Clone(req.Body)
	req2.Metadata = maps.Clone(req.Metadata)
	return &req2
}

// Equal returns whether the request is equal to another value.
func (req *Request) Equal(val any) bool {
	var other *Request
	switch v := val.(type) {
	case Request:
		other = &v
	case *Request:
		other = v
	default:
		return false
	}

	if req == other {
		return true
	} else if req == nil || other == nil {
		return false
	}

	uriEq := req.URI == other.URI
	if req.URI != nil && other.URI != nil {
		uriEq = req.URI.Equal(other.URI)
	}

	return req.Method.Equal(other.Method) &&
		req.Proto.Equal(other.Proto) &&
		uriEq &&
		compareHeaders(req.Headers, other.Headers) &&
		slices.Equal(req.Body, other.Body)
}

var reqMandatoryHdrs = map[HeaderName]bool{
	"Via":          true,
	"From":         true,
	"To":           true,
	"Call-ID":      true,
	"CSeq":         true,
	"Max-Forwards": true,
}

// IsValid returns whether the request is valid.
func (req *Request) IsValid() bool {
	return req.Validate() == nil
}

// Validate validates the request against RFC 3261 §8.1.1 and returns a
// joined error describing every violation found.
func (req *Request) Validate() error {
	if req == nil {
		return NewInvalidArgumentError("invalid request")
	}

	errs := make([]error, 0, 10)

	if !req.Method.IsValid() {
		errs = append(errs, errorutil.Errorf("invalid method %q", req.Method))
	}
	if req.URI == nil || !req.URI.IsValid() {
		errs = append(errs, errorutil.Errorf("invalid request URI %q", req.URI))
	}
	if !req.Proto.IsValid() {
		errs = append(errs, errorutil.Errorf("invalid protocol %q", req.Proto))
	}
	if !validateHeaders(req.Headers) {
		errs = append(errs, errorutil.Errorf("invalid headers"))
	}
	for n := range reqMandatoryHdrs {
		if !req.Headers.Has(n) {
			errs = append(errs, newMissHdrErr(n))
		}
	}
	if cl, ok := req.Headers.ContentLength(); ok {
		if cl, bl := int(cl), len(req.Body); cl != bl {
			errs = append(errs, errorutil.Errorf("content length mismatch: got %d, want %d", cl, bl))
		}
	}

	if len(errs) > 0 {
		return NewInvalidMessageError(errorutil.Join(errs...))
	}
	return nil
}

func (req *Request) UnmarshalJSON(data []byte) error {
	var reqData struct {
		Method  RequestMethod `json:"method"`
		URI     string        `json:"uri"`
		Proto   Proto         `json:"proto"`
		Headers Headers       `json:"headers"`
		Body    []byte        `json:"body"`
	}
	if err := json.Unmarshal(data, &reqData); err != nil {
		return err
	}

	req.Method = reqData.Method
	req.Proto = reqData.Proto
	req.Headers = reqData.Headers
	req.Body = reqData.Body

	if reqData.URI != "" {
		u, err := ParseURI(reqData.URI)
		if err != nil {
			return fmt.Errorf("parse URI: %w", err)
		}
		req.URI = u
	} else {
		req.URI = nil
	}
	return nil
}

// RequestOptions carries the optional parts of a request built with
// [NewRequest]: everything RFC 3261 §8.1.1 leaves up to the sending UA
// beyond the method and the three URIs (request-URI, From, To) it is
// constructed from.
type RequestOptions struct {
	CallID  string
	SeqNum  uint32
	FromTag string
	Headers Headers
	Body    []byte
}

func (o *RequestOptions) callID() string {
	if o == nil {
		return ""
	}
	return o.CallID
}

func (o *RequestOptions) seqNum() uint32 {
	if o == nil {
		return 0
	}
	return o.SeqNum
}

func (o *RequestOptions) fromTag() string {
	if o == nil {
		return ""
	}
	return o.FromTag
}

func (o *RequestOptions) headers() Headers {
	if o == nil {
		return nil
	}
	return o.Headers
}

func (o *RequestOptions) body() []byte {
	if o == nil {
		return nil
	}
	return o.Body
}

// NewRequest builds a request as described in RFC 3261 §8.1.1: target
// becomes the request-URI, from and to seed the From/To headers (From
// gets a freshly generated tag unless opts.FromTag is set), and a
// Call-ID, CSeq and Max-Forwards are generated unless opts overrides
// them. The request carries no Via header; that is stamped by whatever
// sends it (a transaction or a transport interceptor), since only the
// sender knows the hop it is being sent over.
func NewRequest(method RequestMethod, target, from, to URI, opts *RequestOptions) (*Request, error) {
	if !method.IsValid() {
		return nil, NewInvalidArgumentError("invalid method")
	}
	if target == nil || from == nil || to == nil {
		return nil, NewInvalidArgumentError("invalid request URI")
	}

	callID := opts.callID()
	if callID == "" {
		callID = GenerateCallID()
	}
	fromTag := opts.fromTag()
	if fromTag == "" {
		fromTag = GenerateTag(0)
	}
	seqNum := opts.seqNum()
	if seqNum == 0 {
		seqNum = GenerateCSeq()
	}

	req := &Request{
		Method: method,
		URI:    target.Clone(),
		Proto:  ProtoVer20(),
		Body:   opts.body(),
		Headers: make(Headers, 6).
			Set(&header.From{URI: from.Clone(), Params: make(Values).Set("tag", fromTag)}).
			Set(&header.To{URI: to.Clone()}).
			Set(header.CallID(callID)).
			Set(&header.CSeq{SeqNum: uint(seqNum), Method: method}).
			Set(header.MaxForwards(70)),
	}

	for n, hs := range opts.headers() {
		for _, h := range hs {
			if n == "From" || n == "To" || n == "Call-ID" || n == "CSeq" {
				continue
			}
			req.Headers.Append(h)
		}
	}

	return req, nil
}

// ResponseOptions carries the optional parts of a response built with
// [Request.NewResponse]: everything RFC 3261 §8.2.6.1/8.2.6.2 leaves up to
// the responding UA beyond the headers copied automatically from the request.
type ResponseOptions struct {
	Reason   ResponseReason
	Headers  Headers
	Body     []byte
	LocalTag string
}

func (o *ResponseOptions) reason() ResponseReason {
	if o == nil {
		return ""
	}
	return o.Reason
}

func (o *ResponseOptions) headers() Headers {
	if o == nil {
		return nil
	}
	return o.Headers
}

func (o *ResponseOptions) body() []byte {
	if o == nil {
		return nil
	}
	return o.Body
}

func (o *ResponseOptions) locTag() string {
	if o == nil {
		return ""
	}
	return o.LocalTag
}

var (
	reqCopyHdrsMap = map[HeaderName]bool{
		"Via":       true,
		"From":      true,
		"To":        true,
		"Call-ID":   true,
		"CSeq":      true,
		"Timestamp": true,
	}
	reqCopyHdrsSlice = slices.Collect(maps.Keys(reqCopyHdrsMap))
)

// NewResponse builds a response to req as described in RFC 3261 §8.2.6:
// the dialog-identifying headers are copied over, a local tag is attached
// to the To header for every status but 100 Trying, and any headers in
// opts not already copied are appended.
func (req *Request) NewResponse(sts ResponseStatus, opts *ResponseOptions) (*Response, error) {
	if req == nil {
		return nil, NewInvalidArgumentError("invalid request")
	}
	if req.Method.Equal(RequestMethodAck) {
		return nil, NewInvalidArgumentError(ErrMethodNotAllowed)
	}

	res := &Response{
		Status:  sts,
		Reason:  opts.reason(),
		Proto:   req.Proto,
		Headers: make(Headers, 6).CopyFrom(req.Headers, reqCopyHdrsSlice[0], reqCopyHdrsSlice[1:]...),
		Body:    opts.body(),
	}
	if res.Reason == "" {
		res.Reason = sts.Reason()
	}

	if to, ok := res.Headers.To(); sts != ResponseStatusTrying && ok {
		locTag := opts.locTag()
		if locTag == "" {
			locTag = GenerateTag(0)
		}
		if to.Params == nil || !to.Params.Has("tag") {
			if to.Params == nil {
				to.Params = make(Values)
			}
			to.Params.Set("tag", locTag)
		}
	}

	for n, hs := range opts.headers() {
		if reqCopyHdrsMap[n] {
			continue
		}
		for _, h := range hs {
			res.Headers.Append(h)
		}
	}

	if v, ok := req.MessageMetadata().Get(reqTimeDataKey); ok {
		md := res.MessageMetadata()
		md.Set(reqTimeDataKey, v)
		res.SetMessageMetadata(md)
	}

	return res, nil
}
