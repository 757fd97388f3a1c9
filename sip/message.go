package sip

import (
	"io"
	"math/rand/v2"
	"slices"

	"github.com/sipuastack/uacore/header"
	"github.com/sipuastack/uacore/internal/util"
	"github.com/sipuastack/uacore/uri"
)

// URI represents a request target or an address URI (sip, sips, tel, ...etc).
type URI = uri.URI

// ParseURI parses a URI from the given input s (string or []byte).
func ParseURI[T ~string | ~[]byte](s T) (URI, error) { return uri.Parse(s) }

// HeaderName identifies a SIP header field by its canonical name.
type HeaderName = header.Name

// Header is a single parsed SIP header field.
type Header = header.Header

// HeaderParser parses a custom, non-standard header value.
type HeaderParser = header.Parser

// CanonicHeaderName converts name to its canonical form (see [header.CanonicName]).
func CanonicHeaderName[T ~string](name T) HeaderName { return header.CanonicName(name) }

// ParseHeader parses a single "Name: value" header line, registering any
// custom parsers in hdrPrs first so they take precedence for names the
// header package doesn't know natively.
func ParseHeader(line []byte, hdrPrs map[string]HeaderParser) (Header, error) {
	for name, p := range hdrPrs {
		header.RegisterParser(name, p)
	}
	return header.Parse(line)
}

// Message is implemented by [Request] and [Response]. It exposes the parts
// of a SIP message that the wire codec (see [ParsePacket], [ParseStream])
// reads and writes without needing to know which kind of message it holds.
type Message interface {
	MessageHeaders() Headers
	SetMessageHeaders(h Headers) Message
	MessageBody() []byte
	SetMessageBody(b []byte) Message
	MessageMetadata() Metadata
	SetMessageMetadata(m Metadata) Message
	RenderMessageTo(w io.Writer) error
	RenderMessage() string
	Clone() Message
	IsValid() bool
	Validate() error
	Equal(val any) bool
}

// Headers holds the header fields of a message, keyed by canonical name.
// A name may map to more than one entry, either because the wire message
// repeated the header line or because the field allows a single line to
// fold several values in: both are represented the same way, as separate
// entries under the same key.
type Headers map[HeaderName][]Header

// Get returns the entries stored under name, or nil.
func (h Headers) Get(name HeaderName) []Header { return h[CanonicHeaderName(name)] }

// Has reports whether name has at least one entry.
func (h Headers) Has(name HeaderName) bool { return len(h.Get(name)) > 0 }

// Append adds hdr under its own canonical name.
func (h Headers) Append(hdr Header) Headers {
	if hdr == nil {
		return h
	}
	n := hdr.CanonicName()
	h[n] = append(h[n], hdr)
	return h
}

// Set replaces all entries under hdr's canonical name with hdr alone.
func (h Headers) Set(hdr Header) Headers {
	if hdr == nil {
		return h
	}
	h[hdr.CanonicName()] = []Header{hdr}
	return h
}

// Del removes all entries under name.
func (h Headers) Del(name HeaderName) Headers {
	delete(h, CanonicHeaderName(name))
	return h
}

// CopyFrom appends clones of every entry under first and rest found in src.
func (h Headers) CopyFrom(src Headers, first HeaderName, rest ...HeaderName) Headers {
	if src == nil {
		return h
	}
	for _, hdr := range src.Get(first) {
		h.Append(hdr.Clone())
	}
	for _, n := range rest {
		for _, hdr := range src.Get(n) {
			h.Append(hdr.Clone())
		}
	}
	return h
}

// Clone returns a deep copy of h.
func (h Headers) Clone() Headers {
	if h == nil {
		return nil
	}
	h2 := make(Headers, len(h))
	for n, hs := range h {
		hs2 := make([]Header, len(hs))
		for i, hdr := range hs {
			hs2[i] = hdr.Clone()
		}
		h2[n] = hs2
	}
	return h2
}

// Via returns every Via hop across all Via header entries, topmost first.
func (h Headers) Via() []header.ViaHop {
	var hops []header.ViaHop
	for _, hdr := range h.Get("Via") {
		if via, ok := hdr.(header.Via); ok {
			hops = append(hops, via...)
		}
	}
	return hops
}

// FirstVia returns a pointer to the topmost Via hop of the first Via header
// entry, allowing in-place edits (e.g. stamping received/rport), and whether
// one was present.
func (h Headers) FirstVia() (*header.ViaHop, bool) {
	if hs := h.Get("Via"); len(hs) > 0 {
		if via, ok := hs[0].(header.Via); ok && len(via) > 0 {
			return &via[0], true
		}
	}
	return nil, false
}

// From returns the From header entry and whether it was present.
func (h Headers) From() (*header.From, bool) {
	if hs := h.Get("From"); len(hs) > 0 {
		if f, ok := hs[0].(*header.From); ok {
			return f, true
		}
	}
	return nil, false
}

// To returns the To header entry and whether it was present.
func (h Headers) To() (*header.To, bool) {
	if hs := h.Get("To"); len(hs) > 0 {
		if t, ok := hs[0].(*header.To); ok {
			return t, true
		}
	}
	return nil, false
}

// CallID returns the Call-ID value and whether it was present.
func (h Headers) CallID() (header.CallID, bool) {
	if hs := h.Get("Call-ID"); len(hs) > 0 {
		if id, ok := hs[0].(header.CallID); ok {
			return id, true
		}
	}
	return "", false
}

// CSeq returns the CSeq header entry and whether it was present.
func (h Headers) CSeq() (*header.CSeq, bool) {
	if hs := h.Get("CSeq"); len(hs) > 0 {
		if cseq, ok := hs[0].(*header.CSeq); ok {
			return cseq, true
		}
	}
	return nil, false
}

// Timestamp returns the Timestamp header entry and whether it was present.
func (h Headers) Timestamp() (*header.Timestamp, bool) {
	if hs := h.Get("Timestamp"); len(hs) > 0 {
		if ts, ok := hs[0].(*header.Timestamp); ok {
			return ts, true
		}
	}
	return nil, false
}

// ContentLength returns the Content-Length value and whether it was present.
func (h Headers) ContentLength() (header.ContentLength, bool) {
	if hs := h.Get("Content-Length"); len(hs) > 0 {
		if cl, ok := hs[0].(header.ContentLength); ok {
			return cl, true
		}
	}
	return 0, false
}

// MaxForwards returns the Max-Forwards value and whether it was present.
func (h Headers) MaxForwards() (header.MaxForwards, bool) {
	if hs := h.Get("Max-Forwards"); len(hs) > 0 {
		if mf, ok := hs[0].(header.MaxForwards); ok {
			return mf, true
		}
	}
	return 0, false
}

// Route returns every Route hop across all Route header entries, in the
// order they appear on the message.
func (h Headers) Route() []header.RouteHop {
	var hops []header.RouteHop
	for _, hdr := range h.Get("Route") {
		if route, ok := hdr.(header.Route); ok {
			hops = append(hops, route...)
		}
	}
	return hops
}

// RecordRoute returns every Record-Route hop across all Record-Route
// header entries, in the order they appear on the message.
func (h Headers) RecordRoute() []header.RouteHop {
	var hops []header.RouteHop
	for _, hdr := range h.Get("Record-Route") {
		if rr, ok := hdr.(header.RecordRoute); ok {
			hops = append(hops, []header.RouteHop(rr)...)
		}
	}
	return hops
}

// Contact returns every Contact address across all Contact header entries.
func (h Headers) Contact() []header.ContactAddr {
	var addrs []header.ContactAddr
	for _, hdr := range h.Get("Contact") {
		if c, ok := hdr.(header.Contact); ok {
			addrs = append(addrs, []header.ContactAddr(c)...)
		}
	}
	return addrs
}

// FirstContact returns the first Contact address on the message and
// whether one was present.
func (h Headers) FirstContact() (*header.ContactAddr, bool) {
	if addrs := h.Contact(); len(addrs) > 0 {
		return &addrs[0], true
	}
	return nil, false
}

// WWWAuthenticate returns the WWW-Authenticate header and whether it was present.
func (h Headers) WWWAuthenticate() (*header.WWWAuthenticate, bool) {
	if hs := h.Get("WWW-Authenticate"); len(hs) > 0 {
		if wa, ok := hs[0].(*header.WWWAuthenticate); ok {
			return wa, true
		}
	}
	return nil, false
}

// ProxyAuthenticate returns the Proxy-Authenticate header and whether it was present.
func (h Headers) ProxyAuthenticate() (*header.ProxyAuthenticate, bool) {
	if hs := h.Get("Proxy-Authenticate"); len(hs) > 0 {
		if pa, ok := hs[0].(*header.ProxyAuthenticate); ok {
			return pa, true
		}
	}
	return nil, false
}

// Allow returns the methods listed across all Allow header entries.
func (h Headers) Allow() []RequestMethod {
	var methods []RequestMethod
	for _, hdr := range h.Get("Allow") {
		if allow, ok := hdr.(header.Allow); ok {
			methods = append(methods, []RequestMethod(allow)...)
		}
	}
	return methods
}

// hdrRenderOrder lists the headers that render first, in this order: Via and
// the routing headers, then the dialog- and transaction-identifying headers,
// then Max-Forwards and Contact, body metadata last; everything else renders
// after these, sorted by name for deterministic output.
var hdrRenderOrder = []HeaderName{
	"Via", "Route", "Record-Route",
	"From", "To", "Call-ID", "CSeq",
	"Max-Forwards", "Contact",
	"Content-Type", "Content-Length",
}

func headerRenderOrder(hdrs Headers) []HeaderName {
	order := make([]HeaderName, 0, len(hdrs))
	seen := make(map[HeaderName]bool, len(hdrs))
	for _, n := range hdrRenderOrder {
		if _, ok := hdrs[n]; ok {
			order = append(order, n)
			seen[n] = true
		}
	}
	rest := make([]HeaderName, 0, len(hdrs))
	for n := range hdrs {
		if !seen[n] {
			rest = append(rest, n)
		}
	}
	slices.Sort(rest)
	return append(order, rest...)
}

// renderHeaders writes every header in hdrs to w, one per line, in
// [headerRenderOrder] order, each terminated with CRLF.
func renderHeaders(w io.Writer, hdrs Headers) error {
	for _, n := range headerRenderOrder(hdrs) {
		for _, hdr := range hdrs[n] {
			if _, err := hdr.RenderTo(w, nil); err != nil {
				return err
			}
			if _, err := io.WriteString(w, "\r\n"); err != nil {
				return err
			}
		}
	}
	return nil
}

// compareHeaders reports whether a and b hold the same header entries,
// independent of iteration order.
func compareHeaders(a, b Headers) bool {
	if len(a) != len(b) {
		return false
	}
	for n, hs := range a {
		hs2, ok := b[n]
		if !ok || len(hs) != len(hs2) {
			return false
		}
		for i := range hs {
			if !hs[i].Equal(hs2[i]) {
				return false
			}
		}
	}
	return true
}

// validateHeaders reports whether every header entry in hdrs is syntactically valid.
func validateHeaders(hdrs Headers) bool {
	for _, hs := range hdrs {
		for _, hdr := range hs {
			if !hdr.IsValid() {
				return false
			}
		}
	}
	return true
}

// GenerateTag returns a random From/To tag value (RFC 3261 §19.3).
// n overrides the default length of 16 hex-safe characters when non-zero.
func GenerateTag(n int) string {
	if n <= 0 {
		n = 16
	}
	return util.RandString(n)
}

// GenerateCallID returns a random Call-ID value (RFC 3261 §19.3).
func GenerateCallID() string { return util.RandString(32) }

// GenerateCSeq returns a random initial CSeq sequence number (RFC 3261
// §8.1.1.5), kept below 2^31 so it can be incremented for the life of a
// dialog without overflowing.
func GenerateCSeq() uint32 { return uint32(rand.Int32N(1 << 31)) }
