// Package sip implements SIP protocol as described in RFC 3261.
package sip

import (
	"math"
	"strings"
	"time"

	"github.com/sipuastack/uacore/header"
)

const (
	maxMsgSize = math.MaxUint16 // max read buffer size, max size of the IP packet

	// MagicCookie is the RFC 3261 Section 8.1.1.7 branch prefix that marks a
	// Via branch parameter as generated by an RFC 3261-compliant element.
	MagicCookie = "z9hG4bK"
)

// IsRFC3261Branch reports whether branch carries the RFC 3261 magic cookie,
// meaning it was generated by an RFC 3261-compliant element and can be used
// as-is for transaction matching instead of falling back to RFC 2543 rules.
func IsRFC3261Branch(branch string) bool {
	return strings.HasPrefix(branch, MagicCookie) && branch != MagicCookie
}

// RFC 3261 Section 17.1.1.2, 17.1.2.2 timers, T1-scaled.
var (
	Proto20 = Proto{Name: "SIP", Version: "2.0"}

	T1    = 500 * time.Millisecond
	TimeA = T1
	TimeB = 64 * T1
	TimeC = 600 * T1
)

// Proto is a SIP protocol name/version pair, e.g. "SIP/2.0".
type Proto = header.ProtoInfo

// ProtoVer20 returns a "SIP/2.0" [Proto] value.
func ProtoVer20() Proto { return Proto20 }

// Values is a case-insensitive multi-value map used for URI and header parameters.
type Values = header.Values

// Addr is a host/port network address.
type Addr = header.Addr

func Host(host string) Addr { return header.Host(host) }

func HostPort(host string, port uint16) Addr { return header.HostPort(host, port) }

// Metadata carries transport- and application-level side data attached to a
// message that is not part of its wire representation (e.g. receive time,
// local/remote address, retransmission bookkeeping).
type Metadata map[string]any

var (
	// TransportField is the Metadata key for the transport protocol a message arrived on or will be sent over.
	TransportField = "transport_proto"
	// RemoteAddrField is the Metadata key for the message remote address.
	RemoteAddrField = "remote_addr"
	// LocalAddrField is the Metadata key for the message local address.
	LocalAddrField = "local_addr"
	// RequestTstampField is the Metadata key for the timestamp a request was received or sent.
	RequestTstampField = "request_tstamp"
	// ResponseTstampField is the Metadata key for the timestamp a response was received or sent.
	ResponseTstampField = "response_tstamp"
)

// Get returns the value stored under key, if any.
func (m Metadata) Get(key string) (any, bool) {
	v, ok := m[key]
	return v, ok
}

// Set stores val under key, initializing the map if it was nil.
func (m *Metadata) Set(key string, val any) {
	if *m == nil {
		*m = make(Metadata)
	}
	(*m)[key] = val
}

// Clone returns a shallow copy of m.
func (m Metadata) Clone() Metadata {
	if m == nil {
		return nil
	}
	m2 := make(Metadata, len(m))
	for k, v := range m {
		m2[k] = v
	}
	return m2
}
