package types

import (
	"github.com/sipuastack/uacore/internal/grammar"
	"github.com/sipuastack/uacore/internal/util"
)

const (
	RequestMethodAck       RequestMethod = "ACK"
	RequestMethodBye       RequestMethod = "BYE"
	RequestMethodCancel    RequestMethod = "CANCEL"
	RequestMethodInfo      RequestMethod = "INFO"
	RequestMethodInvite    RequestMethod = "INVITE"
	RequestMethodMessage   RequestMethod = "MESSAGE"
	RequestMethodNotify    RequestMethod = "NOTIFY"
	RequestMethodOptions   RequestMethod = "OPTIONS"
	RequestMethodPrack     RequestMethod = "PRACK"
	RequestMethodPublish   RequestMethod = "PUBLISH"
	RequestMethodRefer     RequestMethod = "REFER"
	RequestMethodRegister  RequestMethod = "REGISTER"
	RequestMethodSubscribe RequestMethod = "SUBSCRIBE"
	RequestMethodUpdate    RequestMethod = "UPDATE"
)

var knownRequestMethods = map[RequestMethod]bool{
	RequestMethodAck:       true,
	RequestMethodBye:       true,
	RequestMethodCancel:    true,
	RequestMethodInfo:      true,
	RequestMethodInvite:    true,
	RequestMethodMessage:   true,
	RequestMethodNotify:    true,
	RequestMethodOptions:   true,
	RequestMethodPrack:     true,
	RequestMethodPublish:   true,
	RequestMethodRefer:     true,
	RequestMethodRegister:  true,
	RequestMethodSubscribe: true,
	RequestMethodUpdate:    true,
}

// IsKnownRequestMethod reports whether method is one of the RFC 3261 core
// methods or a method registered by one of its extension RFCs, as opposed
// to an application-defined extension method.
func IsKnownRequestMethod(method RequestMethod) bool {
	return knownRequestMethods[method.ToUpper()]
}

type RequestMethod string

func (m RequestMethod) ToUpper() RequestMethod { return util.UCase(m) }

func (m RequestMethod) ToLower() RequestMethod { return util.LCase(m) }

func (m RequestMethod) IsValid() bool { return grammar.IsToken(m) }

func (m RequestMethod) Equal(val any) bool {
	var other RequestMethod
	switch v := val.(type) {
	case RequestMethod:
		other = v
	case *RequestMethod:
		if v == nil {
			return false
		}
		other = *v
	default:
		return false
	}
	return util.EqFold(m, other)
}
