package header

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sipuastack/uacore/internal/grammar"
	"github.com/sipuastack/uacore/internal/types"
	"github.com/sipuastack/uacore/internal/util"
	"github.com/sipuastack/uacore/uri"
)

// NameAddr represents a single element in From, To, Contact, Reply-To headers.
// It contains a display name, URI, and parameters.
type NameAddr struct {
	DisplayName string
	URI         uri.URI
	Params      Values
}

// String returns the string representation of the NameAddr.
func (addr NameAddr) String() string {
	sb := util.GetStringBuilder()
	defer util.FreeStringBuilder(sb)

	if addr.DisplayName != "" {
		fmt.Fprint(sb, grammar.Quote(addr.DisplayName), " ")
	}

	fmt.Fprint(sb, "<")
	if addr.URI != nil {
		addr.URI.RenderTo(sb, nil) //nolint:errcheck
	}
	fmt.Fprint(sb, ">")

	renderHdrParams(sb, addr.Params, false) //nolint:errcheck

	return sb.String()
}

// Format implements fmt.Formatter for custom formatting of the NameAddr.
func (addr NameAddr) Format(f fmt.State, verb rune) {
	switch verb {
	case 's':
		fmt.Fprint(f, addr.String())
		return
	case 'q':
		fmt.Fprint(f, strconv.Quote(addr.String()))
		return
	default:
		if !f.Flag('+') && !f.Flag('#') {
			fmt.Fprint(f, addr.String())
			return
		}

		type hideMethods NameAddr
		type NameAddr hideMethods
		fmt.Fprintf(f, fmt.FormatString(f, verb), NameAddr(addr))
		return
	}
}

// Equal compares this NameAddr with another for equality.
func (addr NameAddr) Equal(val any) bool {
	var other NameAddr
	switch v := val.(type) {
	case NameAddr:
		other = v
	case *NameAddr:
		if v == nil {
			return false
		}
		other = *v
	default:
		return false
	}

	return types.IsEqual(addr.URI, other.URI) &&
		compareHdrParams(addr.Params, other.Params, map[string]bool{
			"q":       true,
			"tag":     true,
			"expires": true,
		})
}

// IsValid checks whether the NameAddr is syntactically valid.
func (addr NameAddr) IsValid() bool {
	return types.IsValid(addr.URI) && validateHdrParams(addr.Params)
}

// IsZero checks whether the NameAddr is empty.
func (addr NameAddr) IsZero() bool {
	return addr.DisplayName == "" && addr.URI == nil && len(addr.Params) == 0
}

// Clone returns a copy of the NameAddr.
func (addr NameAddr) Clone() NameAddr {
	addr.URI = types.Clone[uri.URI](addr.URI)
	addr.Params = addr.Params.Clone()
	return addr
}

func (addr NameAddr) MarshalText() ([]byte, error) {
	return []byte(addr.String()), nil
}

func (addr *NameAddr) UnmarshalText(data []byte) error {
	if len(data) == 0 {
		*addr = NameAddr{}
		return nil
	}
	*addr = parseNameAddrValue(string(data))
	return nil
}

func (addr NameAddr) Tag() (string, bool) {
	return addr.Params.Last("tag")
}

func (addr NameAddr) Expires() (time.Duration, bool) {
	v, ok := addr.Params.Last("expires")
	if !ok {
		return 0, false
	}
	sec, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, false
	}
	return time.Duration(sec) * time.Second, true
}

// parseNameAddrValue parses a single From/To/Contact/Reply-To/Route/
// Record-Route entry: either a "name-addr" ("Display Name" <uri>;params)
// or a bare addr-spec (uri;params-that-belong-to-the-uri).
func parseNameAddrValue(value string) NameAddr {
	value = strings.TrimSpace(value)

	var addr NameAddr

	dispPart, remainder, hasAngle := grammar.CutQuoted(value, '<')
	if hasAngle {
		uriPart, rest, hasClose := strings.Cut(remainder, ">")
		if !hasClose {
			uriPart, rest = remainder, ""
		}

		if dispPart = strings.TrimSpace(dispPart); dispPart != "" {
			addr.DisplayName = grammar.Unquote(dispPart)
		}

		addr.URI, _ = uri.Parse(strings.TrimSpace(uriPart))

		rest = strings.TrimSpace(rest)
		rest = strings.TrimPrefix(rest, ";")
		addr.Params = parseHdrParams(rest, nil)
		return addr
	}

	addr.URI, _ = uri.Parse(value)

	// https://datatracker.ietf.org/doc/rfc8217/
	if strings.ContainsAny(value, ",;?") {
		switch v := addr.URI.(type) {
		case *uri.SIP:
			addr.Params = v.Params
			v.Params = nil
		case *uri.Tel:
			addr.Params = v.Params
			v.Params = nil
		case *uri.Any:
			p, _ := url.ParseQuery(v.RawQuery)
			v.RawQuery = ""
			addr.Params = Values(p)
		}
	}
	return addr
}
