package header

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/sipuastack/uacore/internal/grammar"
	"github.com/sipuastack/uacore/internal/types"
	"github.com/sipuastack/uacore/internal/util"
	"github.com/sipuastack/uacore/uri"
)

// InfoAddr represents a single element in Alert-Info, Call-Info, Error-Info headers.
type InfoAddr struct {
	URI    uri.URI
	Params Values
}

// String returns the string representation of the InfoAddr.
func (addr InfoAddr) String() string {
	sb := util.GetStringBuilder()
	defer util.FreeStringBuilder(sb)

	fmt.Fprint(sb, "<")
	if addr.URI != nil {
		addr.URI.RenderTo(sb, nil) //nolint:errcheck
	}
	fmt.Fprint(sb, ">")

	renderHdrParams(sb, addr.Params, false) //nolint:errcheck

	return sb.String()
}

// Format implements fmt.Formatter for custom formatting of the InfoAddr.
func (addr InfoAddr) Format(f fmt.State, verb rune) {
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

		type hideMethods InfoAddr
		type ResourceAddr hideMethods
		fmt.Fprintf(f, fmt.FormatString(f, verb), ResourceAddr(addr))
		return
	}
}

// Equal compares this InfoAddr with another for equality.
func (addr InfoAddr) Equal(val any) bool {
	var other InfoAddr
	switch v := val.(type) {
	case InfoAddr:
		other = v
	case *InfoAddr:
		if v == nil {
			return false
		}
		other = *v
	default:
		return false
	}

	return types.IsEqual(addr.URI, other.URI) &&
		compareHdrParams(addr.Params, other.Params, map[string]bool{"purpose": true})
}

// IsValid checks whether the InfoAddr is syntactically valid.
func (addr InfoAddr) IsValid() bool {
	return types.IsValid(addr.URI) && validateHdrParams(addr.Params)
}

// IsZero checks whether the InfoAddr is empty.
func (addr InfoAddr) IsZero() bool { return addr.URI == nil && len(addr.Params) == 0 }

// Clone returns a copy of the InfoAddr.
func (addr InfoAddr) Clone() InfoAddr {
	addr.URI = types.Clone[uri.URI](addr.URI)
	addr.Params = addr.Params.Clone()
	return addr
}

func (addr InfoAddr) MarshalText() ([]byte, error) {
	return []byte(addr.String()), nil
}

func (addr *InfoAddr) UnmarshalText(data []byte) error {
	if len(data) == 0 {
		*addr = InfoAddr{}
		return nil
	}
	*addr = parseInfoAddrValue(string(data))
	return nil
}

// parseInfoAddrValue parses a "<uri>;param=value;..." entry as used by the
// Alert-Info, Call-Info and Error-Info header fields (RFC 3261 §20.4,
// §20.9, §20.19 all share the same "name-addr *(SEMI generic-param)"-style
// shape, angle brackets required).
func parseInfoAddrValue(value string) InfoAddr {
	value = strings.TrimSpace(value)

	var uriPart, rest string
	if strings.HasPrefix(value, "<") {
		if end := strings.IndexByte(value, '>'); end >= 0 {
			uriPart, rest = value[1:end], value[end+1:]
		} else {
			uriPart = value[1:]
		}
	} else {
		uriPart, rest, _ = grammar.CutQuoted(value, ';')
	}

	u, _ := uri.Parse(strings.TrimSpace(uriPart))
	if strings.HasPrefix(strings.TrimSpace(rest), ";") {
		rest = strings.TrimSpace(rest)[1:]
	}
	return InfoAddr{URI: u, Params: parseHdrParams(rest, nil)}
}
