package header

import (
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/sipuastack/uacore/internal/grammar"
	"github.com/sipuastack/uacore/internal/util"
)

// MIMEType holds media type information.
type MIMEType struct {
	Type    string
	Subtype string
	Params  Values
}

func (mt MIMEType) String() string {
	sb := util.GetStringBuilder()
	defer util.FreeStringBuilder(sb)

	fmt.Fprint(sb, mt.Type, "/", mt.Subtype)

	if len(mt.Params) > 0 {
		kvs := make([][]string, 0, len(mt.Params))
		for k := range mt.Params {
			v, _ := mt.Params.Last(k)
			kvs = append(kvs, []string{util.LCase(k), v})
		}
		slices.SortFunc(kvs, util.CmpKVs)
		for _, kv := range kvs {
			fmt.Fprint(sb, ";", kv[0], "=", kv[1])
		}
	}

	return sb.String()
}

func (mt MIMEType) Format(f fmt.State, verb rune) {
	switch verb {
	case 's':
		fmt.Fprint(f, mt.String())
		return
	case 'q':
		fmt.Fprint(f, strconv.Quote(mt.String()))
		return
	default:
		if !f.Flag('+') && !f.Flag('#') {
			fmt.Fprint(f, mt.String())
			return
		}

		type hideMethods MIMEType
		type MIMEType hideMethods
		fmt.Fprintf(f, fmt.FormatString(f, verb), MIMEType(mt))
		return
	}
}

func (mt MIMEType) Equal(val any) bool {
	var other MIMEType
	switch v := val.(type) {
	case MIMEType:
		other = v
	case *MIMEType:
		if v == nil {
			return false
		}
		other = *v
	default:
		return false
	}

	return util.EqFold(mt.Type, other.Type) &&
		util.EqFold(mt.Subtype, other.Subtype) &&
		compareHdrParams(mt.Params, other.Params, map[string]bool{"charset": true})
}

func (mt MIMEType) IsValid() bool {
	return grammar.IsToken(mt.Type) &&
		grammar.IsToken(mt.Subtype) &&
		validateHdrParams(mt.Params)
}

func (mt MIMEType) IsZero() bool {
	return mt.Type == "" &&
		mt.Subtype == "" &&
		len(mt.Params) == 0
}

func (mt MIMEType) Clone() MIMEType {
	mt.Params = mt.Params.Clone()
	return mt
}

func (mt MIMEType) MarshalText() ([]byte, error) {
	return []byte(mt.String()), nil
}

func (mt *MIMEType) UnmarshalText(data []byte) error {
	if len(data) == 0 {
		*mt = MIMEType{}
		return nil
	}

	*mt, _ = parseMIMETypeValue(string(data))
	return nil
}

// parseMIMETypeValue parses a "type/subtype;param=val;..." media range or
// media type. The second return value holds any params found after the
// first bare "q" param, which by convention (RFC 2616 §14.1) separates a
// media-range's own params from the surrounding accept-param list when a
// MIMEType is embedded in an Accept header entry.
func parseMIMETypeValue(value string) (MIMEType, Values) {
	value = strings.TrimSpace(value)
	parts := grammar.SplitQuoted(value, ';')

	var mt MIMEType
	if t, s, ok := strings.Cut(strings.TrimSpace(parts[0]), "/"); ok {
		mt.Type = strings.TrimSpace(t)
		mt.Subtype = strings.TrimSpace(s)
	} else {
		mt.Type = strings.TrimSpace(parts[0])
	}

	var other Values
	otherStarted := false
	for _, p := range parts[1:] {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		name, val, ok := grammar.CutQuoted(p, '=')
		name = strings.TrimSpace(name)
		if ok {
			val = strings.TrimSpace(val)
		} else {
			val = ""
		}

		if otherStarted || util.LCase(name) == "q" {
			otherStarted = true
			if other == nil {
				other = make(Values)
			}
			other.Append(name, val)
			continue
		}

		if mt.Params == nil {
			mt.Params = make(Values)
		}
		mt.Params.Append(name, val)
	}
	return mt, other
}
