package grammar

import (
	"strings"

	"github.com/sipuastack/uacore/internal/constraints"
)

// visualSeparators are the RFC 3966 §3 visual-separator characters.
// Note: space is not part of the formal grammar; [Tel.number] strips it
// separately as a rendering convenience, not as a grammar rule.
var visualSeparators = map[byte]bool{
	'-': true, '.': true, '(': true, ')': true,
}

// CleanTelNum strips visual separators from a telephone number, keeping a
// leading "+" if present. Unlike [IsTelNum] this also strips incidental
// space, matching the leniency [Tel.number]-style rendering code applies.
func CleanTelNum[T constraints.Byteseq](s T) string {
	str := string(s)
	var b strings.Builder
	b.Grow(len(str))
	for i := 0; i < len(str); i++ {
		if visualSeparators[str[i]] || str[i] == ' ' {
			continue
		}
		b.WriteByte(str[i])
	}
	return b.String()
}

// IsTelNum reports whether s looks like an RFC 3966 phone number: an
// optional leading "+" followed by digits and visual separators.
func IsTelNum[T constraints.Byteseq](s T) bool {
	str := string(s)
	if str == "" {
		return false
	}
	i := 0
	if str[0] == '+' {
		i = 1
	}
	if i == len(str) {
		return false
	}
	for ; i < len(str); i++ {
		c := str[i]
		if !('0' <= c && c <= '9') && !visualSeparators[c] {
			return false
		}
	}
	return true
}

// IsGlobTelNum reports whether s is a global (E.164-style) telephone
// number per RFC 3966 §5.1.4, i.e. it starts with "+".
func IsGlobTelNum[T constraints.Byteseq](s T) bool {
	str := string(s)
	return len(str) > 0 && str[0] == '+' && IsTelNum(str)
}

// IsTelURIParamName reports whether name is a syntactically valid tel URI
// parameter name. RFC 3966 §3 defines pname as 1*(alphanum / "-"), which is
// stricter than the SIP token grammar: no percent-encoding is allowed.
func IsTelURIParamName[T constraints.Byteseq](name T) bool {
	str := string(name)
	if str == "" {
		return false
	}
	for i := 0; i < len(str); i++ {
		c := str[i]
		if !IsAlphanumChar(c) && c != '-' {
			return false
		}
	}
	return true
}
