// Package grammar implements the RFC 3261 §25 character classes and
// escaping rules the codec needs (token, host, quoted-string, URI
// component escaping).
//
// The upstream stack this module is grounded on drives an ABNF grammar
// compiled by an external code generator (github.com/ghettovoice/abnf)
// from a full RFC 3261 rule set. Those generated rule tables are not
// something a codebase can vendor by hand, so this package instead
// implements the character-class predicates the generated grammar would
// have exposed, directly against the RFC's ABNF core rules.
package grammar

import (
	"strconv"
	"strings"

	"github.com/sipuastack/uacore/internal/constraints"
	"github.com/sipuastack/uacore/internal/errorutil"
)

// ErrEmptyInput indicates that a parser was handed an empty string to parse.
const ErrEmptyInput errorutil.Error = "grammar: empty input"

// ErrMalformedInput indicates that a parser was handed a string that does
// not match the expected grammar.
const ErrMalformedInput errorutil.Error = "grammar: malformed input"

// IsAlphanumChar reports whether c is an ALPHA or DIGIT.
func IsAlphanumChar(c byte) bool {
	return 'a' <= c && c <= 'z' || 'A' <= c && c <= 'Z' || '0' <= c && c <= '9'
}

var tokenChars = map[byte]bool{
	'-': true, '.': true, '!': true, '%': true, '*': true,
	'_': true, '+': true, '`': true, '\'': true, '~': true,
}

// IsTokenChar reports whether c may appear in a "token" per RFC 3261 §25.1.
func IsTokenChar(c byte) bool { return IsAlphanumChar(c) || tokenChars[c] }

// IsToken reports whether s is a syntactically valid SIP token.
func IsToken[T constraints.Byteseq](s T) bool {
	if len(s) == 0 {
		return false
	}
	for i := 0; i < len(s); i++ {
		if !IsTokenChar(s[i]) {
			return false
		}
	}
	return true
}

// IsHost reports whether s looks like a syntactically valid hostname or
// IP literal (including bracketed IPv6 literals).
func IsHost[T constraints.Byteseq](s T) bool {
	str := string(s)
	if str == "" {
		return false
	}
	if strings.HasPrefix(str, "[") {
		return strings.HasSuffix(str, "]") && len(str) > 2
	}
	for i := 0; i < len(str); i++ {
		c := str[i]
		if !(IsAlphanumChar(c) || c == '-' || c == '.' || c == ':') {
			return false
		}
	}
	return true
}

// IsQuoted reports whether s is a well-formed quoted-string (including
// the surrounding double quotes).
func IsQuoted[T constraints.Byteseq](s T) bool {
	if len(s) < 2 || s[0] != '"' || s[len(s)-1] != '"' {
		return false
	}
	escaped := false
	for i := 1; i < len(s)-1; i++ {
		if escaped {
			escaped = false
			continue
		}
		if s[i] == '\\' {
			escaped = true
			continue
		}
		if s[i] == '"' {
			return false
		}
	}
	return !escaped
}

// Quote wraps s as an RFC 3261 quoted-string.
func Quote(s string) string { return strconv.Quote(s) }

// Unquote strips the quoting added by [Quote]. If s is not a validly
// quoted string it is returned unchanged.
func Unquote(s string) string {
	qs, err := strconv.Unquote(s)
	if err != nil {
		return s
	}
	return qs
}

// IsUsername reports whether s is valid as the userinfo/user component of
// a SIP URI once percent-escapes are accounted for (user-unreserved set).
func IsUsername[T constraints.Byteseq](s T) bool {
	if len(s) == 0 {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == '%' {
			if i+2 >= len(s) || !ishex(s[i+1]) || !ishex(s[i+2]) {
				return false
			}
			i += 2
			continue
		}
		if !IsURIUserCharUnreserved(c) {
			return false
		}
	}
	return true
}
