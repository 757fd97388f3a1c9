package util

import (
	"cmp"
	"strings"
	"sync"
)

func UCase[T ~string](s T) T { return T(strings.ToUpper(string(s))) }

func LCase[T ~string](s T) T { return T(strings.ToLower(string(s))) }

func TrimSP[T ~string](s T) T { return T(strings.TrimSpace(string(s))) }

// CmpKVs orders a [key, value] pair by key, giving deterministic
// output when rendering parameter maps.
func CmpKVs[T ~string](kv1, kv2 []T) int { return cmp.Compare(kv1[0], kv2[0]) }

func EqFold[T1, T2 ~string](s1 T1, s2 T2) bool {
	return strings.EqualFold(string(s1), string(s2))
}

var strBldrPool = &sync.Pool{
	New: func() any {
		sb := new(strings.Builder)
		sb.Grow(256)
		return sb
	},
}

func GetStringBuilder() *strings.Builder {
	return strBldrPool.Get().(*strings.Builder) //nolint:forcetypeassert
}

func FreeStringBuilder(sb *strings.Builder) {
	sb.Reset()
	strBldrPool.Put(sb)
}

// IsWSP reports whether b is SIP linear whitespace (SP or HT).
func IsWSP(b byte) bool { return b == ' ' || b == '\t' }
