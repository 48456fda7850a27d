package graph

import (
	"strconv"
	"strings"
)

// Container is anything keyed by canonical node id.
// Both *api.Graph and *TraceTree satisfy it.
type Container interface {
	Has(id string) bool
}

// Resolve maps a possibly decorated node id onto a key of c.
//
// Loop constructs synthesize ids such as "12.3" by appending iteration scope,
// so a lookup tries, in order: the exact id, dotted prefixes from longest to
// shortest, dotted suffixes from longest to shortest, and finally the
// canonical decimal form of an all-digit id. The first hit wins.
func Resolve(id string, c Container) (string, bool) {
	if id == "" || c == nil {
		return "", false
	}
	if c.Has(id) {
		return id, true
	}

	parts := strings.Split(id, ".")
	if len(parts) > 1 {
		for i := len(parts) - 1; i > 0; i-- {
			prefix := strings.Join(parts[:i], ".")
			if c.Has(prefix) {
				return prefix, true
			}
		}
		for i := len(parts) - 1; i > 0; i-- {
			suffix := strings.Join(parts[len(parts)-i:], ".")
			if c.Has(suffix) {
				return suffix, true
			}
		}
	}

	if isDigits(id) {
		if n, err := strconv.ParseUint(id, 10, 64); err == nil {
			canonical := strconv.FormatUint(n, 10)
			if canonical != id && c.Has(canonical) {
				return canonical, true
			}
		}
	}
	return "", false
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
