// Package keys builds stable storage keys from request URLs.
package keys

import (
	"fmt"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// ForURL maps a request URL to a storage key. The readable prefix keeps keys
// greppable in Redis; the hash suffix disambiguates truncated or sanitized
// URLs that would otherwise collide.
func ForURL(rawURL string) string {
	norm := strings.TrimSpace(rawURL)
	norm = strings.TrimSuffix(norm, "#")
	if i := strings.IndexByte(norm, '#'); i >= 0 {
		norm = norm[:i]
	}

	safe := sanitizeForKey(norm)
	const maxTextLen = 160
	if len(safe) > maxTextLen {
		safe = safe[:maxTextLen]
	}

	sum := xxhash.Sum64String(norm)
	return fmt.Sprintf("%s:u=%016x", safe, sum)
}

func sanitizeForKey(s string) string {
	if s == "" {
		return ""
	}
	var b strings.Builder
	b.Grow(len(s))

	var prev rune
	for _, r := range s {
		out := rune(0)
		switch {
		case r == ' ' || r == '\t' || r == '\n' || r == '\r' || r == '\v' || r == '\f':
			out = '_'
		case isAlphaNum(r) || r == ':' || r == '_' || r == '-' || r == '=' || r == '/' || r == '.':
			out = r
		default:
			out = '-'
		}
		if (out == '_' || out == '-') && out == prev {
			continue
		}
		b.WriteRune(out)
		prev = out
	}
	return b.String()
}

func isAlphaNum(r rune) bool {
	return (r >= 'a' && r <= 'z') ||
		(r >= 'A' && r <= 'Z') ||
		(r >= '0' && r <= '9')
}
