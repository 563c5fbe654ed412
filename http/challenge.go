// SPDX-License-Identifier: Apache-2.0

package http

import (
	"net/http"
	"slices"
	"strings"
)

// challenge is one auth-scheme from a WWW-Authenticate header (RFC 7235 § 4.1).
// A challenge carries either a token68 or auth-params, never both.
type challenge struct {
	scheme  string
	token68 string
	params  []string
}

// findSchemeChallenges returns the challenges for scheme, matched
// case-insensitively, from the WWW-Authenticate headers of h
func findSchemeChallenges(h http.Header, scheme string) []challenge {
	return slices.DeleteFunc(parseChallenges(h.Values("WWW-Authenticate")), func(c challenge) bool {
		return !strings.EqualFold(c.scheme, scheme)
	})
}

// parseChallenges parses WWW-Authenticate header values.  Challenges and
// auth-params share the comma as a separator:  an element that starts with
// a bare token begins a new challenge, anything else is an auth-param of the
// preceding one.
func parseChallenges(values []string) []challenge {
	var out []challenge

	for _, v := range values {
		for _, elem := range splitList(v) {
			if elem == "" {
				continue
			}

			scheme, rest := elem, ""
			if i := strings.IndexAny(elem, " \t"); i >= 0 {
				scheme, rest = elem[:i], strings.TrimSpace(elem[i:])
			}

			if strings.Contains(scheme, "=") || strings.HasPrefix(rest, "=") {
				if n := len(out); n > 0 {
					out[n-1].params = append(out[n-1].params, elem)
				}
				continue
			}

			c := challenge{scheme: scheme}
			switch {
			case rest == "":
			case isToken68(rest):
				c.token68 = rest
			default:
				c.params = append(c.params, rest)
			}
			out = append(out, c)
		}
	}

	return out
}

// splitList splits a header value at the commas outside quoted strings
func splitList(v string) []string {
	var (
		parts   []string
		quoted  bool
		escaped bool
		start   int
	)

	for i := 0; i < len(v); i++ {
		switch c := v[i]; {
		case escaped:
			escaped = false
		case quoted && c == '\\':
			escaped = true
		case c == '"':
			quoted = !quoted
		case c == ',' && !quoted:
			parts = append(parts, strings.TrimSpace(v[start:i]))
			start = i + 1
		}
	}

	return append(parts, strings.TrimSpace(v[start:]))
}

// isToken68 reports whether s matches
//
//	token68 = 1*( ALPHA / DIGIT / "-" / "." / "_" / "~" / "+" / "/" ) *"="
func isToken68(s string) bool {
	s = strings.TrimRight(s, "=")
	if s == "" {
		return false
	}

	for i := 0; i < len(s); i++ {
		switch c := s[i]; {
		case 'a' <= c && c <= 'z', 'A' <= c && c <= 'Z', '0' <= c && c <= '9':
		case strings.IndexByte("-._~+/", c) >= 0:
		default:
			return false
		}
	}

	return true
}
