// SPDX-License-Identifier: Apache-2.0

package http

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseChallenges(t *testing.T) {
	tests := []struct {
		name   string
		values []string
		want   []challenge
	}{
		{"none", nil, nil},
		{"empty", []string{""}, nil},
		{"bare negotiate", []string{"Negotiate"}, []challenge{{scheme: "Negotiate"}}},
		{"negotiate token", []string{"Negotiate YIIBhQYGKwYBBQUCoA+/="},
			[]challenge{{scheme: "Negotiate", token68: "YIIBhQYGKwYBBQUCoA+/="}}},
		{"padded token", []string{"Negotiate oRQwEqADCgEAoQsGCSqGSIb3EgECAg=="},
			[]challenge{{scheme: "Negotiate", token68: "oRQwEqADCgEAoQsGCSqGSIb3EgECAg=="}}},
		{"params", []string{`Basic realm="intranet", charset="UTF-8"`},
			[]challenge{{scheme: "Basic", params: []string{`realm="intranet"`, `charset="UTF-8"`}}}},
		{"quoted comma", []string{`Basic realm="a, b", Negotiate`},
			[]challenge{{scheme: "Basic", params: []string{`realm="a, b"`}}, {scheme: "Negotiate"}}},
		{"escaped quote", []string{`Digest realm="say \"hi\", bye", NTLM`},
			[]challenge{{scheme: "Digest", params: []string{`realm="say \"hi\", bye"`}}, {scheme: "NTLM"}}},
		{"several in one header", []string{"Negotiate, NTLM, Basic realm=x"},
			[]challenge{{scheme: "Negotiate"}, {scheme: "NTLM"}, {scheme: "Basic", params: []string{"realm=x"}}}},
		{"several headers", []string{"NTLM", "Negotiate abcd"},
			[]challenge{{scheme: "NTLM"}, {scheme: "Negotiate", token68: "abcd"}}},
		{"spaced param", []string{`Bearer realm = "api"`},
			[]challenge{{scheme: "Bearer", params: []string{`realm = "api"`}}}},
		{"not a token", []string{"Negotiate a=b"},
			[]challenge{{scheme: "Negotiate", params: []string{"a=b"}}}},
		{"stray commas", []string{" , Negotiate ,, "}, []challenge{{scheme: "Negotiate"}}},
		{"orphan param", []string{"realm=x, Negotiate"}, []challenge{{scheme: "Negotiate"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, parseChallenges(tt.values))
		})
	}
}

func TestFindSchemeChallenges(t *testing.T) {
	h := http.Header{}
	h.Add("WWW-Authenticate", `Basic realm="intranet", negotiate`)
	h.Add("WWW-Authenticate", "NEGOTIATE abcd")

	got := findSchemeChallenges(h, "Negotiate")
	assert.Equal(t, []challenge{{scheme: "negotiate"}, {scheme: "NEGOTIATE", token68: "abcd"}}, got)

	assert.Empty(t, findSchemeChallenges(h, "NTLM"))
	assert.Empty(t, findSchemeChallenges(http.Header{}, "Negotiate"))
}

func TestIsToken68(t *testing.T) {
	for _, s := range []string{"a", "abc=", "A-._~+/9==", "YII="} {
		assert.True(t, isToken68(s), s)
	}
	for _, s := range []string{"", "=", "a=b", `"abc"`, "a b", "a,b"} {
		assert.False(t, isToken68(s), s)
	}
}
