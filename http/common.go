// SPDX-License-Identifier: Apache-2.0

package http

import (
	"crypto/tls"
	"errors"
	"net/http"

	"github.com/golang-auth/go-sspi"
)

// ChannelBindingDisposition controls whether TLS channel bindings are added to
// the security context.
type ChannelBindingDisposition int

const (
	ChannelBindingDispositionIgnore ChannelBindingDisposition = iota
	ChannelBindingDispositionIfAvailable
	ChannelBindingDispositionRequire
)

func (d ChannelBindingDisposition) String() string {
	switch d {
	case ChannelBindingDispositionIgnore:
		return "ignore"
	case ChannelBindingDispositionIfAvailable:
		return "if-available"
	case ChannelBindingDispositionRequire:
		return "require"
	}
	return "unknown"
}

var ErrChannelBindingUnavailable = errors.New("negotiate: channel bindings required but the connection is not TLS")

// requestTLSState returns the TLS state of the connection that challenged req
func requestTLSState(req *http.Request, resp *http.Response) *tls.ConnectionState {
	if resp != nil && resp.TLS != nil {
		return resp.TLS
	}
	if req.TLS != nil {
		return req.TLS
	}

	return nil
}

// channelBinding builds the tls-server-end-point binding for state as allowed
// by disposition.  A nil binding with a nil error means none is sent.
func channelBinding(disposition ChannelBindingDisposition, state *tls.ConnectionState) (*sspi.ChannelBinding, error) {
	if disposition == ChannelBindingDispositionIgnore {
		return nil, nil
	}

	if state == nil {
		if disposition == ChannelBindingDispositionRequire {
			return nil, ErrChannelBindingUnavailable
		}
		return nil, nil
	}

	binding, err := sspi.NewTLSChannelBinding(state, nil)
	if err != nil {
		if disposition == ChannelBindingDispositionRequire {
			return nil, err
		}
		return nil, nil
	}

	return binding, nil
}
