// SPDX-License-Identifier: Apache-2.0

package sspi

// Direction says which way a token travels
type Direction int

const (
	Outbound Direction = iota // produced by this context for the peer
	Inbound                   // received from the peer
)

// AuthenticationToken is the output of one handshake round.  Tokens are
// immutable; Bytes returns a copy of the payload.
type AuthenticationToken struct {
	Package   string    // name of the provider that produced the token
	Round     int       // zero based handshake round that produced the token
	Direction Direction // always Outbound for tokens produced by a ClientContext

	data []byte
}

func newToken(pkg string, round int, data []byte) *AuthenticationToken {
	return &AuthenticationToken{
		Package:   pkg,
		Round:     round,
		Direction: Outbound,
		data:      append([]byte(nil), data...),
	}
}

// Bytes returns a copy of the token payload
func (t *AuthenticationToken) Bytes() []byte {
	if t == nil {
		return nil
	}

	return append([]byte(nil), t.data...)
}

// Len returns the payload length
func (t *AuthenticationToken) Len() int {
	if t == nil {
		return 0
	}

	return len(t.data)
}

// Empty is true when there is nothing to send to the peer
func (t *AuthenticationToken) Empty() bool {
	return t.Len() == 0
}
