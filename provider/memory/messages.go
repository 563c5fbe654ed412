// SPDX-License-Identifier: Apache-2.0

package memory

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/jcmturner/gofork/encoding/asn1"
	"github.com/jcmturner/gokrb5/v8/asn1tools"
)

// Mechanism OID of the memory package, under a private enterprise arc
var mechOID = asn1.ObjectIdentifier{1, 3, 6, 1, 4, 1, 65535, 77, 1}

// Handshake token IDs
const (
	tokIDNegotiate    = "0101"
	tokIDChallenge    = "0102"
	tokIDAuthenticate = "0103"
)

// ASN.1 application tags of the handshake messages
const (
	appTagNegotiate    = 1
	appTagChallenge    = 2
	appTagAuthenticate = 3
)

var errBadToken = errors.New("memory: malformed token")

// negotiateMessage opens the handshake.
type negotiateMessage struct {
	Principal string `asn1:"generalstring,explicit,tag:0"`
	Target    string `asn1:"generalstring,explicit,tag:1"`
	Flags     int    `asn1:"explicit,tag:2"`
	Nonce     []byte `asn1:"explicit,tag:3"`
	Bindings  []byte `asn1:"explicit,tag:4"` // SHA-256 of the marshalled channel bindings
}

// challengeMessage is the acceptor reply.  Proof is a checksum over both
// nonces, keyed with the initiator long term key.
type challengeMessage struct {
	Nonce    []byte `asn1:"explicit,tag:0"`
	Flags    int    `asn1:"explicit,tag:1"`
	Lifetime int    `asn1:"explicit,tag:2"` // seconds
	Proof    []byte `asn1:"explicit,tag:3"`
}

// authenticateMessage closes the handshake.  Proof is a checksum over the
// handshake keyed with the session key.
type authenticateMessage struct {
	Proof []byte `asn1:"explicit,tag:0"`
}

// frame wraps a message in the GSS initial context token header
func frame(tokID string, appTag int, msg any) ([]byte, error) {
	mb, err := asn1.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("memory: marshalling message: %w", err)
	}
	mb = asn1tools.AddASNAppTag(mb, appTag)

	id, _ := hex.DecodeString(tokID)

	b, _ := asn1.Marshal(mechOID)
	b = append(b, id...)
	b = append(b, mb...)

	return asn1tools.AddASNAppTag(b, 0), nil
}

// unframe checks the GSS header of b and unmarshals the message it carries
func unframe(b []byte, tokID string, appTag int, msg any) error {
	var oid asn1.ObjectIdentifier
	r, err := asn1.UnmarshalWithParams(b, &oid, "application,explicit,tag:0")
	if err != nil {
		return fmt.Errorf("%w: %v", errBadToken, err)
	}
	if !oid.Equal(mechOID) {
		return fmt.Errorf("%w: unexpected mechanism %s", errBadToken, oid)
	}
	if len(r) < 2 {
		return fmt.Errorf("%w: short token", errBadToken)
	}

	id, _ := hex.DecodeString(tokID)
	if !bytes.Equal(r[:2], id) {
		return fmt.Errorf("%w: token ID %x, expected %s", errBadToken, r[:2], tokID)
	}

	if _, err = asn1.UnmarshalWithParams(r[2:], msg, fmt.Sprintf("application,explicit,tag:%d", appTag)); err != nil {
		return fmt.Errorf("%w: %v", errBadToken, err)
	}

	return nil
}
