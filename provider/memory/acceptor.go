// SPDX-License-Identifier: Apache-2.0

package memory

import (
	"bytes"
	"errors"
	"fmt"
	"time"

	"github.com/jcmturner/gokrb5/v8/types"

	"github.com/golang-auth/go-sspi"
)

var ErrAcceptorDone = errors.New("memory: acceptor context is already established")

// AcceptorOption configures an Acceptor
type AcceptorOption func(*Acceptor)

// WithServiceName makes the acceptor reject initiators that name a
// different, non-empty target
func WithServiceName(name string) AcceptorOption {
	return func(a *Acceptor) {
		a.service = name
	}
}

// WithAcceptorFlags limits the context flags the acceptor grants
func WithAcceptorFlags(flags sspi.ContextFlag) AcceptorOption {
	return func(a *Acceptor) {
		a.allowed = flags
	}
}

// WithLifetime sets the context lifetime granted to initiators
func WithLifetime(d time.Duration) AcceptorOption {
	return func(a *Acceptor) {
		a.lifetime = d
	}
}

// WithExpectedBindings makes the acceptor require the initiator to present
// the channel bindings cb
func WithExpectedBindings(cb *sspi.ChannelBinding) AcceptorOption {
	return func(a *Acceptor) {
		a.bindings = cb
	}
}

// Acceptor is the server side of one memory package context.  It knows the
// credentials of the principals it accepts.  An Acceptor is not safe for
// concurrent use.
type Acceptor struct {
	creds    map[string]*Credential
	service  string
	allowed  sspi.ContextFlag
	lifetime time.Duration
	bindings *sspi.ChannelBinding

	peer        *Credential
	cNonce      []byte
	sNonce      []byte
	cbDigest    []byte
	flags       sspi.ContextFlag
	sessionKey  types.EncryptionKey
	prot        *protector
	established bool
}

// NewAcceptor returns an acceptor for initiators holding one of creds
func NewAcceptor(creds []*Credential, opts ...AcceptorOption) *Acceptor {
	a := &Acceptor{
		creds:    make(map[string]*Credential, len(creds)),
		allowed:  supportedFlags,
		lifetime: DefaultLifetime,
	}
	for _, c := range creds {
		a.creds[c.principal] = c
	}
	for _, o := range opts {
		o(a)
	}

	return a
}

// Accept consumes an initiator token and returns the reply, which is empty
// once the context is established.
func (a *Acceptor) Accept(token []byte) ([]byte, error) {
	switch {
	case a.established:
		return nil, ErrAcceptorDone
	case a.peer == nil:
		return a.challenge(token)
	}

	return nil, a.verify(token)
}

func (a *Acceptor) challenge(token []byte) ([]byte, error) {
	var neg negotiateMessage
	if err := unframe(token, tokIDNegotiate, appTagNegotiate, &neg); err != nil {
		return nil, sspi.StatusInvalidToken.Err(err)
	}

	cred, ok := a.creds[neg.Principal]
	if !ok {
		return nil, sspi.StatusLogonDenied.Err(fmt.Errorf("memory: unknown principal %q", neg.Principal))
	}
	if a.service != "" && neg.Target != "" && neg.Target != a.service {
		return nil, sspi.StatusWrongPrincipal.Err(fmt.Errorf("memory: initiator wants %q, this is %q", neg.Target, a.service))
	}

	if a.bindings != nil {
		cb, err := a.bindings.Marshal()
		if err != nil {
			return nil, err
		}
		if !bytes.Equal(bindingsDigest(cb), neg.Bindings) {
			return nil, sspi.StatusBadBindings.Err()
		}
	}

	nonce, err := newNonce()
	if err != nil {
		return nil, err
	}

	flags := int(sspi.ContextFlag(neg.Flags) & a.allowed)
	lifetime := int(a.lifetime / time.Second)

	proof, err := challengeProof(cred.key, neg.Nonce, nonce, flags, lifetime)
	if err != nil {
		return nil, err
	}

	tok, err := frame(tokIDChallenge, appTagChallenge, challengeMessage{
		Nonce:    nonce,
		Flags:    flags,
		Lifetime: lifetime,
		Proof:    proof,
	})
	if err != nil {
		return nil, err
	}

	a.peer = cred
	a.cNonce = neg.Nonce
	a.sNonce = nonce
	a.cbDigest = neg.Bindings
	a.flags = sspi.ContextFlag(flags)

	return tok, nil
}

func (a *Acceptor) verify(token []byte) error {
	var auth authenticateMessage
	if err := unframe(token, tokIDAuthenticate, appTagAuthenticate, &auth); err != nil {
		return sspi.StatusInvalidToken.Err(err)
	}

	sk, err := deriveSessionKey(a.peer.key, a.cNonce, a.sNonce)
	if err != nil {
		return err
	}

	if !verifyAuthenticateProof(sk, a.cNonce, a.sNonce, a.cbDigest, auth.Proof) {
		return sspi.StatusLogonDenied.Err(errors.New("memory: initiator proof does not match"))
	}

	a.sessionKey = sk
	a.prot = &protector{key: sk, acceptor: true}
	a.established = true

	return nil
}

// Established is true once the initiator has authenticated
func (a *Acceptor) Established() bool {
	return a.established
}

// Peer returns the authenticated initiator principal
func (a *Acceptor) Peer() string {
	if !a.established {
		return ""
	}

	return a.peer.principal
}

// Flags returns the context flags granted to the initiator
func (a *Acceptor) Flags() sspi.ContextFlag {
	return a.flags
}

// SessionKey returns a copy of the session key
func (a *Acceptor) SessionKey() []byte {
	return append([]byte(nil), a.sessionKey.KeyValue...)
}

// MakeSignature signs msg for the initiator
func (a *Acceptor) MakeSignature(msg []byte, seq uint32) ([]byte, error) {
	if !a.established {
		return nil, errNotEstablished
	}

	bs := sspi.BufferSet{
		{Type: sspi.BufferData, ReadOnly: true, Data: msg},
		{Type: sspi.BufferToken, Data: make([]byte, maxSignature)},
	}
	if st, err := a.prot.sign(bs, seq); st != sspi.StatusOK {
		return nil, st.Err(err)
	}

	return bs[1].Data, nil
}

// VerifySignature checks a signature made by the initiator
func (a *Acceptor) VerifySignature(msg, sig []byte, seq uint32) error {
	if !a.established {
		return errNotEstablished
	}

	bs := sspi.BufferSet{
		{Type: sspi.BufferData, ReadOnly: true, Data: msg},
		{Type: sspi.BufferToken, ReadOnly: true, Data: sig},
	}
	if st, err := a.prot.verify(bs, seq); st != sspi.StatusOK {
		return st.Err(err)
	}

	return nil
}

// Seal encrypts the writable data segments of bs for the initiator
func (a *Acceptor) Seal(bs sspi.BufferSet, seq uint32) error {
	if !a.established {
		return errNotEstablished
	}
	if st, err := a.prot.seal(bs, seq); st != sspi.StatusOK {
		return st.Err(err)
	}

	return nil
}

// Unseal decrypts bs sealed by the initiator
func (a *Acceptor) Unseal(bs sspi.BufferSet, seq uint32) error {
	if !a.established {
		return errNotEstablished
	}
	if st, err := a.prot.unseal(bs, seq); st != sspi.StatusOK {
		return st.Err(err)
	}

	return nil
}
