// SPDX-License-Identifier: Apache-2.0

// Package memory is a self contained security package that needs no
// infrastructure.  Peers share a secret per principal and run a two round
// handshake:
//
//	initiator                       acceptor
//	NEGOTIATE (principal, nonce) ->
//	                             <- CHALLENGE (nonce, flags, lifetime, proof)
//	AUTHENTICATE (proof)         ->
//
// The CHALLENGE proof shows that the acceptor knows the initiator's key and
// the AUTHENTICATE proof shows the initiator derived the same session key and
// saw the same channel bindings.  Message protection uses the session key
// with AES256-CTS-HMAC-SHA1-96.
//
// The package registers itself with the name "memory".
package memory

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jcmturner/gokrb5/v8/types"

	"github.com/golang-auth/go-sspi"
)

// Name is the name the provider registers with
const Name = "memory"

const (
	// DefaultLifetime is the context lifetime granted by an Acceptor
	DefaultLifetime = 8 * time.Hour

	maxToken        = 4096
	maxSignature    = headerLen + 12
	securityTrailer = headerLen + 16 + headerLen + 12 + 12

	supportedFlags = sspi.ContextFlagMutualAuth |
		sspi.ContextFlagReplayDetect |
		sspi.ContextFlagSequenceDetect |
		sspi.ContextFlagConfidentiality |
		sspi.ContextFlagIntegrity |
		sspi.ContextFlagConnection
)

var (
	errNotEstablished = errors.New("memory: context is not established")
	errNoCompletion   = errors.New("memory: no token is waiting for completion")
)

func init() {
	sspi.RegisterProvider(Name, func() (sspi.Provider, error) {
		return New(), nil
	})
}

// Option configures a Provider
type Option func(*Provider)

// WithDeferredCompletion makes the final handshake round return
// StatusCompleteNeeded;  the AUTHENTICATE proof is only added to the token by
// CompleteToken.
func WithDeferredCompletion() Option {
	return func(p *Provider) {
		p.deferCompletion = true
	}
}

// WithClock sets the time source used to compute context expiry
func WithClock(now func() time.Time) Option {
	return func(p *Provider) {
		p.now = now
	}
}

// Provider is the initiator side of the memory package.
type Provider struct {
	mu       sync.Mutex
	next     sspi.ContextHandle
	contexts map[sspi.ContextHandle]*clientState

	deferCompletion bool
	now             func() time.Time
}

var _ sspi.Provider = (*Provider)(nil)

type clientState struct {
	cred     *Credential
	reqFlags sspi.ContextFlag
	flags    sspi.ContextFlag
	cNonce   []byte
	sNonce   []byte
	bindings []byte
	expiry   time.Time

	sessionKey  types.EncryptionKey
	prot        *protector
	established bool
	pending     *authenticateMessage
}

// New returns a provider with the supplied options
func New(opts ...Option) *Provider {
	p := &Provider{
		contexts: make(map[sspi.ContextHandle]*clientState),
		now:      time.Now,
	}
	for _, o := range opts {
		o(p)
	}

	return p
}

func (p *Provider) Name() string {
	return Name
}

// Live returns the number of contexts that have not been deleted
func (p *Provider) Live() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	return len(p.contexts)
}

func (p *Provider) InitializeContext(req *sspi.InitializeRequest) (sspi.InitializeResult, error) {
	cred, ok := req.Credential.(*Credential)
	if !ok {
		return sspi.InitializeResult{Status: sspi.StatusUnknownCredentials},
			fmt.Errorf("memory: credential of type %T was not issued by this package", req.Credential)
	}

	out := req.Output.First(sspi.BufferToken)
	if out == nil {
		return sspi.InitializeResult{Status: sspi.StatusInvalidToken}, errNoTokenBuffer
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if req.Handle == 0 {
		return p.negotiate(req, cred, out)
	}

	c, ok := p.contexts[req.Handle]
	if !ok {
		return sspi.InitializeResult{Status: sspi.StatusInvalidHandle}, nil
	}

	var in []byte
	if b := req.Input.First(sspi.BufferToken); b != nil {
		in = b.Data
	}

	res, err := p.authenticate(c, in, out)
	res.Handle = req.Handle

	return res, err
}

func (p *Provider) negotiate(req *sspi.InitializeRequest, cred *Credential, out *sspi.SecurityBuffer) (sspi.InitializeResult, error) {
	nonce, err := newNonce()
	if err != nil {
		return sspi.InitializeResult{Status: sspi.StatusInternalError}, err
	}

	var cb []byte
	if b := req.Input.First(sspi.BufferChannelBindings); b != nil {
		cb = b.Data
	}

	c := &clientState{
		cred:     cred,
		reqFlags: req.Flags,
		flags:    req.Flags & supportedFlags,
		cNonce:   nonce,
		bindings: bindingsDigest(cb),
	}

	tok, err := frame(tokIDNegotiate, appTagNegotiate, negotiateMessage{
		Principal: cred.principal,
		Target:    req.Target,
		Flags:     int(c.flags),
		Nonce:     c.cNonce,
		Bindings:  c.bindings,
	})
	if err != nil {
		return sspi.InitializeResult{Status: sspi.StatusInternalError}, err
	}

	if st, err := writeToken(out, tok); st != sspi.StatusOK {
		return sspi.InitializeResult{Status: st}, err
	}

	p.next++
	p.contexts[p.next] = c

	return sspi.InitializeResult{
		Status: sspi.StatusContinueNeeded,
		Handle: p.next,
		Flags:  c.flags,
	}, nil
}

func (p *Provider) authenticate(c *clientState, in []byte, out *sspi.SecurityBuffer) (sspi.InitializeResult, error) {
	res := sspi.InitializeResult{Flags: c.flags}

	if c.established {
		res.Status = sspi.StatusInvalidToken
		return res, errors.New("memory: context is already established")
	}

	var ch challengeMessage
	if err := unframe(in, tokIDChallenge, appTagChallenge, &ch); err != nil {
		res.Status = sspi.StatusInvalidToken
		return res, err
	}

	if !verifyChallengeProof(c.cred.key, c.cNonce, ch.Nonce, ch.Flags, ch.Lifetime, ch.Proof) {
		res.Status = sspi.StatusMutualAuthFailed
		return res, errors.New("memory: acceptor could not prove knowledge of the shared key")
	}

	sk, err := deriveSessionKey(c.cred.key, c.cNonce, ch.Nonce)
	if err != nil {
		res.Status = sspi.StatusInternalError
		return res, err
	}

	proof, err := authenticateProof(sk, c.cNonce, ch.Nonce, c.bindings)
	if err != nil {
		res.Status = sspi.StatusInternalError
		return res, err
	}

	msg := &authenticateMessage{Proof: proof}
	res.Status = sspi.StatusOK
	if p.deferCompletion {
		c.pending = msg
		msg = &authenticateMessage{Proof: []byte{}}
		res.Status = sspi.StatusCompleteNeeded
	}

	tok, err := frame(tokIDAuthenticate, appTagAuthenticate, *msg)
	if err != nil {
		res.Status = sspi.StatusInternalError
		return res, err
	}
	if st, err := writeToken(out, tok); st != sspi.StatusOK {
		res.Status = st
		return res, err
	}

	c.sNonce = ch.Nonce
	c.flags = sspi.ContextFlag(ch.Flags) & c.reqFlags & supportedFlags
	c.expiry = p.now().Add(time.Duration(ch.Lifetime) * time.Second)
	c.sessionKey = sk
	c.prot = &protector{key: sk}
	c.established = true

	res.Flags = c.flags
	res.Expiry = c.expiry

	return res, nil
}

func (p *Provider) CompleteToken(h sspi.ContextHandle, out sspi.BufferSet) (sspi.Status, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	c, ok := p.contexts[h]
	if !ok {
		return sspi.StatusInvalidHandle, nil
	}
	if c.pending == nil {
		return sspi.StatusInvalidToken, errNoCompletion
	}

	tok := out.First(sspi.BufferToken)
	if tok == nil {
		return sspi.StatusInvalidToken, errNoTokenBuffer
	}

	b, err := frame(tokIDAuthenticate, appTagAuthenticate, *c.pending)
	if err != nil {
		return sspi.StatusInternalError, err
	}
	if st, err := writeToken(tok, b); st != sspi.StatusOK {
		return st, err
	}

	c.pending = nil
	return sspi.StatusOK, nil
}

func (p *Provider) DeleteContext(h sspi.ContextHandle) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	delete(p.contexts, h)
	return nil
}

func (p *Provider) lookup(h sspi.ContextHandle) (*clientState, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	c, ok := p.contexts[h]
	if !ok {
		return nil, sspi.StatusInvalidHandle.Err()
	}

	return c, nil
}

// protector returns the protector of an established context
func (p *Provider) protector(h sspi.ContextHandle) (*protector, sspi.Status, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	c, ok := p.contexts[h]
	switch {
	case !ok:
		return nil, sspi.StatusInvalidHandle, nil
	case !c.established:
		return nil, sspi.StatusInvalidHandle, errNotEstablished
	}

	return c.prot, sspi.StatusOK, nil
}

func (p *Provider) QuerySessionKey(h sspi.ContextHandle) ([]byte, error) {
	c, err := p.lookup(h)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if !c.established {
		return nil, sspi.StatusUnsupportedFunction.Err(errNotEstablished)
	}

	return append([]byte(nil), c.sessionKey.KeyValue...), nil
}

func (p *Provider) QuerySizes(h sspi.ContextHandle) (*sspi.Sizes, error) {
	if _, err := p.lookup(h); err != nil {
		return nil, err
	}

	return &sspi.Sizes{
		MaxToken:        maxToken,
		MaxSignature:    maxSignature,
		BlockSize:       1,
		SecurityTrailer: securityTrailer,
	}, nil
}

func (p *Provider) QueryLastTokenStatus(h sspi.ContextHandle) (sspi.TokenStatus, error) {
	c, err := p.lookup(h)
	if err != nil {
		return sspi.LastTokenMaybe, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if c.established {
		return sspi.LastTokenYes, nil
	}

	return sspi.LastTokenNo, nil
}

func (p *Provider) QueryPackageInfo(h sspi.ContextHandle) (*sspi.PackageInfo, error) {
	if _, err := p.lookup(h); err != nil {
		return nil, err
	}

	return packageInfo(), nil
}

func packageInfo() *sspi.PackageInfo {
	return &sspi.PackageInfo{
		Name:    "Memory",
		Comment: "Shared secret security package",
		Capabilities: sspi.PackageCapIntegrity |
			sspi.PackageCapPrivacy |
			sspi.PackageCapConnection |
			sspi.PackageCapMultiRequired |
			sspi.PackageCapMutualAuth,
		Version:  1,
		MaxToken: maxToken,
	}
}

func (p *Provider) MakeSignature(h sspi.ContextHandle, bs sspi.BufferSet, seq uint32) (sspi.Status, error) {
	prot, st, err := p.protector(h)
	if prot == nil {
		return st, err
	}

	return prot.sign(bs, seq)
}

func (p *Provider) VerifySignature(h sspi.ContextHandle, bs sspi.BufferSet, seq uint32) (sspi.Status, error) {
	prot, st, err := p.protector(h)
	if prot == nil {
		return st, err
	}

	return prot.verify(bs, seq)
}

func (p *Provider) EncryptMessage(h sspi.ContextHandle, bs sspi.BufferSet, seq uint32) (sspi.Status, error) {
	prot, st, err := p.protector(h)
	if prot == nil {
		return st, err
	}

	return prot.seal(bs, seq)
}

func (p *Provider) DecryptMessage(h sspi.ContextHandle, bs sspi.BufferSet, seq uint32) (sspi.Status, error) {
	prot, st, err := p.protector(h)
	if prot == nil {
		return st, err
	}

	return prot.unseal(bs, seq)
}
