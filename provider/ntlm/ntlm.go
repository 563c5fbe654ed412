// SPDX-License-Identifier: Apache-2.0

// Package ntlm is an NTLMv2 initiator built on github.com/Azure/go-ntlmssp.
//
// The handshake has two rounds:  the first emits a NEGOTIATE message and the
// second answers the acceptor's CHALLENGE with an AUTHENTICATE message, after
// which the context is established.  NTLM cannot authenticate the acceptor
// and the package offers no session security, so message protection and the
// session key query report StatusUnsupportedFunction.  Channel bindings are
// not carried in the AUTHENTICATE message.
//
// The package registers itself with the name "ntlm".
package ntlm

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/Azure/go-ntlmssp"

	"github.com/golang-auth/go-sspi"
)

// Name is the name the provider registers with
const Name = "ntlm"

const (
	maxToken = 2888

	supportedFlags = sspi.ContextFlagConnection

	// CHALLENGE negotiate flags the initiator cannot honour
	flagLMKey   = 1 << 7
	flagKeyExch = 1 << 30
)

var (
	errNoSessionSecurity = errors.New("ntlm: message protection is not available")
	errNoTokenBuffer     = errors.New("ntlm: no token buffer")
	errEstablished       = errors.New("ntlm: context is already established")

	ntlmSignature = []byte("NTLMSSP\x00")
)

func init() {
	sspi.RegisterProvider(Name, func() (sspi.Provider, error) {
		return New(), nil
	})
}

// Provider is the initiator side of NTLM.
type Provider struct {
	mu       sync.Mutex
	next     sspi.ContextHandle
	contexts map[sspi.ContextHandle]*clientState
}

var _ sspi.Provider = (*Provider)(nil)

type clientState struct {
	cred        *Credential
	flags       sspi.ContextFlag
	established bool
}

func New() *Provider {
	return &Provider{
		contexts: make(map[sspi.ContextHandle]*clientState),
	}
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
			fmt.Errorf("ntlm: credential of type %T was not issued by this package", req.Credential)
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
	tok, err := ntlmssp.NewNegotiateMessage(cred.domain, cred.workstation)
	if err != nil {
		return sspi.InitializeResult{Status: sspi.StatusInternalError}, fmt.Errorf("ntlm: %w", err)
	}

	if st, err := writeToken(out, tok); st != sspi.StatusOK {
		return sspi.InitializeResult{Status: st}, err
	}

	c := &clientState{
		cred:  cred,
		flags: req.Flags & supportedFlags,
	}

	p.next++
	p.contexts[p.next] = c

	return sspi.InitializeResult{
		Status: sspi.StatusContinueNeeded,
		Handle: p.next,
		Flags:  c.flags,
	}, nil
}

func (p *Provider) authenticate(c *clientState, challenge []byte, out *sspi.SecurityBuffer) (sspi.InitializeResult, error) {
	res := sspi.InitializeResult{Flags: c.flags}

	if c.established {
		res.Status = sspi.StatusInvalidToken
		return res, errEstablished
	}

	flags, err := challengeFlags(challenge)
	if err != nil {
		res.Status = sspi.StatusInvalidToken
		return res, err
	}
	if flags&(flagLMKey|flagKeyExch) != 0 {
		res.Status = sspi.StatusAlgorithmMismatch
		return res, fmt.Errorf("ntlm: acceptor requested unsupported negotiate flags %#08x", flags&(flagLMKey|flagKeyExch))
	}

	// the library splits DOMAIN\user itself and needs the domain for the NTLMv2 hash
	tok, err := ntlmssp.NewAuthenticateMessage(challenge, c.cred.principal, c.cred.password,
		&ntlmssp.AuthenticateMessageOptions{WorkstationName: c.cred.workstation})
	if err != nil {
		res.Status = sspi.StatusInvalidToken
		return res, fmt.Errorf("ntlm: processing CHALLENGE: %w", err)
	}

	if st, err := writeToken(out, tok); st != sspi.StatusOK {
		res.Status = st
		return res, err
	}

	c.established = true
	res.Status = sspi.StatusOK

	return res, nil
}

// challengeFlags checks the header of a CHALLENGE message and returns its
// negotiate flags
func challengeFlags(b []byte) (uint32, error) {
	const fixedLen = 48

	if len(b) < fixedLen {
		return 0, fmt.Errorf("ntlm: CHALLENGE message too short (%d bytes)", len(b))
	}
	if string(b[:8]) != string(ntlmSignature) {
		return 0, errors.New("ntlm: token is not an NTLMSSP message")
	}
	if mt := binary.LittleEndian.Uint32(b[8:12]); mt != 2 {
		return 0, fmt.Errorf("ntlm: expected a CHALLENGE message, got message type %d", mt)
	}

	return binary.LittleEndian.Uint32(b[20:24]), nil
}

func (p *Provider) CompleteToken(h sspi.ContextHandle, out sspi.BufferSet) (sspi.Status, error) {
	if _, err := p.lookup(h); err != nil {
		return sspi.StatusInvalidHandle, nil
	}

	return sspi.StatusUnsupportedFunction, errors.New("ntlm: tokens never need completion")
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

func (p *Provider) QuerySessionKey(h sspi.ContextHandle) ([]byte, error) {
	if _, err := p.lookup(h); err != nil {
		return nil, err
	}

	return nil, sspi.StatusUnsupportedFunction.Err(errNoSessionSecurity)
}

func (p *Provider) QuerySizes(h sspi.ContextHandle) (*sspi.Sizes, error) {
	if _, err := p.lookup(h); err != nil {
		return nil, err
	}

	return &sspi.Sizes{
		MaxToken:  maxToken,
		BlockSize: 1,
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

	return &sspi.PackageInfo{
		Name:         "NTLM",
		Comment:      "NTLM Security Package",
		Capabilities: sspi.PackageCapConnection | sspi.PackageCapMultiRequired | sspi.PackageCapNegotiable,
		Version:      1,
		RPCID:        10,
		MaxToken:     maxToken,
	}, nil
}

func (p *Provider) unprotected(h sspi.ContextHandle) (sspi.Status, error) {
	if _, err := p.lookup(h); err != nil {
		return sspi.StatusInvalidHandle, nil
	}

	return sspi.StatusUnsupportedFunction, errNoSessionSecurity
}

func (p *Provider) MakeSignature(h sspi.ContextHandle, _ sspi.BufferSet, _ uint32) (sspi.Status, error) {
	return p.unprotected(h)
}

func (p *Provider) VerifySignature(h sspi.ContextHandle, _ sspi.BufferSet, _ uint32) (sspi.Status, error) {
	return p.unprotected(h)
}

func (p *Provider) EncryptMessage(h sspi.ContextHandle, _ sspi.BufferSet, _ uint32) (sspi.Status, error) {
	return p.unprotected(h)
}

func (p *Provider) DecryptMessage(h sspi.ContextHandle, _ sspi.BufferSet, _ uint32) (sspi.Status, error) {
	return p.unprotected(h)
}

func writeToken(tok *sspi.SecurityBuffer, b []byte) (sspi.Status, error) {
	if cap(tok.Data) < len(b) {
		return sspi.StatusBufferTooSmall, fmt.Errorf("ntlm: need %d bytes for the token, have %d", len(b), cap(tok.Data))
	}

	tok.Data = append(tok.Data[:0], b...)
	return sspi.StatusOK, nil
}
