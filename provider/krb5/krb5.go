// SPDX-License-Identifier: Apache-2.0

// Package krb5 is the initiator side of the Kerberos V5 security package,
// implemented with gokrb5.  Handshake tokens are framed as in RFC 4121 and
// message protection uses RFC 4121 MIC and Wrap tokens, with the right
// rotation Windows applies so that the ciphertext stays in the caller's data
// buffers.
//
// The package registers itself with the name "kerberos".
package krb5

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jcmturner/gokrb5/v8/iana/chksumtype"
	"github.com/jcmturner/gokrb5/v8/iana/errorcode"
	ianaflags "github.com/jcmturner/gokrb5/v8/iana/flags"
	"github.com/jcmturner/gokrb5/v8/messages"
	"github.com/jcmturner/gokrb5/v8/types"

	"github.com/golang-auth/go-sspi"
)

// Name is the name the provider registers with
const Name = "kerberos"

const (
	maxToken = 48000

	supportedFlags = sspi.ContextFlagMutualAuth |
		sspi.ContextFlagReplayDetect |
		sspi.ContextFlagSequenceDetect |
		sspi.ContextFlagConfidentiality |
		sspi.ContextFlagIntegrity |
		sspi.ContextFlagConnection
)

var (
	errNotEstablished = errors.New("krb5: context is not established")
	errNoTokenBuffer  = errors.New("krb5: no token buffer")
)

func init() {
	sspi.RegisterProvider(Name, func() (sspi.Provider, error) {
		return New(), nil
	})
}

// Option configures a Provider
type Option func(*Provider)

// WithClock sets the time source used to compute context expiry
func WithClock(now func() time.Time) Option {
	return func(p *Provider) {
		p.now = now
	}
}

// Provider is the Kerberos initiator.
type Provider struct {
	mu       sync.Mutex
	next     sspi.ContextHandle
	contexts map[sspi.ContextHandle]*clientState

	now func() time.Time
}

var _ sspi.Provider = (*Provider)(nil)

type clientState struct {
	cred     *Credential
	reqFlags sspi.ContextFlag
	flags    sspi.ContextFlag
	expiry   time.Time

	sessionKey     types.EncryptionKey
	acceptorSubkey *types.EncryptionKey

	// client time of the authenticator, echoed by the AP-REP
	ctime time.Time
	cusec int

	ourISN   uint64
	theirISN uint64

	established bool
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
			fmt.Errorf("%w: %T", errNoCredentials, req.Credential)
	}

	out := req.Output.First(sspi.BufferToken)
	if out == nil {
		return sspi.InitializeResult{Status: sspi.StatusInvalidToken}, errNoTokenBuffer
	}

	if req.Handle == 0 {
		return p.initiate(req, cred, out)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	c, ok := p.contexts[req.Handle]
	if !ok {
		return sspi.InitializeResult{Status: sspi.StatusInvalidHandle}, nil
	}

	var in []byte
	if b := req.Input.First(sspi.BufferToken); b != nil {
		in = b.Data
	}

	res, err := p.continueMutual(c, in)
	res.Handle = req.Handle
	if res.Status == sspi.StatusOK {
		out.Data = out.Data[:0]
	}

	return res, err
}

// initiate sends the AP-REQ
func (p *Provider) initiate(req *sspi.InitializeRequest, cred *Credential, out *sspi.SecurityBuffer) (sspi.InitializeResult, error) {
	if req.Target == "" {
		return sspi.InitializeResult{Status: sspi.StatusTargetUnknown}, errors.New("krb5: a target service principal is required")
	}

	spn := servicePrincipal(req.Target)

	// the ticket exchange may talk to the KDC:  no lock held
	tkt, key, err := cred.tickets.GetServiceTicket(spn)
	if err != nil {
		return sspi.InitializeResult{Status: ticketErrorStatus(err)},
			fmt.Errorf("krb5: getting service ticket for '%s': %w", spn, err)
	}

	var cb []byte
	if b := req.Input.First(sspi.BufferChannelBindings); b != nil {
		cb = b.Data
	}

	c := &clientState{
		cred:       cred,
		reqFlags:   req.Flags,
		flags:      req.Flags & supportedFlags &^ sspi.ContextFlagMutualAuth,
		sessionKey: key,
	}

	apreq, err := c.newAPReq(tkt, cb)
	if err != nil {
		return sspi.InitializeResult{Status: sspi.StatusInternalError}, err
	}

	tok := kRB5Token{
		oID:   oID(),
		tokID: tokenID(tokenIDKrbAPReq),
		aPReq: &apreq,
	}
	b, err := tok.marshal()
	if err != nil {
		return sspi.InitializeResult{Status: sspi.StatusInternalError}, err
	}

	if st, err := writeToken(out, b); st != sspi.StatusOK {
		return sspi.InitializeResult{Status: st}, err
	}

	res := sspi.InitializeResult{Status: sspi.StatusContinueNeeded}

	if req.Flags&sspi.ContextFlagMutualAuth == 0 {
		// without an AP-REP both directions use the initiator's sequence number
		c.theirISN = c.ourISN
		c.established = true
		c.expiry = p.expiry(cred)
		res.Status = sspi.StatusOK
		res.Expiry = c.expiry
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.next++
	p.contexts[p.next] = c

	res.Handle = p.next
	res.Flags = c.flags

	return res, nil
}

func (c *clientState) newAPReq(tkt messages.Ticket, bindings []byte) (apreq messages.APReq, err error) {
	auth, err := types.NewAuthenticator(c.cred.realm, c.cred.cname)
	if err != nil {
		err = fmt.Errorf("krb5: generating new authenticator: %w", err)
		return
	}

	cksum, err := newAuthenticatorChksum(c.reqFlags&supportedFlags, bindings)
	if err != nil {
		return
	}

	auth.Cksum = types.Checksum{
		CksumType: chksumtype.GSSAPI,
		Checksum:  cksum,
	}
	auth.SeqNumber &= 0x3fffffff

	apreq, err = messages.NewAPReq(tkt, c.sessionKey, auth)
	if err != nil {
		err = fmt.Errorf("krb5: %w", err)
		return
	}

	// set the Kerberos APREQ MUTUAL-REQUIRED option if we've been asked to perform mutual auth
	if c.reqFlags&sspi.ContextFlagMutualAuth != 0 {
		types.SetFlag(&apreq.APOptions, ianaflags.APOptionMutualRequired)
	}

	c.ourISN = uint64(auth.SeqNumber)
	c.ctime = auth.CTime
	c.cusec = auth.Cusec

	return
}

// continueMutual processes the acceptor's AP-REP or KRB-ERROR
func (p *Provider) continueMutual(c *clientState, in []byte) (sspi.InitializeResult, error) {
	res := sspi.InitializeResult{Flags: c.flags}

	if c.established {
		res.Status = sspi.StatusInvalidToken
		return res, errors.New("krb5: context is already established")
	}

	var tok kRB5Token
	if err := tok.unmarshal(in); err != nil {
		res.Status = sspi.StatusInvalidToken
		return res, err
	}

	switch {
	case tok.kRBError != nil:
		res.Status = krbErrorStatus(tok.kRBError.ErrorCode)
		return res, *tok.kRBError
	case tok.aPRep == nil:
		res.Status = sspi.StatusInvalidToken
		return res, errors.New("krb5: expected an AP-REP token")
	}

	encpart, err := tok.aPRep.verify(c.sessionKey, c.ctime, c.cusec)
	if err != nil {
		res.Status = sspi.StatusMutualAuthFailed
		return res, err
	}

	c.theirISN = uint64(encpart.SequenceNumber)
	if len(encpart.Subkey.KeyValue) > 0 {
		sk := encpart.Subkey
		c.acceptorSubkey = &sk
	}

	c.flags |= sspi.ContextFlagMutualAuth
	c.expiry = p.expiry(c.cred)
	c.established = true

	res.Status = sspi.StatusOK
	res.Flags = c.flags
	res.Expiry = c.expiry

	return res, nil
}

func (p *Provider) expiry(cred *Credential) time.Time {
	if cred.lifetime <= 0 {
		return time.Time{}
	}

	return p.now().Add(cred.lifetime)
}

// CompleteToken is never needed:  Kerberos tokens are complete when issued
func (p *Provider) CompleteToken(h sspi.ContextHandle, out sspi.BufferSet) (sspi.Status, error) {
	if _, err := p.lookup(h); err != nil {
		return sspi.StatusInvalidHandle, nil
	}

	return sspi.StatusUnsupportedFunction, errors.New("krb5: tokens do not need completion")
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

// established returns the state of an established context
func (p *Provider) established(h sspi.ContextHandle) (*clientState, sspi.Status, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	c, ok := p.contexts[h]
	switch {
	case !ok:
		return nil, sspi.StatusInvalidHandle, nil
	case !c.established:
		return nil, sspi.StatusInvalidHandle, errNotEstablished
	}

	return c, sspi.StatusOK, nil
}

func (p *Provider) QuerySessionKey(h sspi.ContextHandle) ([]byte, error) {
	c, st, err := p.established(h)
	if c == nil {
		if st == sspi.StatusInvalidHandle && err == nil {
			return nil, st.Err()
		}
		return nil, sspi.StatusUnsupportedFunction.Err(err)
	}

	key, _ := c.key()
	return append([]byte(nil), key.KeyValue...), nil
}

func (p *Provider) QuerySizes(h sspi.ContextHandle) (*sspi.Sizes, error) {
	c, err := p.lookup(h)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	key, _ := c.key()
	p.mu.Unlock()

	return &sspi.Sizes{
		MaxToken:        maxToken,
		MaxSignature:    msgTokenHdrLen + checksumLength(key.KeyType),
		BlockSize:       1,
		SecurityTrailer: sealTrailerLength(key.KeyType),
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
		Name:    "Kerberos",
		Comment: "Microsoft Kerberos V1.0 compatible",
		Capabilities: sspi.PackageCapIntegrity |
			sspi.PackageCapPrivacy |
			sspi.PackageCapTokenOnly |
			sspi.PackageCapDatagram |
			sspi.PackageCapConnection |
			sspi.PackageCapMultiRequired |
			sspi.PackageCapExtendedError |
			sspi.PackageCapGSSCompatible |
			sspi.PackageCapMutualAuth,
		Version:  1,
		RPCID:    16,
		MaxToken: maxToken,
	}, nil
}

func (p *Provider) MakeSignature(h sspi.ContextHandle, bs sspi.BufferSet, seq uint32) (sspi.Status, error) {
	c, st, err := p.established(h)
	if c == nil {
		return st, err
	}

	return c.sign(bs, seq)
}

func (p *Provider) VerifySignature(h sspi.ContextHandle, bs sspi.BufferSet, seq uint32) (sspi.Status, error) {
	c, st, err := p.established(h)
	if c == nil {
		return st, err
	}

	return c.verify(bs, seq)
}

// EncryptMessage seals the data buffers of bs as an RFC 4121 Wrap token.
// RFC 4121 has no associated data, so read-only data buffers are refused
// with StatusUnsupportedFunction.
func (p *Provider) EncryptMessage(h sspi.ContextHandle, bs sspi.BufferSet, seq uint32) (sspi.Status, error) {
	c, st, err := p.established(h)
	if c == nil {
		return st, err
	}

	return c.seal(bs, seq)
}

func (p *Provider) DecryptMessage(h sspi.ContextHandle, bs sspi.BufferSet, seq uint32) (sspi.Status, error) {
	c, st, err := p.established(h)
	if c == nil {
		return st, err
	}

	return c.unseal(bs, seq)
}

// servicePrincipal accepts host based service names as service@host
func servicePrincipal(target string) string {
	if strings.Contains(target, "/") {
		return target
	}

	if svc, host, ok := strings.Cut(target, "@"); ok {
		return svc + "/" + host
	}

	return target
}

func tokenID(id string) []byte {
	b, _ := hex.DecodeString(id)
	return b
}

func writeToken(tok *sspi.SecurityBuffer, b []byte) (sspi.Status, error) {
	if cap(tok.Data) < len(b) {
		return sspi.StatusBufferTooSmall, fmt.Errorf("krb5: need %d bytes for the token, have %d", len(b), cap(tok.Data))
	}

	tok.Data = append(tok.Data[:0], b...)
	return sspi.StatusOK, nil
}

// ticketErrorStatus classifies a failure to obtain a service ticket.
// gokrb5 flattens KDC errors into text, so the error code is matched by name.
func ticketErrorStatus(err error) sspi.Status {
	var krbErr messages.KRBError
	if errors.As(err, &krbErr) {
		return krbErrorStatus(krbErr.ErrorCode)
	}

	if strings.Contains(err.Error(), "KDC_ERR_S_PRINCIPAL_UNKNOWN") {
		return sspi.StatusTargetUnknown
	}

	return sspi.StatusNoAuthenticatingAuthority
}

func krbErrorStatus(code int32) sspi.Status {
	switch code {
	case errorcode.KDC_ERR_S_PRINCIPAL_UNKNOWN:
		return sspi.StatusTargetUnknown
	case errorcode.KRB_AP_ERR_SKEW:
		return sspi.StatusTimeSkew
	case errorcode.KRB_AP_ERR_TKT_EXPIRED:
		return sspi.StatusContextExpired
	case errorcode.KRB_AP_ERR_NOT_US, errorcode.KRB_AP_ERR_BADMATCH:
		return sspi.StatusWrongPrincipal
	case errorcode.KRB_AP_ERR_MUT_FAIL:
		return sspi.StatusMutualAuthFailed
	}

	return sspi.StatusLogonDenied
}
