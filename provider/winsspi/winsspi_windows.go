// SPDX-License-Identifier: Apache-2.0

//go:build windows

package winsspi

import (
	"errors"
	"fmt"
	"os/user"
	"sync"
	"syscall"
	"unsafe"

	wsspi "github.com/alexbrainman/sspi"
	"golang.org/x/sys/windows"

	"github.com/golang-auth/go-sspi"
)

// context attributes missing from alexbrainman/sspi
const (
	secpkgAttrSessionKey            = 9
	secpkgAttrPackageInfo           = 10
	secpkgAttrLastClientTokenStatus = 30
)

type secPkgContextSessionKey struct {
	SessionKeyLength uint32
	SessionKey       *byte
}

type secPkgContextPackageInfo struct {
	PackageInfo *wsspi.SecPkgInfo
}

type secPkgContextLastClientTokenStatus struct {
	LastClientTokenStatus uint32
}

var (
	errNoTokenBuffer = errors.New("winsspi: no token buffer")
	errNoBuffers     = errors.New("winsspi: empty buffer set")
)

func init() {
	sspi.RegisterProvider(Name, func() (sspi.Provider, error) {
		p, err := New()
		if err != nil {
			return nil, err
		}
		return p, nil
	})
}

// Credential is a native credentials handle acquired for outbound use.
type Credential struct {
	pkg       string
	principal string
	handle    *wsspi.Credentials
}

// NewCredential calls AcquireCredentialsHandle for the package named in cfg.
// The handle must be released with Release.
func NewCredential(cfg Config) (*Credential, error) {
	var (
		authData  *byte
		principal = cfg.Username
	)

	if cfg.Username != "" {
		id, err := authIdentity(cfg.Domain, cfg.Username, cfg.Password)
		if err != nil {
			return nil, err
		}
		authData = (*byte)(unsafe.Pointer(id))
		if cfg.Domain != "" {
			principal = cfg.Domain + `\` + cfg.Username
		}
	} else if u, err := user.Current(); err == nil {
		principal = u.Username
	}

	h, err := wsspi.AcquireCredentials("", cfg.packageName(), wsspi.SECPKG_CRED_OUTBOUND, authData)
	if err != nil {
		return nil, fmt.Errorf("winsspi: acquiring %s credentials: %w", cfg.packageName(), err)
	}

	return &Credential{
		pkg:       cfg.packageName(),
		principal: principal,
		handle:    h,
	}, nil
}

func authIdentity(domain, username, password string) (*wsspi.SEC_WINNT_AUTH_IDENTITY, error) {
	d, err := windows.UTF16FromString(domain)
	if err != nil {
		return nil, fmt.Errorf("winsspi: encoding domain: %w", err)
	}
	u, err := windows.UTF16FromString(username)
	if err != nil {
		return nil, fmt.Errorf("winsspi: encoding user name: %w", err)
	}
	pw, err := windows.UTF16FromString(password)
	if err != nil {
		return nil, fmt.Errorf("winsspi: encoding password: %w", err)
	}

	return &wsspi.SEC_WINNT_AUTH_IDENTITY{
		User:           &u[0],
		UserLength:     uint32(len(u) - 1),
		Domain:         &d[0],
		DomainLength:   uint32(len(d) - 1),
		Password:       &pw[0],
		PasswordLength: uint32(len(pw) - 1),
		Flags:          wsspi.SEC_WINNT_AUTH_IDENTITY_UNICODE,
	}, nil
}

// Package returns the native package name, not the provider name
func (c *Credential) Package() string {
	return c.pkg
}

func (c *Credential) Principal() string {
	return c.principal
}

// Release frees the credentials handle
func (c *Credential) Release() error {
	return c.handle.Release()
}

// Provider maps context handles to native security contexts.
type Provider struct {
	mu       sync.Mutex
	next     sspi.ContextHandle
	contexts map[sspi.ContextHandle]*clientState
}

var _ sspi.Provider = (*Provider)(nil)

type clientState struct {
	ctx    *wsspi.Context
	target *uint16
}

func New() (*Provider, error) {
	return &Provider{
		contexts: make(map[sspi.ContextHandle]*clientState),
	}, nil
}

func (p *Provider) Name() string {
	return Name
}

// statusOf converts a native return code.  Codes outside the SSPI range are
// reported as StatusInternalError.
func statusOf(ret syscall.Errno) sspi.Status {
	st := sspi.Status(uint32(ret))
	if ret != wsspi.SEC_E_OK && !st.IsError() && !st.Continues() && !st.NeedsCompletion() {
		return sspi.StatusInternalError
	}

	return st
}

func statusErr(ret syscall.Errno) error {
	st := statusOf(ret)
	if !st.IsError() {
		st = sspi.StatusInternalError
	}

	return st.Err(ret)
}

func (p *Provider) InitializeContext(req *sspi.InitializeRequest) (sspi.InitializeResult, error) {
	cred, ok := req.Credential.(*Credential)
	if !ok {
		return sspi.InitializeResult{Status: sspi.StatusUnknownCredentials},
			fmt.Errorf("winsspi: credential of type %T was not issued by this package", req.Credential)
	}

	out := req.Output.First(sspi.BufferToken)
	if out == nil {
		return sspi.InitializeResult{Status: sspi.StatusInvalidToken}, errNoTokenBuffer
	}

	var c *clientState
	if req.Handle == 0 {
		var target *uint16
		if req.Target != "" {
			t, err := windows.UTF16PtrFromString(req.Target)
			if err != nil {
				return sspi.InitializeResult{Status: sspi.StatusTargetUnknown}, fmt.Errorf("winsspi: target name: %w", err)
			}
			target = t
		}
		c = &clientState{
			ctx:    wsspi.NewClientContext(cred.handle, uint32(req.Flags)),
			target: target,
		}
	} else {
		var err error
		if c, err = p.lookup(req.Handle); err != nil {
			return sspi.InitializeResult{Status: sspi.StatusInvalidHandle}, nil
		}
	}

	var inDesc *wsspi.SecBufferDesc
	if in := handshakeBuffers(req.Input); len(in) > 0 {
		inDesc = wsspi.NewSecBufferDesc(in)
	}

	outBufs := make([]wsspi.SecBuffer, 1)
	outBufs[0].Set(wsspi.SECBUFFER_TOKEN, out.Data[:cap(out.Data)])

	ret := c.ctx.Update(c.target, wsspi.NewSecBufferDesc(outBufs), inDesc)
	st := statusOf(ret)

	res := sspi.InitializeResult{
		Status: st,
		Handle: req.Handle,
		Flags:  sspi.ContextFlag(c.ctx.EstablishedFlags),
	}

	if st.IsError() {
		return res, fmt.Errorf("winsspi: InitializeSecurityContext: %w", ret)
	}

	out.Data = out.Data[:outBufs[0].BufferSize]
	if !st.Continues() {
		res.Expiry = c.ctx.Expiry()
	}

	if req.Handle == 0 {
		p.mu.Lock()
		p.next++
		p.contexts[p.next] = c
		res.Handle = p.next
		p.mu.Unlock()
	}

	return res, nil
}

// handshakeBuffers converts the handshake input.  The read-only flags are
// not passed to InitializeSecurityContext.
func handshakeBuffers(bs sspi.BufferSet) []wsspi.SecBuffer {
	nb := make([]wsspi.SecBuffer, 0, len(bs))
	for _, b := range bs {
		var sb wsspi.SecBuffer
		sb.Set(uint32(b.Type), b.Data)
		nb = append(nb, sb)
	}

	return nb
}

func messageBuffers(bs sspi.BufferSet) []wsspi.SecBuffer {
	nb := make([]wsspi.SecBuffer, len(bs))
	for i, b := range bs {
		nb[i].Set(b.NativeType(), b.Data)
	}

	return nb
}

// adopt copies the native results back into bs
func adopt(bs sspi.BufferSet, nb []wsspi.SecBuffer) {
	for i := range nb {
		if bs[i].ReadOnly {
			continue
		}

		var data []byte
		switch sb := nb[i]; {
		case sb.Buffer == nil || sb.BufferSize == 0:
			data = bs[i].Data[:0]
		case len(bs[i].Data) > 0 && sb.Buffer == &bs[i].Data[0] && int(sb.BufferSize) <= cap(bs[i].Data):
			data = bs[i].Data[:sb.BufferSize]
		default:
			data = append([]byte(nil), sb.Bytes()...)
		}

		bs[i] = sspi.BufferFromNative(nb[i].BufferType, data)
	}
}

func (p *Provider) CompleteToken(h sspi.ContextHandle, out sspi.BufferSet) (sspi.Status, error) {
	c, err := p.lookup(h)
	if err != nil {
		return sspi.StatusInvalidHandle, nil
	}

	tok := out.First(sspi.BufferToken)
	if tok == nil {
		return sspi.StatusInvalidToken, errNoTokenBuffer
	}

	nb := make([]wsspi.SecBuffer, 1)
	nb[0].Set(wsspi.SECBUFFER_TOKEN, tok.Data)

	if ret := wsspi.CompleteAuthToken(c.ctx.Handle, wsspi.NewSecBufferDesc(nb)); ret != wsspi.SEC_E_OK {
		return statusOf(ret), fmt.Errorf("winsspi: CompleteAuthToken: %w", ret)
	}

	tok.Data = tok.Data[:nb[0].BufferSize]
	return sspi.StatusOK, nil
}

func (p *Provider) DeleteContext(h sspi.ContextHandle) error {
	p.mu.Lock()
	c, ok := p.contexts[h]
	delete(p.contexts, h)
	p.mu.Unlock()

	if !ok {
		return nil
	}

	if err := c.ctx.Release(); err != nil {
		return fmt.Errorf("winsspi: DeleteSecurityContext: %w", err)
	}

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
	c, err := p.lookup(h)
	if err != nil {
		return nil, err
	}

	var sk secPkgContextSessionKey
	if ret := wsspi.QueryContextAttributes(c.ctx.Handle, secpkgAttrSessionKey, (*byte)(unsafe.Pointer(&sk))); ret != wsspi.SEC_E_OK {
		return nil, statusErr(ret)
	}
	defer wsspi.FreeContextBuffer(sk.SessionKey)

	return append([]byte(nil), unsafe.Slice(sk.SessionKey, sk.SessionKeyLength)...), nil
}

func (p *Provider) QuerySizes(h sspi.ContextHandle) (*sspi.Sizes, error) {
	c, err := p.lookup(h)
	if err != nil {
		return nil, err
	}

	maxToken, maxSig, blockSize, trailer, err := c.ctx.Sizes()
	if err != nil {
		var ret syscall.Errno
		if errors.As(err, &ret) {
			return nil, statusErr(ret)
		}
		return nil, sspi.StatusInternalError.Err(err)
	}

	return &sspi.Sizes{
		MaxToken:        int(maxToken),
		MaxSignature:    int(maxSig),
		BlockSize:       int(blockSize),
		SecurityTrailer: int(trailer),
	}, nil
}

func (p *Provider) QueryLastTokenStatus(h sspi.ContextHandle) (sspi.TokenStatus, error) {
	c, err := p.lookup(h)
	if err != nil {
		return sspi.LastTokenMaybe, err
	}

	var ts secPkgContextLastClientTokenStatus
	ret := wsspi.QueryContextAttributes(c.ctx.Handle, secpkgAttrLastClientTokenStatus, (*byte)(unsafe.Pointer(&ts)))
	switch {
	case statusOf(ret) == sspi.StatusUnsupportedFunction:
		return sspi.LastTokenMaybe, nil
	case ret != wsspi.SEC_E_OK:
		return sspi.LastTokenMaybe, statusErr(ret)
	}

	switch ts.LastClientTokenStatus {
	case 0:
		return sspi.LastTokenYes, nil
	case 1:
		return sspi.LastTokenNo, nil
	}

	return sspi.LastTokenMaybe, nil
}

func (p *Provider) QueryPackageInfo(h sspi.ContextHandle) (*sspi.PackageInfo, error) {
	c, err := p.lookup(h)
	if err != nil {
		return nil, err
	}

	var pi secPkgContextPackageInfo
	if ret := wsspi.QueryContextAttributes(c.ctx.Handle, secpkgAttrPackageInfo, (*byte)(unsafe.Pointer(&pi))); ret != wsspi.SEC_E_OK {
		return nil, statusErr(ret)
	}
	defer wsspi.FreeContextBuffer((*byte)(unsafe.Pointer(pi.PackageInfo)))

	return &sspi.PackageInfo{
		Name:         windows.UTF16PtrToString(pi.PackageInfo.Name),
		Comment:      windows.UTF16PtrToString(pi.PackageInfo.Comment),
		Capabilities: pi.PackageInfo.Capabilities,
		Version:      pi.PackageInfo.Version,
		RPCID:        pi.PackageInfo.RPCID,
		MaxToken:     int(pi.PackageInfo.MaxToken),
	}, nil
}

func (p *Provider) protect(op string, h sspi.ContextHandle, bs sspi.BufferSet, fn func(*wsspi.CtxtHandle, *wsspi.SecBufferDesc) syscall.Errno) (sspi.Status, error) {
	c, err := p.lookup(h)
	if err != nil {
		return sspi.StatusInvalidHandle, nil
	}
	if len(bs) == 0 {
		return sspi.StatusInvalidToken, errNoBuffers
	}

	nb := messageBuffers(bs)
	if ret := fn(c.ctx.Handle, wsspi.NewSecBufferDesc(nb)); ret != wsspi.SEC_E_OK {
		return statusOf(ret), fmt.Errorf("winsspi: %s: %w", op, ret)
	}

	adopt(bs, nb)
	return sspi.StatusOK, nil
}

func (p *Provider) MakeSignature(h sspi.ContextHandle, bs sspi.BufferSet, seq uint32) (sspi.Status, error) {
	return p.protect("MakeSignature", h, bs, func(ch *wsspi.CtxtHandle, desc *wsspi.SecBufferDesc) syscall.Errno {
		return wsspi.MakeSignature(ch, 0, desc, seq)
	})
}

func (p *Provider) VerifySignature(h sspi.ContextHandle, bs sspi.BufferSet, seq uint32) (sspi.Status, error) {
	return p.protect("VerifySignature", h, bs, func(ch *wsspi.CtxtHandle, desc *wsspi.SecBufferDesc) syscall.Errno {
		var qop uint32
		return wsspi.VerifySignature(ch, desc, seq, &qop)
	})
}

func (p *Provider) EncryptMessage(h sspi.ContextHandle, bs sspi.BufferSet, seq uint32) (sspi.Status, error) {
	return p.protect("EncryptMessage", h, bs, func(ch *wsspi.CtxtHandle, desc *wsspi.SecBufferDesc) syscall.Errno {
		return wsspi.EncryptMessage(ch, 0, desc, seq)
	})
}

func (p *Provider) DecryptMessage(h sspi.ContextHandle, bs sspi.BufferSet, seq uint32) (sspi.Status, error) {
	return p.protect("DecryptMessage", h, bs, func(ch *wsspi.CtxtHandle, desc *wsspi.SecBufferDesc) syscall.Errno {
		var qop uint32
		return wsspi.DecryptMessage(ch, desc, seq, &qop)
	})
}
