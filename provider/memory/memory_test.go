// SPDX-License-Identifier: Apache-2.0

package memory_test

import (
	"net"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/golang-auth/go-sspi"
	"github.com/golang-auth/go-sspi/provider/memory"
)

const (
	testPrincipal = "alice@EXAMPLE.COM"
	testSecret    = "correct horse battery staple"
	testService   = "service/host"
)

func mustCred(t *testing.T, principal, secret string) *memory.Credential {
	t.Helper()

	cred, err := memory.NewCredential(principal, secret)
	require.NoError(t, err)

	return cred
}

// handshake runs the two round handshake between a new client context and acc
func handshake(t *testing.T, prov *memory.Provider, cred *memory.Credential, acc *memory.Acceptor, opts ...sspi.ClientOption) *sspi.ClientContext {
	t.Helper()

	ctx, err := sspi.NewClientContext(prov, cred, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { ctx.Release() })

	tok, err := ctx.Continue(nil)
	require.NoError(t, err)

	reply, err := acc.Accept(tok.Bytes())
	require.NoError(t, err)

	tok, err = ctx.Continue(reply)
	require.NoError(t, err)
	require.True(t, ctx.Done())

	reply, err = acc.Accept(tok.Bytes())
	require.NoError(t, err)
	require.Empty(t, reply)
	require.True(t, acc.Established())

	return ctx
}

func TestNewCredential(t *testing.T) {
	t.Parallel()

	cred := mustCred(t, testPrincipal, testSecret)
	assert.Equal(t, memory.Name, cred.Package())
	assert.Equal(t, testPrincipal, cred.Principal())

	_, err := memory.NewCredential("", testSecret)
	assert.Error(t, err)
}

func TestRegistered(t *testing.T) {
	t.Parallel()

	prov, err := sspi.NewProvider(memory.Name)
	require.NoError(t, err)
	assert.Equal(t, memory.Name, prov.Name())
	assert.Contains(t, sspi.Providers(), memory.Name)
}

func TestHandshake(t *testing.T) {
	t.Parallel()

	cred := mustCred(t, testPrincipal, testSecret)
	acc := memory.NewAcceptor([]*memory.Credential{cred}, memory.WithServiceName(testService))

	now := time.Now()
	prov := memory.New(memory.WithClock(func() time.Time { return now }))

	flags := sspi.ContextFlagMutualAuth | sspi.ContextFlagConfidentiality | sspi.ContextFlagIntegrity
	ctx, err := sspi.NewClientContext(prov, cred, sspi.WithTarget(testService), sspi.WithFlags(flags))
	require.NoError(t, err)
	defer ctx.Release()

	pkg, err := ctx.PackageName()
	require.NoError(t, err)
	assert.Equal(t, memory.Name, pkg)

	tok, err := ctx.Continue(nil)
	require.NoError(t, err)
	assert.Equal(t, sspi.StatusContinueNeeded, ctx.LastStatus())
	assert.False(t, ctx.Done())
	assert.Equal(t, 0, tok.Round)
	assert.Equal(t, memory.Name, tok.Package)
	assert.False(t, tok.Empty())
	assert.Equal(t, sspi.LifetimeIndefinite, ctx.Expiry().Status)

	lts, err := ctx.LastTokenStatus()
	require.NoError(t, err)
	assert.Equal(t, sspi.LastTokenNo, lts)

	reply, err := acc.Accept(tok.Bytes())
	require.NoError(t, err)
	assert.False(t, acc.Established())

	tok, err = ctx.Continue(reply)
	require.NoError(t, err)
	assert.Equal(t, sspi.StatusOK, ctx.LastStatus())
	assert.True(t, ctx.Done())
	assert.Equal(t, sspi.StateEstablished, ctx.State())
	assert.Equal(t, 1, tok.Round)

	got, ok := ctx.NegotiatedFlags()
	assert.True(t, ok)
	assert.Equal(t, flags, got)

	exp := ctx.Expiry()
	assert.Equal(t, sspi.LifetimeAvailable, exp.Status)
	assert.True(t, exp.ExpiresAt.Equal(now.Add(memory.DefaultLifetime)))

	reply, err = acc.Accept(tok.Bytes())
	require.NoError(t, err)
	assert.Empty(t, reply)
	assert.True(t, acc.Established())
	assert.Equal(t, testPrincipal, acc.Peer())
	assert.Equal(t, flags, acc.Flags())

	key, err := ctx.SessionKey()
	require.NoError(t, err)
	assert.Len(t, key, 32)
	assert.Equal(t, acc.SessionKey(), key)

	lts, err = ctx.LastTokenStatus()
	require.NoError(t, err)
	assert.Equal(t, sspi.LastTokenYes, lts)

	info, err := ctx.AuthenticationPackage()
	require.NoError(t, err)
	assert.Equal(t, "Memory", info.Name)

	pkg, err = ctx.PackageName()
	require.NoError(t, err)
	assert.Equal(t, "Memory", pkg)

	_, err = acc.Accept(tok.Bytes())
	assert.ErrorIs(t, err, memory.ErrAcceptorDone)
}

func TestHandshakeFlagsLimitedByAcceptor(t *testing.T) {
	t.Parallel()

	cred := mustCred(t, testPrincipal, testSecret)
	acc := memory.NewAcceptor([]*memory.Credential{cred}, memory.WithAcceptorFlags(sspi.ContextFlagIntegrity))

	ctx := handshake(t, memory.New(), cred, acc,
		sspi.WithFlags(sspi.ContextFlagIntegrity|sspi.ContextFlagConfidentiality|sspi.ContextFlagDelegate))

	got, _ := ctx.NegotiatedFlags()
	assert.Equal(t, sspi.ContextFlagIntegrity, got)
}

func TestHandshakeDeferredCompletion(t *testing.T) {
	t.Parallel()

	cred := mustCred(t, testPrincipal, testSecret)
	acc := memory.NewAcceptor([]*memory.Credential{cred})

	ctx := handshake(t, memory.New(memory.WithDeferredCompletion()), cred, acc)
	assert.Equal(t, sspi.StatusCompleteNeeded, ctx.LastStatus())
	assert.Equal(t, testPrincipal, acc.Peer())
}

func TestHandshakeWrongSecret(t *testing.T) {
	t.Parallel()

	cred := mustCred(t, testPrincipal, testSecret)
	acc := memory.NewAcceptor([]*memory.Credential{mustCred(t, testPrincipal, "wrong")})

	ctx, err := sspi.NewClientContext(memory.New(), cred, sspi.WithFlags(sspi.ContextFlagMutualAuth))
	require.NoError(t, err)
	defer ctx.Release()

	tok, err := ctx.Continue(nil)
	require.NoError(t, err)

	reply, err := acc.Accept(tok.Bytes())
	require.NoError(t, err)

	_, err = ctx.Continue(reply)
	assert.ErrorIs(t, err, sspi.ErrMutualAuthFailed)
	assert.ErrorIs(t, err, sspi.ErrProviderFailure)
	assert.Equal(t, sspi.StateFailed, ctx.State())
	assert.False(t, ctx.Done())
}

func TestAcceptorRejects(t *testing.T) {
	t.Parallel()

	cred := mustCred(t, testPrincipal, testSecret)
	other := mustCred(t, "bob@EXAMPLE.COM", testSecret)

	tests := []struct {
		name   string
		cred   *memory.Credential
		acc    *memory.Acceptor
		opts   []sspi.ClientOption
		expect error
	}{
		{
			name:   "unknown principal",
			cred:   other,
			acc:    memory.NewAcceptor([]*memory.Credential{cred}),
			expect: sspi.ErrLogonDenied,
		},
		{
			name:   "wrong service",
			cred:   cred,
			acc:    memory.NewAcceptor([]*memory.Credential{cred}, memory.WithServiceName(testService)),
			opts:   []sspi.ClientOption{sspi.WithTarget("other/host")},
			expect: sspi.ErrWrongPrincipal,
		},
		{
			name: "missing bindings",
			cred: cred,
			acc: memory.NewAcceptor([]*memory.Credential{cred},
				memory.WithExpectedBindings(sspi.NewEndpointChannelBinding([]byte{1, 2, 3}))),
			expect: sspi.ErrBadBindings,
		},
		{
			name: "different bindings",
			cred: cred,
			acc: memory.NewAcceptor([]*memory.Credential{cred},
				memory.WithExpectedBindings(sspi.NewEndpointChannelBinding([]byte{1, 2, 3}))),
			opts:   []sspi.ClientOption{sspi.WithChannelBinding(sspi.NewEndpointChannelBinding([]byte{3, 2, 1}))},
			expect: sspi.ErrBadBindings,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx, err := sspi.NewClientContext(memory.New(), tt.cred, tt.opts...)
			require.NoError(t, err)
			defer ctx.Release()

			tok, err := ctx.Continue(nil)
			require.NoError(t, err)

			_, err = tt.acc.Accept(tok.Bytes())
			assert.ErrorIs(t, err, tt.expect)
			assert.False(t, tt.acc.Established())
		})
	}

	_, err := memory.NewAcceptor(nil).Accept([]byte("garbage"))
	assert.ErrorIs(t, err, sspi.ErrInvalidToken)
}

func TestHandshakeChannelBindings(t *testing.T) {
	t.Parallel()

	cb := &sspi.ChannelBinding{
		InitiatorAddr: &net.IPAddr{IP: net.IPv4(192, 0, 2, 1)},
		Data:          []byte("bindings"),
	}

	cred := mustCred(t, testPrincipal, testSecret)
	acc := memory.NewAcceptor([]*memory.Credential{cred}, memory.WithExpectedBindings(cb))

	handshake(t, memory.New(), cred, acc, sspi.WithChannelBinding(cb))
	assert.Equal(t, testPrincipal, acc.Peer())
}

func TestSignatureInterop(t *testing.T) {
	t.Parallel()

	cred := mustCred(t, testPrincipal, testSecret)
	acc := memory.NewAcceptor([]*memory.Credential{cred})
	ctx := handshake(t, memory.New(), cred, acc, sspi.WithFlags(sspi.ContextFlagIntegrity))

	msg := []byte("hello acceptor")

	size, err := ctx.MaxSignatureSize()
	require.NoError(t, err)

	sig, err := ctx.MakeSignature(msg, 1)
	require.NoError(t, err)
	assert.LessOrEqual(t, len(sig), size)
	assert.NoError(t, acc.VerifySignature(msg, sig, 1))

	err = acc.VerifySignature(msg, sig, 2)
	assert.ErrorIs(t, err, sspi.ErrOutOfSequence)
	err = acc.VerifySignature([]byte("hello acceptoR"), sig, 1)
	assert.ErrorIs(t, err, sspi.ErrMessageAltered)

	// a signature must not verify at its sender
	ok, err := ctx.VerifySignature(msg, sig, 1)
	assert.NoError(t, err)
	assert.False(t, ok)

	reply := []byte("hello initiator")
	sig, err = acc.MakeSignature(reply, 7)
	require.NoError(t, err)

	ok, err = ctx.VerifySignature(reply, sig, 7)
	assert.NoError(t, err)
	assert.True(t, ok)

	ok, err = ctx.VerifySignature(reply, sig, 8)
	assert.NoError(t, err)
	assert.False(t, ok)

	sig[len(sig)-1] ^= 0xFF
	ok, err = ctx.VerifySignature(reply, sig, 7)
	assert.NoError(t, err)
	assert.False(t, ok)
}

func TestEncryptionInterop(t *testing.T) {
	t.Parallel()

	cred := mustCred(t, testPrincipal, testSecret)
	acc := memory.NewAcceptor([]*memory.Credential{cred})
	ctx := handshake(t, memory.New(), cred, acc, sspi.WithFlags(sspi.ContextFlagConfidentiality))

	msg := []byte("attack at dawn")

	em, err := ctx.EncryptMessage(msg, 5)
	require.NoError(t, err)
	assert.Len(t, em.Data(), len(msg))
	assert.NotEqual(t, msg, em.Data())

	trailer, err := ctx.SecurityTrailerSize()
	require.NoError(t, err)
	assert.Len(t, em.Signature, trailer)

	bs := append(em.Buffers.Clone(), sspi.SecurityBuffer{Type: sspi.BufferToken, Data: em.Signature})
	require.NoError(t, acc.Unseal(bs, 5))
	assert.Equal(t, msg, bs.Data())

	bs = append(em.Buffers.Clone(), sspi.SecurityBuffer{Type: sspi.BufferToken, Data: em.Signature})
	assert.ErrorIs(t, acc.Unseal(bs, 6), sspi.ErrOutOfSequence)

	reply := []byte("retreat at dusk")
	bs = sspi.BufferSet{
		{Type: sspi.BufferData, Data: append([]byte(nil), reply...)},
		{Type: sspi.BufferToken, Data: make([]byte, 0, trailer)},
	}
	require.NoError(t, acc.Seal(bs, 9))

	plain, err := ctx.DecryptMessage(&sspi.EncryptedMessage{Signature: bs[1].Data, Buffers: bs[:1]}, 9)
	require.NoError(t, err)
	assert.Equal(t, reply, plain)

	bs[0].Data[0] ^= 0xFF
	_, err = ctx.DecryptMessage(&sspi.EncryptedMessage{Signature: bs[1].Data, Buffers: bs[:1]}, 9)
	assert.ErrorIs(t, err, sspi.ErrVerificationMismatch)
}

func TestEncryptBuffersReadOnlySegments(t *testing.T) {
	t.Parallel()

	cred := mustCred(t, testPrincipal, testSecret)
	acc := memory.NewAcceptor([]*memory.Credential{cred})
	ctx := handshake(t, memory.New(), cred, acc, sspi.WithFlags(sspi.ContextFlagConfidentiality))

	header := []byte("cleartext header")
	body := []byte("secret body")

	bs := sspi.BufferSet{
		{Type: sspi.BufferData, ReadOnly: true, Data: header},
		{Type: sspi.BufferData, Data: append([]byte(nil), body...)},
	}

	sig, err := ctx.EncryptBuffers(bs, 1)
	require.NoError(t, err)
	assert.Equal(t, header, bs[0].Data)
	assert.NotEqual(t, body, bs[1].Data)

	tampered := bs.Clone()
	tampered[0].Data[0] = 'C'
	err = ctx.DecryptBuffers(tampered, sig, 1)
	assert.ErrorIs(t, err, sspi.ErrVerificationMismatch)

	work := append(bs.Clone(), sspi.SecurityBuffer{Type: sspi.BufferToken, Data: sig})
	require.NoError(t, acc.Unseal(work, 1))
	assert.Equal(t, header, work[0].Data)
	assert.Equal(t, body, work[1].Data)
}

func TestReleaseDeletesContext(t *testing.T) {
	t.Parallel()

	cred := mustCred(t, testPrincipal, testSecret)
	prov := memory.New()

	ctx, err := sspi.NewClientContext(prov, cred)
	require.NoError(t, err)

	_, err = ctx.Continue(nil)
	require.NoError(t, err)
	assert.Equal(t, 1, prov.Live())

	assert.NoError(t, ctx.Release())
	assert.Equal(t, 0, prov.Live())

	_, err = ctx.SessionKey()
	assert.ErrorIs(t, err, sspi.ErrContextReleased)
}

func TestForeignCredential(t *testing.T) {
	t.Parallel()

	ctx, err := sspi.NewClientContext(memory.New(), foreignCred{})
	require.NoError(t, err)
	defer ctx.Release()

	_, err = ctx.Continue(nil)
	assert.ErrorIs(t, err, sspi.ErrUnknownCredentials)
}

type foreignCred struct{}

func (foreignCred) Package() string   { return "other" }
func (foreignCred) Principal() string { return "nobody" }

// startContext runs the first round and drops the context without releasing it
func startContext(t *testing.T, prov *memory.Provider, cred *memory.Credential) {
	t.Helper()

	ctx, err := sspi.NewClientContext(prov, cred)
	require.NoError(t, err)

	_, err = ctx.Continue(nil)
	require.NoError(t, err)
}

func TestUnreleasedContextCollected(t *testing.T) {
	cred := mustCred(t, testPrincipal, testSecret)
	prov := memory.New()

	startContext(t, prov, cred)
	require.Equal(t, 1, prov.Live())

	assert.Eventually(t, func() bool {
		runtime.GC()
		return prov.Live() == 0
	}, 5*time.Second, 10*time.Millisecond)
}
