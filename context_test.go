// SPDX-License-Identifier: Apache-2.0

package sspi

import (
	"bytes"
	"errors"
	"log/slog"
	"testing"
	"time"
)

func newSomeContext(t *testing.T, rounds []someRound, opts ...ClientOption) (*ClientContext, *someProvider) {
	t.Helper()

	p := &someProvider{name: "test", rounds: rounds}
	c, err := NewClientContext(p, someCredential{}, opts...)
	if err != nil {
		t.Fatalf("NewClientContext: %v", err)
	}
	t.Cleanup(func() { _ = c.Release() })

	return c, p
}

func twoRounds() []someRound {
	return []someRound{
		{status: StatusContinueNeeded, token: []byte("negotiate")},
		{status: StatusOK, token: []byte("authenticate"), flags: ContextFlagMutualAuth | ContextFlagIntegrity, expiry: time.Now().Add(time.Hour)},
	}
}

func TestNewClientContext(t *testing.T) {
	assert := NewAssert(t)

	_, err := NewClientContext(nil, someCredential{})
	assert.ErrorIs(err, ErrProtocolMisuse)

	_, err = NewClientContext(&someProvider{}, nil)
	assert.ErrorIs(err, ErrNilCredential)

	c, _ := newSomeContext(t, nil, WithTarget("service/host"), WithFlags(ContextFlagMutualAuth))
	assert.Equal(StateInitial, c.State())
	assert.Equal(0, c.Round())
	assert.False(c.Done())
	assert.Nil(c.Token())
	assert.Equal("service/host", c.Target())
	assert.Equal(ContextFlagMutualAuth, c.RequestedFlags())
	assert.NotEqual([16]byte{}, [16]byte(c.ID()))

	flags, ok := c.NegotiatedFlags()
	assert.False(ok)
	assert.Equal(ContextFlag(0), flags)
	assert.Equal(LifetimeIndefinite, c.Expiry().Status)
}

func TestContinueRounds(t *testing.T) {
	assert := NewAssert(t)

	c, p := newSomeContext(t, twoRounds(), WithTarget("service/host"))

	tok, err := c.Continue(nil)
	assert.NoErrorFatal(err)
	assert.Equal(0, tok.Round)
	assert.Equal(Outbound, tok.Direction)
	assert.Equal("test", tok.Package)
	assert.Equal([]byte("negotiate"), tok.Bytes())
	assert.Equal(1, c.Round())
	assert.False(c.Done())
	assert.Equal(StateNegotiating, c.State())
	assert.Equal(StatusContinueNeeded, c.LastStatus())

	_, ok := c.NegotiatedFlags()
	assert.True(ok)

	tok, err = c.Continue([]byte("challenge"))
	assert.NoErrorFatal(err)
	assert.Equal(1, tok.Round)
	assert.Equal([]byte("authenticate"), tok.Bytes())
	assert.Equal(2, c.Round())
	assert.True(c.Done())
	assert.Equal(StateEstablished, c.State())
	assert.Same(tok, c.Token())

	flags, ok := c.NegotiatedFlags()
	assert.True(ok)
	assert.Equal(ContextFlagMutualAuth|ContextFlagIntegrity, flags)
	assert.Equal(LifetimeAvailable, c.Expiry().Status)
	assert.True(c.Expiry().ExpiresAt.After(time.Now()))

	assert.Len(p.requests, 2)
	assert.Equal(ContextHandle(0), p.requests[0].handle)
	assert.Equal(someHandle, p.requests[1].handle)
	assert.Equal("service/host", p.requests[1].target)
	assert.Equal([]byte("challenge"), p.requests[1].input)
}

func TestContinueDone(t *testing.T) {
	tests := []struct {
		status Status
		done   bool
	}{
		{StatusOK, true},
		{StatusContinueNeeded, false},
		{StatusCompleteNeeded, true},
		{StatusCompleteAndContinue, false},
	}

	for _, tt := range tests {
		t.Run(tt.status.String(), func(t *testing.T) {
			assert := NewAssert(t)

			c, p := newSomeContext(t, []someRound{{status: tt.status, token: []byte("x")}})
			_, err := c.Continue(nil)
			assert.NoErrorFatal(err)
			assert.Equal(tt.done, c.Done())
			assert.Equal(tt.status.NeedsCompletion(), p.completed == 1)
		})
	}
}

func TestContinueCompleteToken(t *testing.T) {
	assert := NewAssert(t)

	c, p := newSomeContext(t, []someRound{
		{status: StatusCompleteAndContinue, token: []byte("first")},
		{status: StatusCompleteNeeded, token: []byte("second")},
	})

	tok, err := c.Continue(nil)
	assert.NoErrorFatal(err)
	assert.Equal([]byte("first!"), tok.Bytes())
	assert.False(c.Done())

	tok, err = c.Continue([]byte("peer"))
	assert.NoErrorFatal(err)
	assert.Equal([]byte("second!"), tok.Bytes())
	assert.True(c.Done())
	assert.Equal(2, p.completed)
}

func TestContinueCompleteTokenFailure(t *testing.T) {
	assert := NewAssert(t)

	c, _ := newSomeContext(t, []someRound{
		{status: StatusCompleteNeeded, token: []byte("x"), completeStatus: StatusInvalidToken},
	})

	_, err := c.Continue(nil)
	assert.ErrorIs(err, ErrProviderFailure)
	assert.ErrorIs(err, ErrInvalidToken)

	var perr *ProviderError
	if assert.ErrorAs(err, &perr) {
		assert.Equal("CompleteAuthToken", perr.Op)
	}
	assert.Equal(StateFailed, c.State())
}

func TestContinueChannelBinding(t *testing.T) {
	assert := NewAssert(t)

	cb := NewEndpointChannelBinding([]byte("hash"))
	c, p := newSomeContext(t, twoRounds(), WithChannelBinding(cb))

	_, err := c.Continue(nil)
	assert.NoErrorFatal(err)
	_, err = c.Continue([]byte("peer"))
	assert.NoErrorFatal(err)

	assert.Equal([]BufferType{BufferChannelBindings}, p.requests[0].inputTypes)
	assert.Equal([]BufferType{BufferToken}, p.requests[1].inputTypes)
}

func TestContinueNeverAllocates(t *testing.T) {
	assert := NewAssert(t)

	c, p := newSomeContext(t, twoRounds(), WithFlags(ContextFlagMutualAuth|ContextFlagAllocateMemory))
	assert.Equal(ContextFlagMutualAuth, c.RequestedFlags())

	_, err := c.Continue(nil)
	assert.NoErrorFatal(err)

	assert.Equal(ContextFlagMutualAuth, p.requests[0].flags)
	assert.Equal(DefaultMaxTokenSize, p.requests[0].outputCap)
}

func TestContinueMisuse(t *testing.T) {
	assert := NewAssert(t)

	c, p := newSomeContext(t, twoRounds())

	_, err := c.Continue([]byte("unexpected"))
	assert.ErrorIs(err, ErrUnexpectedToken)
	assert.ErrorIs(err, ErrProtocolMisuse)
	assert.Equal(0, c.Round())
	assert.Empty(p.requests)

	_, err = c.Continue(nil)
	assert.NoErrorFatal(err)

	_, err = c.Continue(nil)
	assert.ErrorIs(err, ErrMissingToken)
	assert.Equal(1, c.Round())

	_, err = c.Continue([]byte("peer"))
	assert.NoErrorFatal(err)

	_, err = c.Continue([]byte("more"))
	assert.ErrorIs(err, ErrAlreadyEstablished)
	assert.Equal(2, c.Round())
}

func TestContinueFailure(t *testing.T) {
	assert := NewAssert(t)

	c, _ := newSomeContext(t, []someRound{
		{status: StatusLogonDenied, flags: ContextFlagIntegrity, err: errors.New("bad password")},
	})

	tok, err := c.Continue(nil)
	assert.Nil(tok)
	assert.ErrorIs(err, ErrProviderFailure)
	assert.ErrorIs(err, ErrLogonDenied)
	assert.Contains(err.Error(), "bad password")
	assert.Contains(err.Error(), "InitializeSecurityContext")

	var perr *ProviderError
	if assert.ErrorAs(err, &perr) {
		assert.Equal(StatusLogonDenied, perr.Status)
	}

	// the failed round still counts and still reports flags
	assert.Equal(1, c.Round())
	flags, ok := c.NegotiatedFlags()
	assert.True(ok)
	assert.Equal(ContextFlagIntegrity, flags)
	assert.False(c.Done())
	assert.Equal(StateFailed, c.State())

	_, err = c.Continue([]byte("peer"))
	assert.ErrorIs(err, ErrContextFailed)
}

func TestContinueErrorWithoutStatus(t *testing.T) {
	assert := NewAssert(t)

	c, _ := newSomeContext(t, []someRound{
		{status: StatusOK, err: errors.New("mechanism exploded")},
	})

	_, err := c.Continue(nil)
	assert.ErrorIs(err, ErrInternalError)
	assert.ErrorIs(err, ErrProviderFailure)
}

func TestContinueTokenTooLarge(t *testing.T) {
	assert := NewAssert(t)

	c, _ := newSomeContext(t, []someRound{
		{status: StatusContinueNeeded, token: bytes.Repeat([]byte{'x'}, 10)},
	}, WithMaxTokenSize(4))

	_, err := c.Continue(nil)
	assert.ErrorIs(err, ErrResourceExhaustion)
	assert.ErrorIs(err, ErrBufferTooSmall)
	assert.Equal(StateFailed, c.State())
}

func TestRelease(t *testing.T) {
	assert := NewAssert(t)

	c, p := newSomeContext(t, twoRounds())

	// nothing to delete before the first round
	assert.NoError(c.Release())
	assert.Empty(p.deleted)
	assert.Equal(StateReleased, c.State())

	c, p = newSomeContext(t, twoRounds())
	_, err := c.Continue(nil)
	assert.NoErrorFatal(err)

	assert.NoError(c.Release())
	assert.NoError(c.Release())
	assert.Equal([]ContextHandle{someHandle}, p.deleted)
	assert.False(c.Done())

	_, err = c.Continue([]byte("peer"))
	assert.ErrorIs(err, ErrContextReleased)
	_, err = c.MakeSignature([]byte("msg"), 0)
	assert.ErrorIs(err, ErrContextReleased)
	_, err = c.SessionKey()
	assert.ErrorIs(err, ErrContextReleased)
}

func TestReleaseSuppressesErrors(t *testing.T) {
	assert := NewAssert(t)

	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, nil))

	c, p := newSomeContext(t, twoRounds(), WithLogger(logger))
	p.deleteErr = errors.New("handle table corrupt")

	_, err := c.Continue(nil)
	assert.NoErrorFatal(err)

	assert.NotPanics(func() {
		assert.NoError(c.Release())
	})
	assert.Contains(logs.String(), "handle table corrupt")
	assert.Contains(logs.String(), c.ID().String())
}

func TestQueries(t *testing.T) {
	assert := NewAssert(t)

	c, _ := newSomeContext(t, twoRounds())

	_, err := c.SessionKey()
	assert.ErrorIs(err, ErrNoContext)

	name, err := c.PackageName()
	assert.NoError(err)
	assert.Equal("test", name)

	_, err = c.Continue(nil)
	assert.NoErrorFatal(err)

	key, err := c.SessionKey()
	assert.NoError(err)
	assert.Len(key, 16)

	n, err := c.MaxSignatureSize()
	assert.NoError(err)
	assert.Equal(5, n)

	n, err = c.SecurityTrailerSize()
	assert.NoError(err)
	assert.Equal(5, n)

	s, err := c.LastTokenStatus()
	assert.NoError(err)
	assert.Equal(LastTokenYes, s)

	name, err = c.PackageName()
	assert.NoError(err)
	assert.Equal("Negotiated", name)

	info, err := c.AuthenticationPackage()
	assert.NoError(err)
	assert.Equal(1024, info.MaxToken)
}
