// SPDX-License-Identifier: Apache-2.0

package sspi

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"
	"time"
)

type someCredential struct{}

func (someCredential) Package() string {
	return "test"
}

func (someCredential) Principal() string {
	return "user@EXAMPLE.COM"
}

// scripted handshake round
type someRound struct {
	status         Status
	token          []byte
	flags          ContextFlag
	expiry         time.Time
	err            error
	completeStatus Status
}

// recorded InitializeContext call
type someRequest struct {
	handle     ContextHandle
	flags      ContextFlag
	target     string
	inputTypes []BufferType
	input      []byte
	outputCap  int
}

// someProvider plays back a handshake script.  Its message protection is a
// toy: signatures are the sequence number followed by a byte sum and
// encryption XORs the data.
type someProvider struct {
	name      string
	rounds    []someRound
	requests  []someRequest
	completed int
	deleted   []ContextHandle
	deleteErr error
}

const someHandle ContextHandle = 42

func (p *someProvider) Name() string {
	return p.name
}

func (p *someProvider) InitializeContext(req *InitializeRequest) (InitializeResult, error) {
	r := someRequest{
		handle:    req.Handle,
		flags:     req.Flags,
		target:    req.Target,
		outputCap: len(req.Output[0].Data),
	}
	for _, b := range req.Input {
		r.inputTypes = append(r.inputTypes, b.Type)
		if b.Type == BufferToken {
			r.input = append([]byte(nil), b.Data...)
		}
	}
	p.requests = append(p.requests, r)

	i := len(p.requests) - 1
	if i >= len(p.rounds) {
		return InitializeResult{Status: StatusInternalError}, errors.New("script exhausted")
	}
	round := p.rounds[i]

	out := req.Output.First(BufferToken)
	if len(round.token) > len(out.Data) {
		return InitializeResult{Status: StatusBufferTooSmall, Handle: someHandle}, nil
	}
	out.Data = out.Data[:copy(out.Data, round.token)]

	return InitializeResult{
		Status: round.status,
		Handle: someHandle,
		Flags:  round.flags,
		Expiry: round.expiry,
	}, round.err
}

func (p *someProvider) CompleteToken(h ContextHandle, out BufferSet) (Status, error) {
	p.completed++
	tok := out.First(BufferToken)
	tok.Data = append(tok.Data, '!')

	return p.rounds[len(p.requests)-1].completeStatus, nil
}

func (p *someProvider) DeleteContext(h ContextHandle) error {
	p.deleted = append(p.deleted, h)
	return p.deleteErr
}

func (p *someProvider) QuerySessionKey(h ContextHandle) ([]byte, error) {
	return []byte("0123456789abcdef"), nil
}

func (p *someProvider) QuerySizes(h ContextHandle) (*Sizes, error) {
	return &Sizes{MaxToken: 1024, MaxSignature: 5, BlockSize: 0, SecurityTrailer: 5}, nil
}

func (p *someProvider) QueryLastTokenStatus(h ContextHandle) (TokenStatus, error) {
	return LastTokenYes, nil
}

func (p *someProvider) QueryPackageInfo(h ContextHandle) (*PackageInfo, error) {
	return &PackageInfo{Name: "Negotiated", MaxToken: 1024}, nil
}

func someSignature(bs BufferSet, seq uint32) []byte {
	sig := make([]byte, 5)
	binary.BigEndian.PutUint32(sig, seq)
	for _, b := range bs.Data() {
		sig[4] += b
	}

	return sig
}

func someVerify(bs BufferSet, seq uint32) Status {
	tok := bs.First(BufferToken)
	if len(tok.Data) != 5 {
		return StatusInvalidToken
	}
	if binary.BigEndian.Uint32(tok.Data) != seq {
		return StatusOutOfSequence
	}
	if !bytes.Equal(tok.Data, someSignature(bs, seq)) {
		return StatusMessageAltered
	}

	return StatusOK
}

func someXOR(bs BufferSet) {
	for _, b := range bs.MutableData() {
		for i := range b.Data {
			b.Data[i] ^= 0x5A
		}
	}
}

func (p *someProvider) MakeSignature(h ContextHandle, bs BufferSet, seq uint32) (Status, error) {
	tok := bs.First(BufferToken)
	tok.Data = tok.Data[:copy(tok.Data, someSignature(bs, seq))]
	return StatusOK, nil
}

func (p *someProvider) VerifySignature(h ContextHandle, bs BufferSet, seq uint32) (Status, error) {
	return someVerify(bs, seq), nil
}

func (p *someProvider) EncryptMessage(h ContextHandle, bs BufferSet, seq uint32) (Status, error) {
	tok := bs.First(BufferToken)
	tok.Data = tok.Data[:copy(tok.Data, someSignature(bs, seq))]
	someXOR(bs)
	if pad := bs.First(BufferPadding); pad != nil {
		pad.Data = pad.Data[:0]
	}
	return StatusOK, nil
}

func (p *someProvider) DecryptMessage(h ContextHandle, bs BufferSet, seq uint32) (Status, error) {
	someXOR(bs)
	if s := someVerify(bs, seq); s != StatusOK {
		someXOR(bs)
		return s, nil
	}
	return StatusOK, nil
}

func TestRegister(t *testing.T) {
	assert := NewAssert(t)

	registry.libs = make(map[string]ProviderConstructor)

	assert.Equal(0, len(registry.libs))

	constructor := func() (Provider, error) {
		return &someProvider{name: "TEST"}, nil
	}

	RegisterProvider("test", constructor)
	assert.Equal(1, len(registry.libs))
	f, ok := registry.libs["test"]
	assert.True(ok)
	assert.NotNil(f)

	p, err := NewProvider("test")
	assert.NoError(err)
	assert.NotNil(p)
	sp, ok := p.(*someProvider)
	assert.True(ok)
	assert.Equal("TEST", sp.name)

	p, err = NewProvider("xyz")
	assert.ErrorIs(err, ErrProviderNotFound)
	assert.Nil(p)

	assert.NotPanics(func() { MustNewProvider("test") })
	assert.Panics(func() { MustNewProvider("") })
	assert.Panics(func() { MustNewProvider("xyz") })
}

func TestNewProvider(t *testing.T) {
	assert := NewAssert(t)

	registry.libs = make(map[string]ProviderConstructor)

	RegisterProvider("provider1", func() (Provider, error) {
		return &someProvider{name: "PROVIDER1"}, nil
	})

	// Case: provider exists, should succeed
	p, err := NewProvider("provider1")
	assert.NoErrorFatal(err)
	assert.NotNil(p)
	if sp, ok := p.(*someProvider); assert.True(ok) {
		assert.Equal("PROVIDER1", sp.name)
	}

	// Case: provider not registered, should error
	p2, err2 := NewProvider("does_not_exist")
	assert.Error(err2)
	assert.Nil(p2)

	// Case: constructor returns an error
	RegisterProvider("badprovider", func() (Provider, error) {
		return nil, errors.New("test constructor error")
	})

	p3, err3 := NewProvider("badprovider")
	assert.Error(err3)
	assert.Nil(p3)
}

func TestMustNewProvider(t *testing.T) {
	assert := NewAssert(t)

	registry.libs = make(map[string]ProviderConstructor)

	RegisterProvider("provider42", func() (Provider, error) {
		return &someProvider{name: "PROVIDER42"}, nil
	})

	assert.NotPanics(func() {
		p := MustNewProvider("provider42")
		assert.NotNil(p)
	})

	assert.Panics(func() { MustNewProvider("nope") })

	RegisterProvider("errprovider", func() (Provider, error) {
		return nil, errors.New("fail!!!")
	})
	assert.Panics(func() { MustNewProvider("errprovider") })
}

func TestProviders(t *testing.T) {
	assert := NewAssert(t)

	registry.libs = make(map[string]ProviderConstructor)
	assert.Empty(Providers())

	ctor := func() (Provider, error) { return &someProvider{}, nil }
	RegisterProvider("zeta", ctor)
	RegisterProvider("alpha", ctor)

	assert.Equal([]string{"alpha", "zeta"}, Providers())
}
