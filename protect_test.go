// SPDX-License-Identifier: Apache-2.0

package sspi

import (
	"testing"
)

func establishedContext(t *testing.T) *ClientContext {
	t.Helper()

	c, _ := newSomeContext(t, twoRounds())
	if _, err := c.Continue(nil); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Continue([]byte("peer")); err != nil {
		t.Fatal(err)
	}

	return c
}

func TestProtectionNotEstablished(t *testing.T) {
	assert := NewAssert(t)

	c, _ := newSomeContext(t, twoRounds())
	_, err := c.Continue(nil)
	assert.NoErrorFatal(err)

	_, err = c.MakeSignature([]byte("msg"), 0)
	assert.ErrorIs(err, ErrNotEstablished)
	assert.ErrorIs(err, ErrProtocolMisuse)

	_, err = c.VerifySignature([]byte("msg"), []byte("sig"), 0)
	assert.ErrorIs(err, ErrNotEstablished)

	_, err = c.EncryptMessage([]byte("msg"), 0)
	assert.ErrorIs(err, ErrNotEstablished)

	_, err = c.DecryptMessage(&EncryptedMessage{}, 0)
	assert.ErrorIs(err, ErrNotEstablished)
}

func TestSignVerify(t *testing.T) {
	assert := NewAssert(t)

	c := establishedContext(t)
	msg := []byte("hello world")

	sig, err := c.MakeSignature(msg, 7)
	assert.NoErrorFatal(err)
	assert.Len(sig, 5)

	ok, err := c.VerifySignature(msg, sig, 7)
	assert.NoError(err)
	assert.True(ok)

	// wrong sequence number
	ok, err = c.VerifySignature(msg, sig, 8)
	assert.NoError(err)
	assert.False(ok)

	// altered message
	ok, err = c.VerifySignature([]byte("hello World"), sig, 7)
	assert.NoError(err)
	assert.False(ok)

	// malformed signature
	ok, err = c.VerifySignature(msg, []byte{1, 2}, 7)
	assert.False(ok)
	assert.ErrorIs(err, ErrInvalidToken)
	assert.ErrorIs(err, ErrProviderFailure)
}

func TestSignBuffersNeedsToken(t *testing.T) {
	assert := NewAssert(t)

	c := establishedContext(t)

	err := c.MakeSignatureBuffers(BufferSet{{Type: BufferData, Data: []byte("x")}}, 0)
	assert.ErrorIs(err, ErrNoTokenBuffer)
}

func TestReadOnlyTokenRejected(t *testing.T) {
	assert := NewAssert(t)

	c := establishedContext(t)
	sig := make([]byte, 0, 16)

	bs := BufferSet{
		{Type: BufferData, Data: []byte("body")},
		{Type: BufferToken, ReadOnly: true, Data: sig},
	}

	err := c.MakeSignatureBuffers(bs, 0)
	assert.ErrorIs(err, ErrReadOnlyToken)
	assert.ErrorIs(err, ErrProtocolMisuse)

	_, err = c.EncryptBuffers(bs, 0)
	assert.ErrorIs(err, ErrReadOnlyToken)

	// nothing was written
	assert.Equal([]byte("body"), bs[0].Data)
	assert.Empty(bs[1].Data)
	assert.Equal(make([]byte, 16), sig[:cap(sig)])
}

func TestEncryptDecrypt(t *testing.T) {
	assert := NewAssert(t)

	c := establishedContext(t)
	msg := []byte("attack at dawn")

	em, err := c.EncryptMessage(msg, 3)
	assert.NoErrorFatal(err)
	assert.Equal([]byte("attack at dawn"), msg, "input must not be modified")
	assert.NotEqual(msg, em.Data())

	pt, err := c.DecryptMessage(em, 3)
	assert.NoErrorFatal(err)
	assert.Equal(msg, pt)

	_, err = c.DecryptMessage(em, 4)
	assert.ErrorIs(err, ErrVerificationMismatch)
	assert.ErrorIs(err, ErrOutOfSequence)
}

func TestEncryptBuffersReadOnly(t *testing.T) {
	assert := NewAssert(t)

	c := establishedContext(t)

	header := []byte("header")
	body := []byte("secret body")

	bs := BufferSet{
		{Type: BufferData, ReadOnly: true, Data: header},
		{Type: BufferData, Data: append([]byte(nil), body...)},
	}

	sig, err := c.EncryptBuffers(bs, 1)
	assert.NoErrorFatal(err)
	assert.Equal([]byte("header"), bs[0].Data)
	assert.NotEqual(body, bs[1].Data)

	assert.NoErrorFatal(c.DecryptBuffers(bs, sig, 1))
	assert.Equal([]byte("header"), bs[0].Data)
	assert.Equal(body, bs[1].Data)

	// the read-only segment is covered by the signature
	sig, err = c.EncryptBuffers(bs, 2)
	assert.NoErrorFatal(err)
	bs[0].Data = []byte("HEADER")
	err = c.DecryptBuffers(bs, sig, 2)
	assert.ErrorIs(err, ErrMessageAltered)
	assert.ErrorIs(err, ErrVerificationMismatch)
}
