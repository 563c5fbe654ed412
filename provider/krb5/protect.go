// SPDX-License-Identifier: Apache-2.0

package krb5

import (
	"errors"
	"fmt"

	"github.com/jcmturner/gokrb5/v8/types"

	"github.com/golang-auth/go-sspi"
)

// key returns the key protecting our messages:  the acceptor subkey if the
// AP-REP carried one, otherwise the ticket session key
func (c *clientState) key() (types.EncryptionKey, tokenFlag) {
	if c.acceptorSubkey != nil {
		return *c.acceptorSubkey, tokenFlagAcceptorSubkey
	}

	return c.sessionKey, 0
}

// peerKey returns the key for a token received with flags f
func (c *clientState) peerKey(f tokenFlag) (types.EncryptionKey, error) {
	if f&tokenFlagAcceptorSubkey != 0 {
		if c.acceptorSubkey == nil {
			return types.EncryptionKey{}, errors.New("krb5: acceptor subkey not negotiated")
		}
		return *c.acceptorSubkey, nil
	}

	return c.sessionKey, nil
}

// checkSequence compares a received sequence number with the one expected
// for message seq.  Without replay or sequence detection the number is
// ignored.
func (c *clientState) checkSequence(got uint64, seq uint32) (sspi.Status, error) {
	if c.flags&(sspi.ContextFlagReplayDetect|sspi.ContextFlagSequenceDetect) == 0 {
		return sspi.StatusOK, nil
	}

	if want := c.theirISN + uint64(seq); got != want {
		return sspi.StatusOutOfSequence, fmt.Errorf("krb5: bad sequence number from peer, got %d, wanted %d", got, want)
	}

	return sspi.StatusOK, nil
}

// the Wrap token layout assumes an RFC 3962 or RFC 8009 enctype, which
// need no padding
func checkSealable(key types.EncryptionKey) (sspi.Status, error) {
	if keyPaddingLength(key.KeyType) != 0 || keyTrailerLength(key.KeyType) == 0 {
		return sspi.StatusUnsupportedFunction, fmt.Errorf("krb5: encryption type %d does not support message sealing", key.KeyType)
	}

	return sspi.StatusOK, nil
}

func (c *clientState) sign(bs sspi.BufferSet, seq uint32) (sspi.Status, error) {
	tok := bs.First(sspi.BufferToken)
	if tok == nil {
		return sspi.StatusInvalidToken, errNoTokenBuffer
	}

	key, flags := c.key()
	mt := micToken{
		Flags:          flags,
		SequenceNumber: c.ourISN + uint64(seq),
	}

	if err := mt.sign(bs.Data(), key); err != nil {
		return sspi.StatusInternalError, err
	}

	return writeToken(tok, mt.marshal())
}

func (c *clientState) verify(bs sspi.BufferSet, seq uint32) (sspi.Status, error) {
	tok := bs.First(sspi.BufferToken)
	if tok == nil {
		return sspi.StatusInvalidToken, errNoTokenBuffer
	}

	var mt micToken
	if err := mt.unmarshal(tok.Data); err != nil {
		return sspi.StatusInvalidToken, err
	}

	key, err := c.peerKey(mt.Flags)
	if err != nil {
		return sspi.StatusMessageAltered, err
	}

	if err := mt.verify(bs.Data(), key, true); err != nil {
		return sspi.StatusMessageAltered, err
	}

	return c.checkSequence(mt.SequenceNumber, seq)
}

// wrapMessage seals plain in a Wrap token rotated right by the size of the
// encrypted header and integrity trailer.  After rotation the ciphertext
// splits into the part that goes in the token and the part that replaces
// the data:
//
//	token: header | enc(header) | hmac | confounder
//	data:  enc(data)
func wrapMessage(key types.EncryptionKey, flags tokenFlag, seqNo uint64, plain []byte) (token, data []byte, err error) {
	wt := wrapToken{
		Flags:          flags,
		SequenceNumber: seqNo,
	}

	rrc := uint16(msgTokenHdrLen + keyTrailerLength(key.KeyType))
	if err = wt.seal(key, plain, rrc); err != nil {
		return
	}

	split := len(wt.Payload) - len(plain)
	token = append(wt.header(wt.EC, wt.RRC), wt.Payload[:split]...)

	return token, wt.Payload[split:], nil
}

// unwrapMessage reverses wrapMessage, returning the plaintext and the
// sequence number of the token
func unwrapMessage(token, data []byte, keyFor func(tokenFlag) (types.EncryptionKey, error), expectFromAcceptor bool) ([]byte, uint64, error) {
	var wt wrapToken
	if err := wt.unmarshal(token); err != nil {
		return nil, 0, err
	}

	key, err := keyFor(wt.Flags)
	if err != nil {
		return nil, 0, err
	}

	wt.Payload = append(append([]byte(nil), wt.Payload...), data...)

	plain, err := wt.unseal(key, expectFromAcceptor)
	if err != nil {
		return nil, 0, err
	}

	if len(plain) != len(data) {
		return nil, 0, fmt.Errorf("krb5: decrypted %d bytes, expected %d", len(plain), len(data))
	}

	return plain, wt.SequenceNumber, nil
}

func (c *clientState) seal(bs sspi.BufferSet, seq uint32) (sspi.Status, error) {
	tok := bs.First(sspi.BufferToken)
	if tok == nil {
		return sspi.StatusInvalidToken, errNoTokenBuffer
	}

	if len(bs.ReadOnlyData()) > 0 {
		return sspi.StatusUnsupportedFunction, errors.New("krb5: read-only data buffers cannot be sealed")
	}

	key, flags := c.key()
	if st, err := checkSealable(key); st != sspi.StatusOK {
		return st, err
	}

	mutable := bs.MutableData()

	token, data, err := wrapMessage(key, flags, c.ourISN+uint64(seq), concat(mutable))
	if err != nil {
		return sspi.StatusInternalError, err
	}

	if st, err := writeToken(tok, token); st != sspi.StatusOK {
		return st, err
	}

	off := 0
	for _, m := range mutable {
		off += copy(m.Data, data[off:off+len(m.Data)])
	}

	if pad := bs.First(sspi.BufferPadding); pad != nil && !pad.ReadOnly {
		pad.Data = pad.Data[:0]
	}

	return sspi.StatusOK, nil
}

func (c *clientState) unseal(bs sspi.BufferSet, seq uint32) (sspi.Status, error) {
	tok := bs.First(sspi.BufferToken)
	if tok == nil {
		return sspi.StatusInvalidToken, errNoTokenBuffer
	}

	if len(bs.ReadOnlyData()) > 0 {
		return sspi.StatusUnsupportedFunction, errors.New("krb5: read-only data buffers cannot be unsealed")
	}

	mutable := bs.MutableData()

	plain, seqNo, err := unwrapMessage(tok.Data, concat(mutable), c.peerKey, true)
	switch {
	case errors.Is(err, errMalformedToken):
		return sspi.StatusInvalidToken, err
	case err != nil:
		return sspi.StatusMessageAltered, err
	}

	if st, err := c.checkSequence(seqNo, seq); st != sspi.StatusOK {
		return st, err
	}

	off := 0
	for _, m := range mutable {
		off += copy(m.Data, plain[off:off+len(m.Data)])
	}

	return sspi.StatusOK, nil
}

func concat(segs []*sspi.SecurityBuffer) []byte {
	var b []byte
	for _, s := range segs {
		b = append(b, s.Data...)
	}

	return b
}
