// SPDX-License-Identifier: Apache-2.0

package memory

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/jcmturner/gokrb5/v8/types"

	"github.com/golang-auth/go-sspi"
)

// Protection tokens start with a 16 byte header, laid out like the RFC 4121
// MIC and Wrap headers:
//
//	0..1   token ID
//	2      flags
//	3..7   filler, 0xFF
//	8..15  sequence number, big endian
const (
	headerLen          = 16
	flagSentByAcceptor = 0x01
)

var (
	tokIDSign = [2]byte{0x04, 0x04}
	tokIDSeal = [2]byte{0x05, 0x04}
)

var errNoTokenBuffer = errors.New("memory: no token buffer")

// protector implements message protection with the session key of an
// established context.  Both peers hold the same key;  the sender flag in
// the header stops a message being reflected back to its sender.
type protector struct {
	key      types.EncryptionKey
	acceptor bool
}

func (p *protector) checksumLen() int {
	return getEtype().GetHMACBitLength() / 8
}

func (p *protector) header(id [2]byte, seq uint32) []byte {
	h := make([]byte, headerLen)
	copy(h, id[:])
	if p.acceptor {
		h[2] = flagSentByAcceptor
	}
	for i := 3; i < 8; i++ {
		h[i] = 0xFF
	}
	binary.BigEndian.PutUint64(h[8:], uint64(seq))

	return h
}

// checkHeader validates a header received from the peer
func (p *protector) checkHeader(h []byte, id [2]byte, seq uint32) (sspi.Status, error) {
	if len(h) < headerLen {
		return sspi.StatusInvalidToken, fmt.Errorf("memory: token too short (%d bytes)", len(h))
	}
	if h[0] != id[0] || h[1] != id[1] {
		return sspi.StatusInvalidToken, fmt.Errorf("memory: unexpected token ID %x", h[:2])
	}

	wantSender := byte(flagSentByAcceptor)
	if p.acceptor {
		wantSender = 0
	}
	if h[2]&flagSentByAcceptor != wantSender {
		return sspi.StatusMessageAltered, errors.New("memory: message was not sent by the peer")
	}

	if got := binary.BigEndian.Uint64(h[8:]); got != uint64(seq) {
		return sspi.StatusOutOfSequence, fmt.Errorf("memory: sequence number %d, expected %d", got, seq)
	}

	return sspi.StatusOK, nil
}

func writeToken(tok *sspi.SecurityBuffer, b []byte) (sspi.Status, error) {
	if cap(tok.Data) < len(b) {
		return sspi.StatusBufferTooSmall, fmt.Errorf("memory: need %d bytes for the token, have %d", len(b), cap(tok.Data))
	}

	tok.Data = append(tok.Data[:0], b...)
	return sspi.StatusOK, nil
}

func concat(segs []*sspi.SecurityBuffer) []byte {
	var b []byte
	for _, s := range segs {
		b = append(b, s.Data...)
	}

	return b
}

func (p *protector) sign(bs sspi.BufferSet, seq uint32) (sspi.Status, error) {
	tok := bs.First(sspi.BufferToken)
	if tok == nil {
		return sspi.StatusInvalidToken, errNoTokenBuffer
	}

	hdr := p.header(tokIDSign, seq)
	cksum, err := getEtype().GetChecksumHash(p.key.KeyValue, append(bs.Data(), hdr...), usageSign)
	if err != nil {
		return sspi.StatusInternalError, fmt.Errorf("memory: computing checksum: %w", err)
	}

	return writeToken(tok, append(hdr, cksum...))
}

func (p *protector) verify(bs sspi.BufferSet, seq uint32) (sspi.Status, error) {
	tok := bs.First(sspi.BufferToken)
	if tok == nil {
		return sspi.StatusInvalidToken, errNoTokenBuffer
	}

	if st, err := p.checkHeader(tok.Data, tokIDSign, seq); st != sspi.StatusOK {
		return st, err
	}

	if !getEtype().VerifyChecksum(p.key.KeyValue, append(bs.Data(), tok.Data[:headerLen]...), tok.Data[headerLen:], usageSign) {
		return sspi.StatusMessageAltered, nil
	}

	return sspi.StatusOK, nil
}

// seal encrypts the writable data segments together with the header and a
// checksum over the read-only segments.  The ciphertext keeps the length of
// the plaintext data;  the remainder goes into the token after a clear copy
// of the header.
func (p *protector) seal(bs sspi.BufferSet, seq uint32) (sspi.Status, error) {
	tok := bs.First(sspi.BufferToken)
	if tok == nil {
		return sspi.StatusInvalidToken, errNoTokenBuffer
	}

	et := getEtype()
	hdr := p.header(tokIDSeal, seq)

	roSum, err := et.GetChecksumHash(p.key.KeyValue, append(concat(bs.ReadOnlyData()), hdr...), usageSeal)
	if err != nil {
		return sspi.StatusInternalError, fmt.Errorf("memory: computing checksum: %w", err)
	}

	mutable := bs.MutableData()
	plain := concat(mutable)
	n := len(plain)
	plain = append(plain, hdr...)
	plain = append(plain, roSum...)

	_, ct, err := et.EncryptMessage(p.key.KeyValue, plain, usageSeal)
	if err != nil {
		return sspi.StatusInternalError, fmt.Errorf("memory: encrypting: %w", err)
	}

	if st, err := writeToken(tok, append(hdr, ct[n:]...)); st != sspi.StatusOK {
		return st, err
	}

	off := 0
	for _, m := range mutable {
		off += copy(m.Data, ct[off:off+len(m.Data)])
	}

	if pad := bs.First(sspi.BufferPadding); pad != nil && !pad.ReadOnly {
		pad.Data = pad.Data[:0]
	}

	return sspi.StatusOK, nil
}

func (p *protector) unseal(bs sspi.BufferSet, seq uint32) (sspi.Status, error) {
	tok := bs.First(sspi.BufferToken)
	if tok == nil {
		return sspi.StatusInvalidToken, errNoTokenBuffer
	}

	if st, err := p.checkHeader(tok.Data, tokIDSeal, seq); st != sspi.StatusOK {
		return st, err
	}
	hdr := tok.Data[:headerLen]

	mutable := bs.MutableData()
	ct := concat(mutable)
	n := len(ct)
	ct = append(ct, tok.Data[headerLen:]...)

	et := getEtype()
	plain, err := et.DecryptMessage(p.key.KeyValue, ct, usageSeal)
	if err != nil {
		return sspi.StatusMessageAltered, fmt.Errorf("memory: decrypting: %w", err)
	}

	if len(plain) != n+headerLen+p.checksumLen() {
		return sspi.StatusMessageAltered, fmt.Errorf("memory: decrypted %d bytes, expected %d", len(plain), n+headerLen+p.checksumLen())
	}
	if !bytes.Equal(plain[n:n+headerLen], hdr) {
		return sspi.StatusMessageAltered, errors.New("memory: header mismatch")
	}
	if !et.VerifyChecksum(p.key.KeyValue, append(concat(bs.ReadOnlyData()), hdr...), plain[n+headerLen:], usageSeal) {
		return sspi.StatusMessageAltered, nil
	}

	off := 0
	for _, m := range mutable {
		off += copy(m.Data, plain[off:off+len(m.Data)])
	}

	return sspi.StatusOK, nil
}
