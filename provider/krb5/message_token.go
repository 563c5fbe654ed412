// SPDX-License-Identifier: Apache-2.0

package krb5

/*
 * Derived from github.com/jcmturner/gokrb5/gssapi/wrapToken.go
 *
 * The modified version adds sealing, and the right rotation used by SSPI
 * to keep the ciphertext in the caller's data buffers.
 */

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/jcmturner/gokrb5/v8/crypto"
	"github.com/jcmturner/gokrb5/v8/iana/keyusage"
	"github.com/jcmturner/gokrb5/v8/types"
)

// RFC 4121 §  4.2.6
const (
	msgTokenHdrLen          = 16
	msgTokenFillerByte byte = 0xFF
)

var (
	errMalformedToken = errors.New("krb5: malformed message token")
	errBadChecksum    = errors.New("krb5: message token checksum mismatch")
	errWrongDirection = errors.New("krb5: message token sent in the wrong direction")
	errHeaderModified = errors.New("krb5: wrap token header was modified")
)

// RFC 4121 §  4.2.2
type tokenFlag uint8

const (
	tokenFlagSentByAcceptor tokenFlag = 1 << iota
	tokenFlagSealed
	tokenFlagAcceptorSubkey
)

// RFC 4121 §  4.2.6.1
type micToken struct {
	// 2 byte token ID (0x04, 0x04)
	Flags tokenFlag
	// 5 byte filler (0xFF)
	SequenceNumber uint64
	Checksum       []byte
}

// RFC 4121 §  4.2.6.2
type wrapToken struct {
	// 2 byte token ID (0x05, 0x04)
	Flags tokenFlag
	// 1 byte filler (0xFF)
	EC             uint16 // extra count
	RRC            uint16 // right rotation count
	SequenceNumber uint64
	Payload        []byte // ciphertext, rotated by RRC
}

var (
	wrapTokenID = [2]byte{0x05, 0x04}
	micTokenID  = [2]byte{0x04, 0x04}
)

func sealUsage(f tokenFlag) uint32 {
	if f&tokenFlagSentByAcceptor != 0 {
		return uint32(keyusage.GSSAPI_ACCEPTOR_SEAL)
	}
	return uint32(keyusage.GSSAPI_INITIATOR_SEAL)
}

func signUsage(f tokenFlag) uint32 {
	if f&tokenFlagSentByAcceptor != 0 {
		return uint32(keyusage.GSSAPI_ACCEPTOR_SIGN)
	}
	return uint32(keyusage.GSSAPI_INITIATOR_SIGN)
}

// checkDirection fails if a token was not sent by the peer
func checkDirection(f tokenFlag, expectFromAcceptor bool) error {
	if (f&tokenFlagSentByAcceptor != 0) != expectFromAcceptor {
		return errWrongDirection
	}
	return nil
}

// header returns the wrap token header with EC and RRC as given
func (wt *wrapToken) header(ec, rrc uint16) []byte {
	hdr := make([]byte, msgTokenHdrLen)

	copy(hdr, wrapTokenID[:])
	hdr[2] = byte(wt.Flags)
	hdr[3] = msgTokenFillerByte
	binary.BigEndian.PutUint16(hdr[4:6], ec)
	binary.BigEndian.PutUint16(hdr[6:8], rrc)
	binary.BigEndian.PutUint64(hdr[8:], wt.SequenceNumber)

	return hdr
}

// seal encrypts plaintext { data | header } (RFC 4121 §  4.2.4) and rotates
// the ciphertext right by rrc.  EC is always zero as the enctypes we support
// need no padding.
func (wt *wrapToken) seal(key types.EncryptionKey, plaintext []byte, rrc uint16) error {
	wt.Flags |= tokenFlagSealed
	wt.EC = 0

	toEncrypt := make([]byte, 0, len(plaintext)+msgTokenHdrLen)
	toEncrypt = append(toEncrypt, plaintext...)
	toEncrypt = append(toEncrypt, wt.header(0, 0)...)

	encType, err := crypto.GetEtype(key.KeyType)
	if err != nil {
		return fmt.Errorf("krb5: %w", err)
	}

	_, encData, err := encType.EncryptMessage(key.KeyValue, toEncrypt, sealUsage(wt.Flags))
	if err != nil {
		return fmt.Errorf("krb5: sealing message: %w", err)
	}

	wt.RRC = rrc
	wt.Payload = rotateRight(encData, uint(rrc))

	return nil
}

// marshal a sealed token
func (wt *wrapToken) marshal() []byte {
	token := make([]byte, 0, msgTokenHdrLen+len(wt.Payload))
	token = append(token, wt.header(wt.EC, wt.RRC)...)
	return append(token, wt.Payload...)
}

// unmarshal a wrap token
func (wt *wrapToken) unmarshal(token []byte) error {
	*wt = wrapToken{}

	if len(token) < msgTokenHdrLen {
		return fmt.Errorf("%w: wrap token is too short", errMalformedToken)
	}

	// RFC 4121 §  4.4: 0x60 introduces the GSS-API v1 framing which is not
	// used for per-message tokens
	if token[0] == 0x60 {
		return fmt.Errorf("%w: GSS-API v1 message tokens are not supported", errMalformedToken)
	}
	if !bytes.Equal(wrapTokenID[:], token[0:2]) {
		return fmt.Errorf("%w: bad wrap token ID", errMalformedToken)
	}
	if token[3] != msgTokenFillerByte {
		return fmt.Errorf("%w: bad wrap token filler", errMalformedToken)
	}

	wt.Flags = tokenFlag(token[2])
	wt.EC = binary.BigEndian.Uint16(token[4:6])
	wt.RRC = binary.BigEndian.Uint16(token[6:8])
	wt.SequenceNumber = binary.BigEndian.Uint64(token[8:16])

	if len(token) > msgTokenHdrLen {
		wt.Payload = token[16:]
	}

	return nil
}

// unseal undoes the rotation, decrypts the payload and checks the encrypted
// copy of the header.  It returns the plaintext.
func (wt *wrapToken) unseal(key types.EncryptionKey, expectFromAcceptor bool) ([]byte, error) {
	if err := checkDirection(wt.Flags, expectFromAcceptor); err != nil {
		return nil, err
	}
	if wt.Flags&tokenFlagSealed == 0 {
		return nil, fmt.Errorf("%w: wrap token is not sealed", errMalformedToken)
	}
	if len(wt.Payload) == 0 {
		return nil, fmt.Errorf("%w: empty wrap token payload", errMalformedToken)
	}

	encType, err := crypto.GetEtype(key.KeyType)
	if err != nil {
		return nil, fmt.Errorf("krb5: %w", err)
	}

	ct := rotateLeft(append([]byte(nil), wt.Payload...), uint(wt.RRC))

	decrypted, err := encType.DecryptMessage(key.KeyValue, ct, sealUsage(wt.Flags))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errBadChecksum, err)
	}

	if len(decrypted) < int(wt.EC)+msgTokenHdrLen {
		return nil, fmt.Errorf("%w: decrypted wrap token payload is too short", errMalformedToken)
	}

	// the encrypted header carries RRC zero
	hdr := decrypted[len(decrypted)-msgTokenHdrLen:]
	if !bytes.Equal(hdr, wt.header(wt.EC, 0)) {
		return nil, errHeaderModified
	}

	return decrypted[:len(decrypted)-msgTokenHdrLen-int(wt.EC)], nil
}

// Ported from MIT source code (gss_krb5int_rotate_left)
func rotateLeft(buf []byte, rc uint) []byte {
	if len(buf) == 0 || rc == 0 {
		return buf
	}

	rc %= uint(len(buf))
	if rc == 0 {
		return buf
	}

	tmpBuf := make([]byte, rc)
	copy(tmpBuf, buf[0:rc])
	copy(buf, buf[rc:])
	copy(buf[uint(len(buf))-rc:], tmpBuf)

	return buf
}

func rotateRight(buf []byte, rc uint) []byte {
	if len(buf) == 0 {
		return buf
	}

	return rotateLeft(buf, uint(len(buf))-rc%uint(len(buf)))
}

// RFC 4121 §  4.2.4
// The checksum is calculated over the payload and the token header
func (mt *micToken) sign(payload []byte, key types.EncryptionKey) error {
	cksumData := make([]byte, 0, msgTokenHdrLen+len(payload))
	cksumData = append(cksumData, payload...)
	cksumData = append(cksumData, mt.header()...)

	encType, err := crypto.GetEtype(key.KeyType)
	if err != nil {
		return fmt.Errorf("krb5: %w", err)
	}

	mt.Checksum, err = encType.GetChecksumHash(key.KeyValue, cksumData, signUsage(mt.Flags))
	if err != nil {
		return fmt.Errorf("krb5: computing MIC: %w", err)
	}

	return nil
}

func (mt *micToken) header() []byte {
	hdr := make([]byte, msgTokenHdrLen)

	copy(hdr, micTokenID[:])
	hdr[2] = byte(mt.Flags)
	copy(hdr[3:8], []byte{0xFF, 0xFF, 0xFF, 0xFF, 0xFF})
	binary.BigEndian.PutUint64(hdr[8:], mt.SequenceNumber)

	return hdr
}

func (mt *micToken) marshal() []byte {
	return append(mt.header(), mt.Checksum...)
}

func (mt *micToken) unmarshal(token []byte) error {
	*mt = micToken{}

	if len(token) < msgTokenHdrLen {
		return fmt.Errorf("%w: MIC token is too short", errMalformedToken)
	}
	if token[0] == 0x60 {
		return fmt.Errorf("%w: GSS-API v1 message tokens are not supported", errMalformedToken)
	}
	if !bytes.Equal(micTokenID[:], token[0:2]) {
		return fmt.Errorf("%w: bad MIC token ID", errMalformedToken)
	}
	if !bytes.Equal(token[3:8], []byte{0xFF, 0xFF, 0xFF, 0xFF, 0xFF}) {
		return fmt.Errorf("%w: bad MIC token filler", errMalformedToken)
	}

	mt.Flags = tokenFlag(token[2])
	mt.SequenceNumber = binary.BigEndian.Uint64(token[8:16])

	if len(token) > msgTokenHdrLen {
		mt.Checksum = token[16:]
	}

	return nil
}

func (mt *micToken) verify(payload []byte, key types.EncryptionKey, expectFromAcceptor bool) error {
	if err := checkDirection(mt.Flags, expectFromAcceptor); err != nil {
		return err
	}

	mt2 := *mt
	if err := mt2.sign(payload, key); err != nil {
		return err
	}

	if !bytes.Equal(mt.Checksum, mt2.Checksum) {
		return errBadChecksum
	}

	return nil
}
