// SPDX-License-Identifier: Apache-2.0

package memory

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"fmt"

	"github.com/jcmturner/gokrb5/v8/crypto"
	"github.com/jcmturner/gokrb5/v8/crypto/etype"
	"github.com/jcmturner/gokrb5/v8/iana/etypeID"
	"github.com/jcmturner/gokrb5/v8/types"
)

// Key usage numbers, from the range RFC 4120 leaves for applications
const (
	usageChallenge    uint32 = 1024
	usageAuthenticate uint32 = 1025
	usageSign         uint32 = 1026
	usageSeal         uint32 = 1027
)

const nonceSize = 16

func getEtype() etype.EType {
	et, err := crypto.GetEtype(etypeID.AES256_CTS_HMAC_SHA1_96)
	if err != nil {
		panic(err)
	}

	return et
}

func newNonce() ([]byte, error) {
	n := make([]byte, nonceSize)
	if _, err := rand.Read(n); err != nil {
		return nil, fmt.Errorf("memory: generating nonce: %w", err)
	}

	return n, nil
}

func bindingsDigest(cb []byte) []byte {
	if len(cb) == 0 {
		return []byte{}
	}

	sum := sha256.Sum256(cb)
	return sum[:]
}

func challengeInput(cNonce, sNonce []byte, flags, lifetime int) []byte {
	b := append([]byte("challenge"), cNonce...)
	b = append(b, sNonce...)
	b = binary.BigEndian.AppendUint32(b, uint32(flags))
	return binary.BigEndian.AppendUint32(b, uint32(lifetime))
}

func challengeProof(ltk types.EncryptionKey, cNonce, sNonce []byte, flags, lifetime int) ([]byte, error) {
	return getEtype().GetChecksumHash(ltk.KeyValue, challengeInput(cNonce, sNonce, flags, lifetime), usageChallenge)
}

func verifyChallengeProof(ltk types.EncryptionKey, cNonce, sNonce []byte, flags, lifetime int, proof []byte) bool {
	return getEtype().VerifyChecksum(ltk.KeyValue, challengeInput(cNonce, sNonce, flags, lifetime), proof, usageChallenge)
}

func deriveSessionKey(ltk types.EncryptionKey, cNonce, sNonce []byte) (types.EncryptionKey, error) {
	constant := append([]byte("session"), cNonce...)
	constant = append(constant, sNonce...)

	kv, err := getEtype().DeriveKey(ltk.KeyValue, constant)
	if err != nil {
		return types.EncryptionKey{}, fmt.Errorf("memory: deriving session key: %w", err)
	}

	return types.EncryptionKey{KeyType: ltk.KeyType, KeyValue: kv}, nil
}

func authenticateInput(cNonce, sNonce, bindings []byte) []byte {
	b := append([]byte("authenticate"), cNonce...)
	b = append(b, sNonce...)
	return append(b, bindings...)
}

func authenticateProof(sk types.EncryptionKey, cNonce, sNonce, bindings []byte) ([]byte, error) {
	return getEtype().GetChecksumHash(sk.KeyValue, authenticateInput(cNonce, sNonce, bindings), usageAuthenticate)
}

func verifyAuthenticateProof(sk types.EncryptionKey, cNonce, sNonce, bindings, proof []byte) bool {
	return getEtype().VerifyChecksum(sk.KeyValue, authenticateInput(cNonce, sNonce, bindings), proof, usageAuthenticate)
}
