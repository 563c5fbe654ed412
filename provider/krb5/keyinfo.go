// SPDX-License-Identifier: Apache-2.0

package krb5

import (
	"github.com/jcmturner/gokrb5/v8/crypto"
)

// port from MIT Kerberos 1.16 (krb5_c_encrypt_length)
func encryptedLength(keyType int32, plainTextSize uint32) uint32 {
	paddingLen := paddingLength(keyType, plainTextSize)
	return uint32(keyHeaderLength(keyType)) +
		plainTextSize +
		paddingLen +
		uint32(keyTrailerLength(keyType))
}

// port from MIT Kerberos 1.16 (krb5int_c_padding_length)
func paddingLength(keyType int32, dataLength uint32) uint32 {
	dataLength += uint32(keyHeaderLength(keyType))
	padding := uint32(keyPaddingLength(keyType))

	if padding == 0 || (dataLength%padding) == 0 {
		return 0
	}

	return padding - (dataLength % padding)
}

func keyHeaderLength(keyType int32) uint {
	key, err := crypto.GetEtype(keyType)
	if err != nil {
		return 0
	}

	switch key.(type) {
	case crypto.RC4HMAC:
		return uint(key.GetHMACBitLength()/8 + key.GetConfounderByteSize())
	case crypto.Des3CbcSha1Kd,
		crypto.Aes128CtsHmacSha96,
		crypto.Aes128CtsHmacSha256128,
		crypto.Aes256CtsHmacSha96,
		crypto.Aes256CtsHmacSha384192:
		return uint(key.GetCypherBlockBitLength()) / 8
	}

	return 0
}

func keyPaddingLength(keyType int32) uint {
	key, err := crypto.GetEtype(keyType)
	if err != nil {
		return 0
	}

	if _, ok := key.(crypto.Des3CbcSha1Kd); ok {
		return uint(key.GetCypherBlockBitLength()) / 8
	}

	return 0
}

func keyTrailerLength(keyType int32) uint {
	key, err := crypto.GetEtype(keyType)
	if err != nil {
		return 0
	}

	switch key.(type) {
	case crypto.Des3CbcSha1Kd,
		crypto.Aes128CtsHmacSha96,
		crypto.Aes128CtsHmacSha256128,
		crypto.Aes256CtsHmacSha96,
		crypto.Aes256CtsHmacSha384192:
		return uint(key.GetHMACBitLength()) / 8
	}

	return 0
}

// checksumLength is the size of a MIC checksum for keyType
func checksumLength(keyType int32) int {
	key, err := crypto.GetEtype(keyType)
	if err != nil {
		return 0
	}

	return key.GetHMACBitLength() / 8
}

// sealTrailerLength is the part of a wrap token that does not overlay the
// caller's data: the token header, the confounder, the encrypted copy of
// the header and the integrity trailer
func sealTrailerLength(keyType int32) int {
	return msgTokenHdrLen + int(encryptedLength(keyType, msgTokenHdrLen))
}
