// SPDX-License-Identifier: Apache-2.0

package memory

import (
	"fmt"

	"github.com/jcmturner/gokrb5/v8/crypto"
	"github.com/jcmturner/gokrb5/v8/iana/etypeID"
	"github.com/jcmturner/gokrb5/v8/types"
)

// Credential is a shared secret credential.  The long term key is derived
// from the secret with the AES256-CTS-HMAC-SHA1-96 string-to-key function,
// salted with the principal name.
type Credential struct {
	principal string
	key       types.EncryptionKey
}

// NewCredential derives a credential for principal from secret.
func NewCredential(principal, secret string) (*Credential, error) {
	if principal == "" {
		return nil, fmt.Errorf("memory: empty principal name")
	}

	et, err := crypto.GetEtype(etypeID.AES256_CTS_HMAC_SHA1_96)
	if err != nil {
		return nil, fmt.Errorf("memory: %w", err)
	}

	kv, err := et.StringToKey(secret, principal, et.GetDefaultStringToKeyParams())
	if err != nil {
		return nil, fmt.Errorf("memory: deriving key for %s: %w", principal, err)
	}

	return &Credential{
		principal: principal,
		key: types.EncryptionKey{
			KeyType:  etypeID.AES256_CTS_HMAC_SHA1_96,
			KeyValue: kv,
		},
	}, nil
}

func (c *Credential) Package() string {
	return Name
}

func (c *Credential) Principal() string {
	return c.principal
}
