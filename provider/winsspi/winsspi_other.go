// SPDX-License-Identifier: Apache-2.0

//go:build !windows

package winsspi

// Provider is not available on this platform
type Provider struct{}

// Credential is not available on this platform
type Credential struct{}

// New returns ErrUnavailable
func New() (*Provider, error) {
	return nil, ErrUnavailable
}

// NewCredential returns ErrUnavailable
func NewCredential(Config) (*Credential, error) {
	return nil, ErrUnavailable
}

func (*Credential) Package() string {
	return ""
}

func (*Credential) Principal() string {
	return ""
}

// Release does nothing on this platform
func (*Credential) Release() error {
	return nil
}
