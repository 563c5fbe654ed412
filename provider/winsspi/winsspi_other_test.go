// SPDX-License-Identifier: Apache-2.0

//go:build !windows

package winsspi

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/golang-auth/go-sspi"
)

func TestUnavailable(t *testing.T) {
	t.Parallel()

	_, err := New()
	assert.ErrorIs(t, err, ErrUnavailable)

	_, err = NewCredential(Config{})
	assert.ErrorIs(t, err, ErrUnavailable)

	_, err = sspi.NewProvider(Name)
	assert.ErrorIs(t, err, sspi.ErrProviderNotFound)

	assert.Equal(t, PackageNegotiate, Config{}.packageName())
	assert.Equal(t, PackageNTLM, Config{Package: PackageNTLM}.packageName())
}
