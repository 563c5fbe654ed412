// SPDX-License-Identifier: Apache-2.0

// Package winsspi passes the provider boundary through to the native Windows
// SSPI using github.com/alexbrainman/sspi.  On other platforms the package
// registers nothing and its constructors return ErrUnavailable.
//
// On Windows the package registers itself with the name "windows".
package winsspi

import "errors"

// Name is the name the provider registers with
const Name = "windows"

// Native security package names
const (
	PackageNegotiate = "Negotiate"
	PackageKerberos  = "Kerberos"
	PackageNTLM      = "NTLM"
)

// ErrUnavailable is returned when the native SSPI does not exist on this platform
var ErrUnavailable = errors.New("winsspi: the native SSPI is only available on Windows")

// Config selects the native package and the identity for NewCredential.
// An empty Username acquires the credentials of the logged on user.
type Config struct {
	Package  string // defaults to PackageNegotiate
	Username string
	Domain   string
	Password string
}

func (c Config) packageName() string {
	if c.Package == "" {
		return PackageNegotiate
	}

	return c.Package
}
