// SPDX-License-Identifier: Apache-2.0

package sspi

// SessionKey returns the session key negotiated by the handshake.
func (c *ClientContext) SessionKey() ([]byte, error) {
	h, err := c.handle()
	if err != nil {
		return nil, err
	}

	key, err := c.provider.QuerySessionKey(h)
	if err != nil {
		return nil, providerError("QueryContextAttributes(SessionKey)", StatusInternalError, err)
	}

	return key, nil
}

// Sizes returns the buffer sizes needed for message protection.
func (c *ClientContext) Sizes() (*Sizes, error) {
	h, err := c.handle()
	if err != nil {
		return nil, err
	}

	sizes, err := c.provider.QuerySizes(h)
	if err != nil {
		return nil, providerError("QueryContextAttributes(Sizes)", StatusInternalError, err)
	}

	return sizes, nil
}

// MaxSignatureSize returns the largest signature MakeSignature can produce.
func (c *ClientContext) MaxSignatureSize() (int, error) {
	sizes, err := c.Sizes()
	if err != nil {
		return 0, err
	}

	return sizes.MaxSignature, nil
}

// SecurityTrailerSize returns the signature size of an encrypted message.
func (c *ClientContext) SecurityTrailerSize() (int, error) {
	sizes, err := c.Sizes()
	if err != nil {
		return 0, err
	}

	return sizes.SecurityTrailer, nil
}

// LastTokenStatus reports whether the most recent token is the last one the
// client sends.
func (c *ClientContext) LastTokenStatus() (TokenStatus, error) {
	h, err := c.handle()
	if err != nil {
		return LastTokenMaybe, err
	}

	s, err := c.provider.QueryLastTokenStatus(h)
	if err != nil {
		return LastTokenMaybe, providerError("QueryContextAttributes(LastClientTokenStatus)", StatusInternalError, err)
	}

	return s, nil
}

// PackageName returns the name of the security package in use.  Before the
// first round this is the name of the provider;  afterwards it is the package
// the provider negotiated, which may differ for negotiating packages.
func (c *ClientContext) PackageName() (string, error) {
	if c.state == StateReleased {
		return "", ErrContextReleased
	}
	if c.res.handle == 0 {
		return c.provider.Name(), nil
	}

	info, err := c.AuthenticationPackage()
	if err != nil {
		return "", err
	}

	return info.Name, nil
}

// AuthenticationPackage describes the security package negotiated for the
// context.
func (c *ClientContext) AuthenticationPackage() (*PackageInfo, error) {
	h, err := c.handle()
	if err != nil {
		return nil, err
	}

	info, err := c.provider.QueryPackageInfo(h)
	if err != nil {
		return nil, providerError("QueryContextAttributes(PackageInfo)", StatusInternalError, err)
	}

	return info, nil
}
