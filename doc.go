// SPDX-License-Identifier: Apache-2.0

/*
Package sspi drives the client side of an SSPI style security context
negotiation and exposes message protection over the established context.

A [ClientContext] is created from a [Provider] and a [Credential] acquired from
that provider.  The caller then exchanges tokens with the peer by calling
[ClientContext.Continue] until [ClientContext.Done] reports true:

	prov := sspi.MustNewProvider("memory")
	ctx, err := sspi.NewClientContext(prov, cred,
		sspi.WithTarget("service/host"),
		sspi.WithFlags(sspi.ContextFlagMutualAuth|sspi.ContextFlagConfidentiality))
	if err != nil {
		return err
	}
	defer ctx.Release()

	var in []byte
	for !ctx.Done() {
		tok, err := ctx.Continue(in)
		if err != nil {
			return err
		}
		if tok.Len() > 0 {
			in, err = exchangeWithPeer(tok.Bytes())
			if err != nil {
				return err
			}
		}
	}

Once established, the context can sign, verify, encrypt and decrypt messages.
Message sequence numbers are supplied by the caller; the context does not track
them.  Protection operations either take a plain byte slice or a [BufferSet],
in which case the data segments are transformed in place and segments marked
read-only are integrity protected without being encrypted.

The native security package is reached through the [Provider] interface.
Providers register themselves by name with [RegisterProvider], usually from an
init function, and are instantiated with [NewProvider].  This module ships
providers for an in-process shared secret package (provider/memory), Kerberos
(provider/krb5), NTLM (provider/ntlm) and, on Windows, the native SSPI
(provider/winsspi, registered as "windows").  The http subpackage wraps a
provider in a Negotiate (RFC 4559) [net/http] transport.

A ClientContext is not safe for concurrent use.  Credentials may be shared by
any number of contexts.
*/
package sspi
