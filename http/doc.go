// SPDX-License-Identifier: Apache-2.0

/*
Package http provides a Negotiate (RFC 4559) enabled HTTP client transport
driven by any registered security provider.

	import (
		"net/http"

		"github.com/golang-auth/go-sspi"
		nhttp "github.com/golang-auth/go-sspi/http"
		"github.com/golang-auth/go-sspi/provider/krb5"
	)

	p, err := sspi.NewProvider(krb5.Name)
	...
	cred, err := krb5.NewCredential(krb5.Config{})
	...

# Clients and transports

Create a client to use a default Negotiate enabled transport. The client can be
used anywhere a standard [http.Client] can be used.

	client := nhttp.NewClient(p, cred, nil)

	resp, err := client.Get("https://example.com")
	...

To control the authentication parameters, create a transport:

	transport := nhttp.NewTransport(p, cred,
		nhttp.WithOpportunistic(),
		nhttp.WithMutual(),
	)
	client := http.Client{Transport: transport}
	resp, err := client.Get("https://example.com")

The transport wraps a standard [http.RoundTripper]. By default it uses
[http.DefaultTransport]. A custom round-tripper can be provided to the
transport using [WithRoundTripper].

Each request gets its own security context, targeted at the service principal
returned by the SPN function ("HTTP@" followed by the host name unless
[WithSpnFunc] is used). The context is released when the request completes.

A 401 response carrying a bare Negotiate challenge after the client has sent a
token means the server refused the client. That response is returned to the
caller unchanged. Errors are only returned when the exchange itself fails or
the established context lacks a flag the transport insists on.

# Request body handling

For HTTP methods such as POST, PUT, and others that include a request body, the
client must send the full body to the server regardless of the server's
response code.

The http.Request.GetBody method enables supported request body types to be
rewound and resent if the server responds with a 401 Unauthorized challenge.

One way to avoid sending large bodies multiple times is to use the Expect:
100-continue header.

  - The client sends headers first.
  - If the server responds with 100 Continue, the client sends the body.
  - If the server responds with 401 Unauthorized (or any final status) before
    sending 100 Continue, the client does not send the body.

Support for Expect: 100-continue is disabled by default due to implementation
concerns with some servers. It can be enabled by setting a threshold (in
bytes) greater than zero with [WithExpect100Threshold]. When enabled, the
client adds the header to requests that do not use opportunistic
authentication and either have a body larger than the threshold or a body that
is not rewindable via GetBody.

# Opportunistic authentication

The transport supports opportunistic authentication as described in
RFC 4559 § 4.2. The client does not wait for the server to respond with a 401
status code before sending an authentication token. This can reduce round
trips between the client and server, at the cost of initializing the security
context and potentially exposing authentication credentials to the server
unnecessarily.

# Channel bindings

[WithChannelBindingDisposition] adds RFC 5929 tls-server-end-point bindings
taken from the TLS connection to the security context. Required bindings
need the server certificate, so opportunistic authentication is skipped for
those requests and plain HTTP requests fail with
[ErrChannelBindingUnavailable].

# Observability

[WithLogFunc] with [WithHttpLogging] dumps requests and responses along with
connection events from [net/http/httptrace]. [WithLogger] passes a structured
logger to each security context. [WithMetrics] records handshake outcomes in
Prometheus collectors created with [NewMetrics].
*/
package http
