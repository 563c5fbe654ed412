// SPDX-License-Identifier: Apache-2.0

package http

import (
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/golang-auth/go-sspi"
)

// maxRounds bounds the number of requests sent for one handshake
const maxRounds = 8

// SpnFunc is a function that returns the Service Principal Name (SPN) for a given URL.
type SpnFunc func(url url.URL) string

func defaultSpnFunc(url url.URL) string {
	return "HTTP@" + url.Hostname()
}

// DefaultSpnFunc is the default SPN function used for new clients.
var DefaultSpnFunc SpnFunc = defaultSpnFunc

// OpportunisticFunc is a function that returns true if opportunistic authentication should be used for a given URL.
type OpportunisticFunc func(url url.URL) bool

func opportunisticsFuncAlways(url url.URL) bool {
	return true
}

// DelegationPolicy is the policy for delegation of credentials to the server.
type DelegationPolicy int

const (
	// DelegationPolicyNever means that credentials will not be delegated to the server.
	DelegationPolicyNever DelegationPolicy = iota
	// DelegationPolicyAlways means that credentials must be delegated to the server.
	DelegationPolicyAlways
	// DelegationPolicyIfAllowed requests delegation but accepts a context
	// without it, eg. when the Kerberos OK-as-delegate policy forbids it.
	DelegationPolicyIfAllowed
)

// DefaultDelegationPolicy is the default delegation policy used for new clients.
var DefaultDelegationPolicy DelegationPolicy = DelegationPolicyNever

var (
	ErrNotEstablished      = errors.New("negotiate: context not fully established")
	ErrMutualNotAvailable  = errors.New("negotiate: mutual authentication requested but not available")
	ErrDelegationRefused   = errors.New("negotiate: delegation requested but not available")
	ErrTooManyRounds       = errors.New("negotiate: too many authentication rounds")
	ErrMultipleChallenges  = errors.New("negotiate: multiple Negotiate challenges found in response")
	ErrChallengeParameters = errors.New("negotiate: Negotiate challenge must not have parameters")
)

// NegotiateTransport is a http.RoundTripper implementation that includes
// HTTP Negotiate (RFC 4559) authentication using a security provider.
type NegotiateTransport struct {
	transport http.RoundTripper

	provider                  sspi.Provider
	credential                sspi.Credential
	spnFunc                   SpnFunc
	opportunisticFunc         OpportunisticFunc
	delegationPolicy          DelegationPolicy
	channelBindingDisposition ChannelBindingDisposition
	mutual                    bool
	expect100Threshold        int64
	metrics                   *Metrics

	logger      *slog.Logger
	httpLogging bool
	logFunc     func(format string, args ...interface{})
}

// ClientOption is a function that configures a Client
type ClientOption func(c *NegotiateTransport)

// WithOpportunistic configures the client to opportunisticly authenticate
//
// Opportunistic authentication means that the client does not wait for the server to
// respond with a 401 status code before sending an authentication token.  This
// is a performance optimization that can be used to reduce the number of round trips
// between the client and server, at the cost of initializing the security context and
// potentially exposing authentication credentials to the server unnecessarily.
func WithOpportunistic() ClientOption {
	return func(c *NegotiateTransport) {
		c.opportunisticFunc = opportunisticsFuncAlways
	}
}

// WithOpportunisticFunc configures the client to use a custom function to determine
// if opportunistic authentication should be used for a given URL.
func WithOpportunisticFunc(opportunisticFunc OpportunisticFunc) ClientOption {
	return func(c *NegotiateTransport) {
		c.opportunisticFunc = opportunisticFunc
	}
}

// WithMutual configures the client to request mutual authentication
//
// Mutual authentication means that the client and server both authenticate each other.
// The request fails if the established context does not carry the mutual
// authentication flag.
func WithMutual() ClientOption {
	return func(c *NegotiateTransport) {
		c.mutual = true
	}
}

// WithSpnFunc provides a custom function to provide the Service Principal Name (SPN) for a given URL.
//
// The default uses "HTTP@" + the host name of the URL.
func WithSpnFunc(spnFunc SpnFunc) ClientOption {
	return func(c *NegotiateTransport) {
		c.spnFunc = spnFunc
	}
}

// WithDelegationPolicy configures the client to use a custom credential delegation policy.
func WithDelegationPolicy(delegationPolicy DelegationPolicy) ClientOption {
	return func(c *NegotiateTransport) {
		c.delegationPolicy = delegationPolicy
	}
}

// WithChannelBindingDisposition configures how TLS channel bindings are
// added to the security context.
func WithChannelBindingDisposition(disposition ChannelBindingDisposition) ClientOption {
	return func(c *NegotiateTransport) {
		c.channelBindingDisposition = disposition
	}
}

// WithExpect100Threshold configures the client to use the Expect: Continue header
// if the request body is larger than the threshold.
//
// Use of the Expect: Continue header is disabled by default due to concerns about the
// correct implementation by some servers.
func WithExpect100Threshold(threshold int64) ClientOption {
	return func(c *NegotiateTransport) {
		c.expect100Threshold = threshold
	}
}

// WithRoundTripper configures the client to use a custom round tripper
func WithRoundTripper(transport http.RoundTripper) ClientOption {
	return func(c *NegotiateTransport) {
		c.transport = transport
	}
}

// WithHttpLogging configures the client to log the HTTP requests and responses
// Does nothing without a log function
func WithHttpLogging() ClientOption {
	return func(c *NegotiateTransport) {
		c.httpLogging = true
	}
}

// WithLogFunc configures the client to use a custom log function
func WithLogFunc(logFunc func(format string, args ...interface{})) ClientOption {
	return func(c *NegotiateTransport) {
		c.logFunc = logFunc
	}
}

// WithLogger sets the structured logger handed to each security context
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *NegotiateTransport) {
		c.logger = logger
	}
}

// WithMetrics records handshake outcomes in m
func WithMetrics(m *Metrics) ClientOption {
	return func(c *NegotiateTransport) {
		c.metrics = m
	}
}

// NewTransport creates a new Negotiate transport that authenticates with cred
// using provider.
//
// The transport is a wrapper around the standard [http.Transport] that adds
// Negotiate authentication support. By default it wraps [http.DefaultTransport] - this can be
// overridden by passing a custom round tripper with [WithRoundTripper].
func NewTransport(provider sspi.Provider, cred sspi.Credential, options ...ClientOption) *NegotiateTransport {
	t := &NegotiateTransport{
		transport:        http.DefaultTransport,
		provider:         provider,
		credential:       cred,
		spnFunc:          DefaultSpnFunc,
		delegationPolicy: DefaultDelegationPolicy,
	}
	for _, option := range options {
		option(t)
	}
	if t.httpLogging && t.logFunc == nil {
		t.httpLogging = false
	}
	return t
}

// NewClient returns a [http.Client] that uses [NegotiateTransport] to enable Negotiate authentication.
//
// If an existing client is provided, it will be copied and the [http.RoundTripper] will be replaced with a
// new [NegotiateTransport].  Otherwise the default [http.Client] will be used. The [http.RoundTripper] in the
// returned client will wrap the transport from the supplied client or [http.DefaultTransport].
func NewClient(provider sspi.Provider, cred sspi.Credential, client *http.Client, options ...ClientOption) *http.Client {
	if client == nil {
		client = http.DefaultClient
	}

	if client.Transport != nil {
		options = append(options, WithRoundTripper(client.Transport))
	}

	// Copy the client to avoid modifying the original
	newClient := *client
	newClient.Transport = NewTransport(provider, cred, options...)
	return &newClient
}

func (t *NegotiateTransport) logf(format string, args ...interface{}) {
	if t.logFunc != nil {
		t.logFunc(format, args...)
	}
}

func (t *NegotiateTransport) requestedFlags() sspi.ContextFlag {
	// always request integrity
	flags := sspi.ContextFlagIntegrity | sspi.ContextFlagConnection
	if t.mutual {
		flags |= sspi.ContextFlagMutualAuth
	}
	if t.delegationPolicy != DelegationPolicyNever {
		flags |= sspi.ContextFlagDelegate
	}

	return flags
}

// newSecContext starts a security context for req.  resp is the response
// that challenged the client, or nil for opportunistic authentication.
func (t *NegotiateTransport) newSecContext(req *http.Request, resp *http.Response) (*sspi.ClientContext, error) {
	opts := []sspi.ClientOption{
		sspi.WithTarget(t.spnFunc(*req.URL)),
		sspi.WithFlags(t.requestedFlags()),
	}
	if t.logger != nil {
		opts = append(opts, sspi.WithLogger(t.logger))
	}

	var state = requestTLSState(req, resp)
	binding, err := channelBinding(t.channelBindingDisposition, state)
	if err != nil {
		return nil, err
	}
	if binding != nil {
		opts = append(opts, sspi.WithChannelBinding(binding))
	}

	return sspi.NewClientContext(t.provider, t.credential, opts...)
}

func (t *NegotiateTransport) continueSecContext(secCtx *sspi.ClientContext, inToken string, req *http.Request) error {
	var rawInToken []byte
	var err error
	if inToken != "" {
		rawInToken, err = base64.StdEncoding.DecodeString(inToken)
		if err != nil {
			return fmt.Errorf("negotiate: bad challenge token: %w", err)
		}
	}

	outToken, err := secCtx.Continue(rawInToken)
	if err != nil {
		return err
	}

	if !outToken.Empty() {
		req.Header.Set("Authorization", "Negotiate "+base64.StdEncoding.EncodeToString(outToken.Bytes()))
	}

	return nil
}

// roundTrip sends one request over the underlying transport, dumping it
// when HTTP logging is on
func (t *NegotiateTransport) roundTrip(req *http.Request) (*http.Response, error) {
	if t.httpLogging {
		if err := t.dumpRequest(req); err != nil {
			return nil, err
		}
	}

	if trace := GetHttpTrace(req.Context()); trace != nil {
		trace.Requests++
	}

	resp, err := t.transport.RoundTrip(req)
	if err != nil {
		return nil, err
	}

	if t.httpLogging {
		if err := t.dumpResponse(resp); err != nil {
			discard(resp)
			return nil, err
		}
	}
	return resp, nil
}

// rewind prepares req to be sent again
func rewind(req *http.Request) error {
	if req.Body == nil || req.Body == http.NoBody || req.GetBody == nil {
		// an Expect: 100-continue request may still hold its unsent body
		return nil
	}

	body, err := req.GetBody()
	if err != nil {
		return fmt.Errorf("negotiate: rewinding request body: %w", err)
	}
	req.Body = body

	return nil
}

func discard(resp *http.Response) {
	if resp != nil && resp.Body != nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}
}

// RoundTrip implements the [http.RoundTripper] interface and performs one HTTP
// request, including potentially multiple round-trips to the server to complete the
// security context establishment.
func (t *NegotiateTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = t.instrument(req)

	// We are not meant to modify the request, so we need to create a new one
	req = req.Clone(req.Context())

	var secCtx *sspi.ClientContext
	defer func() {
		if secCtx != nil {
			secCtx.Release() //nolint:errcheck
		}
	}()

	// Should we opportunistically set the initial token?  Required channel
	// bindings need the TLS state of a response first.
	useOpportunistic := t.opportunisticFunc != nil && t.opportunisticFunc(*req.URL) &&
		t.channelBindingDisposition != ChannelBindingDispositionRequire

	// use Expect: Continue for large requests or if we can't rewind the body, when we're not doing opportunistic authentication
	if !useOpportunistic && t.expect100Threshold > 0 && req.Body != nil && req.Body != http.NoBody {
		useExpect100 := false
		if req.ContentLength > t.expect100Threshold {
			t.logf("Using Expect: Continue header because request body is larger than %d bytes", t.expect100Threshold)
			useExpect100 = true
		} else if req.GetBody == nil {
			t.logf("Using Expect: Continue header because request body is not rewindable and opportunistic authentication is not requested")
			useExpect100 = true
		}
		if useExpect100 {
			req.Header.Set("Expect", "100-continue")
		}
	}

	var (
		resp    *http.Response
		started = time.Now()
		sent    = 0
	)

contextLoop:
	for {
		inToken := ""

		// Skip the server round-trip if we are doing opportunistic authentication and haven't started auth yet
		if !(secCtx == nil && useOpportunistic) {
			if sent == maxRounds {
				t.metrics.recordHandshake(false, secCtx, started)
				return nil, ErrTooManyRounds
			}
			if sent > 0 {
				if err := rewind(req); err != nil {
					return nil, err
				}
			}

			// Send the request / get a response
			var err error
			resp, err = t.roundTrip(req)
			sent++
			if err != nil {
				t.metrics.recordHandshake(false, secCtx, started)
				return nil, err
			}

			// Check for a negotiate challenge in the response - which can be in a 401 or any other final response
			challenges := findSchemeChallenges(resp.Header, "Negotiate")
			switch len(challenges) {
			default:
				discard(resp)
				return nil, ErrMultipleChallenges
			case 0:
				// no challenge - the context should be fully established or never have started (eg. URL doesn't need auth)
				break contextLoop
			case 1:
				negotiateChallenge := challenges[0]

				// Negotiate doesn't use parameters
				if len(negotiateChallenge.params) > 0 {
					discard(resp)
					return nil, ErrChallengeParameters
				}

				if negotiateChallenge.token68 == "" {
					if resp.StatusCode != http.StatusUnauthorized {
						discard(resp)
						return nil, fmt.Errorf("negotiate: challenge must have a token unless this is a 401 response")
					}
					if secCtx != nil {
						// the server rejected our token;  the caller gets the 401
						t.logf("Server rejected the authentication token")
						t.metrics.recordHandshake(false, secCtx, started)
						return resp, nil
					}
				}
				inToken = negotiateChallenge.token68
			}
		}

		if secCtx == nil {
			var err error
			if secCtx, err = t.newSecContext(req, resp); err != nil {
				discard(resp)
				t.metrics.recordHandshake(false, nil, started)
				return nil, err
			}
		}

		if secCtx.Done() {
			if resp != nil && resp.StatusCode == http.StatusUnauthorized {
				t.logf("Server rejected an established context")
				t.metrics.recordHandshake(false, secCtx, started)
				return resp, nil
			}
			break contextLoop
		}

		// leaves any token that needs to be sent to the server in the request's Authorization header
		// which will be sent in the next round trip
		if err := t.continueSecContext(secCtx, inToken, req); err != nil {
			discard(resp)
			t.metrics.recordHandshake(false, secCtx, started)
			return nil, err
		}

		// We don't need to send anything to the server if it didn't challenge us,
		// as long as we've already got a response (not the first RT of an opportunistic request)
		if resp != nil && resp.StatusCode != http.StatusUnauthorized {
			break contextLoop
		}

		discard(resp)
	}

	// If we never started authentication then we should return the response we got
	if secCtx == nil {
		return resp, nil
	}

	if err := t.checkEstablished(secCtx); err != nil {
		discard(resp)
		t.metrics.recordHandshake(false, secCtx, started)
		return nil, err
	}

	if trace := GetHttpTrace(req.Context()); trace != nil {
		trace.Authenticated = true
		trace.Package = secCtx.Credential().Package()
	}

	t.metrics.recordHandshake(true, secCtx, started)
	return resp, nil
}

// checkEstablished verifies that the context is complete and has the flags the
// transport insists on
func (t *NegotiateTransport) checkEstablished(secCtx *sspi.ClientContext) error {
	if !secCtx.Done() {
		return ErrNotEstablished
	}

	flags, _ := secCtx.NegotiatedFlags()

	if t.mutual && flags&sspi.ContextFlagMutualAuth == 0 {
		return ErrMutualNotAvailable
	}

	if t.delegationPolicy == DelegationPolicyAlways && flags&sspi.ContextFlagDelegate == 0 {
		return ErrDelegationRefused
	}

	return nil
}
