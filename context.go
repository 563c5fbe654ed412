// SPDX-License-Identifier: Apache-2.0

package sspi

import (
	"fmt"
	"log/slog"
	"runtime"
	"sync"

	"github.com/google/uuid"
)

// State is the handshake state of a security context
type State int

const (
	StateInitial     State = iota // no round has run
	StateNegotiating              // the peer must be consulted again
	StateEstablished              // the handshake is complete
	StateFailed                   // a round failed;  the context must be discarded
	StateReleased                 // provider resources have been released
)

func (s State) String() string {
	switch s {
	case StateInitial:
		return "initial"
	case StateNegotiating:
		return "negotiating"
	case StateEstablished:
		return "established"
	case StateFailed:
		return "failed"
	case StateReleased:
		return "released"
	}

	return fmt.Sprintf("State(%d)", int(s))
}

// SecurityContext is the role independent view of a security context.  Only
// the client role is implemented by this package, as [ClientContext].
type SecurityContext interface {
	// Continue runs one handshake round.  The first call takes no peer token;
	// every later call takes the token most recently received from the peer.
	Continue(token []byte) (*AuthenticationToken, error)
	// Done reports whether the handshake is complete
	Done() bool
	// Token returns the token produced by the most recent round
	Token() *AuthenticationToken
	// Round returns the number of rounds run so far
	Round() int
	// State returns the handshake state
	State() State
	// NegotiatedFlags returns the context attributes reported by the provider.
	// The second return value is false before the first round.
	NegotiatedFlags() (ContextFlag, bool)
	// Expiry returns the context lifetime reported by the provider
	Expiry() Lifetime

	MakeSignature(msg []byte, seq uint32) ([]byte, error)
	MakeSignatureBuffers(bs BufferSet, seq uint32) error
	VerifySignature(msg, sig []byte, seq uint32) (bool, error)
	VerifySignatureBuffers(bs BufferSet, seq uint32) (bool, error)
	EncryptMessage(msg []byte, seq uint32) (*EncryptedMessage, error)
	EncryptBuffers(bs BufferSet, seq uint32) ([]byte, error)
	DecryptMessage(em *EncryptedMessage, seq uint32) ([]byte, error)
	DecryptBuffers(bs BufferSet, sig []byte, seq uint32) error

	SessionKey() ([]byte, error)
	MaxSignatureSize() (int, error)
	SecurityTrailerSize() (int, error)
	Sizes() (*Sizes, error)
	LastTokenStatus() (TokenStatus, error)
	PackageName() (string, error)
	AuthenticationPackage() (*PackageInfo, error)

	// Release frees the provider resources.  It may be called any number of times.
	Release() error
}

var _ SecurityContext = (*ClientContext)(nil)

// ClientContext is the initiator side of a security context.
//
// A ClientContext is not safe for concurrent use.
type ClientContext struct {
	id       uuid.UUID
	provider Provider
	cred     Credential
	opts     ClientOptions
	log      *slog.Logger

	res         *contextResource
	cleanup     runtime.Cleanup
	releaseOnce sync.Once

	state      State
	done       bool
	round      int
	token      *AuthenticationToken
	flags      ContextFlag
	flagsKnown bool
	expiry     Lifetime
	lastStatus Status
}

// NewClientContext creates a client context that authenticates with cred,
// which must have been acquired from prov.  No provider call is made until
// the first call to Continue.
func NewClientContext(prov Provider, cred Credential, opts ...ClientOption) (*ClientContext, error) {
	if prov == nil {
		return nil, fmt.Errorf("%w: a provider is required", ErrProtocolMisuse)
	}
	if cred == nil {
		return nil, ErrNilCredential
	}

	o := ClientOptions{
		MaxTokenSize: DefaultMaxTokenSize,
	}
	for _, opt := range opts {
		opt(&o)
	}

	if o.MaxTokenSize <= 0 {
		o.MaxTokenSize = DefaultMaxTokenSize
	}
	if o.Logger == nil {
		o.Logger = discardLogger
	}

	// output buffers are always ours
	o.Flags &^= ContextFlagAllocateMemory

	id := uuid.New()
	log := o.Logger.With(logKeyContextID, id.String(), logKeyPackage, prov.Name())

	c := &ClientContext{
		id:       id,
		provider: prov,
		cred:     cred,
		opts:     o,
		log:      log,
		expiry:   Lifetime{Status: LifetimeIndefinite},
		res: &contextResource{
			provider: prov,
			log:      log,
		},
	}

	c.cleanup = runtime.AddCleanup(c, (*contextResource).release, c.res)

	return c, nil
}

// ID returns a unique identifier for the context, used to correlate log records
func (c *ClientContext) ID() uuid.UUID {
	return c.id
}

// Target returns the target principal name the context was created for
func (c *ClientContext) Target() string {
	return c.opts.Target
}

// RequestedFlags returns the context attributes requested from the provider
func (c *ClientContext) RequestedFlags() ContextFlag {
	return c.opts.Flags
}

// Credential returns the borrowed credential
func (c *ClientContext) Credential() Credential {
	return c.cred
}

func (c *ClientContext) Done() bool {
	return c.done
}

func (c *ClientContext) Token() *AuthenticationToken {
	return c.token
}

func (c *ClientContext) Round() int {
	return c.round
}

func (c *ClientContext) State() State {
	return c.state
}

func (c *ClientContext) NegotiatedFlags() (ContextFlag, bool) {
	return c.flags, c.flagsKnown
}

func (c *ClientContext) Expiry() Lifetime {
	return c.expiry
}

// LastStatus returns the provider status of the most recent round
func (c *ClientContext) LastStatus() Status {
	return c.lastStatus
}

// Continue runs one round of the handshake.
//
// The first call must pass an empty token;  later calls must pass the token
// received from the peer.  Channel bindings configured with
// [WithChannelBinding] are passed to the provider on the first round only.
//
// Every call that reaches the provider advances the round counter and
// updates the negotiated flags and expiry, whether the round succeeds or
// not.  The returned token is stamped with the index of the round that
// produced it, starting at zero, and may be empty when there is nothing more
// to send.  A failed round leaves the context in [StateFailed].
func (c *ClientContext) Continue(token []byte) (*AuthenticationToken, error) {
	switch c.state {
	case StateReleased:
		return nil, ErrContextReleased
	case StateFailed:
		return nil, ErrContextFailed
	case StateEstablished:
		return nil, ErrAlreadyEstablished
	}

	if c.round == 0 && len(token) > 0 {
		return nil, ErrUnexpectedToken
	}
	if c.round > 0 && len(token) == 0 {
		return nil, ErrMissingToken
	}

	var input BufferSet
	if len(token) > 0 {
		input = append(input, SecurityBuffer{Type: BufferToken, ReadOnly: true, Data: token})
	}
	if c.round == 0 && c.opts.ChannelBinding != nil {
		cbData, err := c.opts.ChannelBinding.Marshal()
		if err != nil {
			return nil, err
		}
		input = append(input, SecurityBuffer{Type: BufferChannelBindings, ReadOnly: true, Data: cbData})
	}

	outBuf := make([]byte, c.opts.MaxTokenSize)
	output := BufferSet{{Type: BufferToken, Data: outBuf}}

	req := &InitializeRequest{
		Credential: c.cred,
		Handle:     c.res.handle,
		Target:     c.opts.Target,
		Flags:      c.opts.Flags,
		DataRep:    c.opts.DataRep,
		Input:      input,
		Output:     output,
	}

	res, err := c.provider.InitializeContext(req)

	round := c.round
	c.round++
	c.lastStatus = res.Status
	c.flags = res.Flags
	c.flagsKnown = true
	c.expiry = MakeLifetime(res.Expiry)

	if c.res.handle == 0 && res.Handle != 0 {
		c.res.handle = res.Handle
	}

	log := c.log.With(logKeyRound, round, logKeyTarget, c.opts.Target)

	if err != nil || res.Status.IsError() {
		c.state = StateFailed
		perr := providerError("InitializeSecurityContext", res.Status, err)
		log.Debug("handshake round failed", logKeyStatus, res.Status.String(), logKeyError, perr)
		return nil, perr
	}

	if res.Status.NeedsCompletion() {
		cs, cerr := c.provider.CompleteToken(c.res.handle, output)
		if cerr != nil || cs.IsError() {
			c.state = StateFailed
			perr := providerError("CompleteAuthToken", cs, cerr)
			log.Debug("token completion failed", logKeyStatus, cs.String(), logKeyError, perr)
			return nil, perr
		}
	}

	out := output[0].Data
	if len(out) > c.opts.MaxTokenSize {
		c.state = StateFailed
		log.Debug("output token overflow", logKeyTokenLen, len(out))
		return nil, ErrTokenTooLarge
	}

	c.token = newToken(c.provider.Name(), round, out)
	c.done = !res.Status.Continues()
	if c.done {
		c.state = StateEstablished
	} else {
		c.state = StateNegotiating
	}

	log.Debug("handshake round complete",
		logKeyStatus, res.Status.String(),
		logKeyTokenLen, len(out),
		logKeyFlags, uint32(res.Flags),
	)

	return c.token, nil
}

// established guards operations that need a complete handshake
func (c *ClientContext) established() error {
	switch {
	case c.state == StateReleased:
		return ErrContextReleased
	case !c.done:
		return ErrNotEstablished
	}

	return nil
}

// handle guards operations that need a provider handle
func (c *ClientContext) handle() (ContextHandle, error) {
	if c.state == StateReleased {
		return 0, ErrContextReleased
	}
	if c.res.handle == 0 {
		return 0, ErrNoContext
	}

	return c.res.handle, nil
}
