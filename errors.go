// SPDX-License-Identifier: Apache-2.0

package sspi

import (
	"errors"
	"fmt"
)

// Error categories.  Every error returned by this package matches one of
// these with errors.Is.

// ErrProviderFailure is matched by all errors reporting a failure status from a provider.
var ErrProviderFailure = errors.New("the security provider reported a failure")

// ErrProtocolMisuse is matched by errors caused by calling an operation out of order.
var ErrProtocolMisuse = errors.New("the security context was used out of protocol order")

// ErrVerificationMismatch is matched when a signature or sequence number does not verify.
var ErrVerificationMismatch = errors.New("the message signature or sequence number did not verify")

// ErrResourceExhaustion is matched when an output buffer or memory is exhausted.
var ErrResourceExhaustion = errors.New("insufficient resources to complete the operation")

var ErrProviderNotFound = errors.New("provider not found")

// Protocol misuse.
var (
	ErrNotEstablished     = fmt.Errorf("%w: the security context is not established", ErrProtocolMisuse)
	ErrAlreadyEstablished = fmt.Errorf("%w: the security context is already established", ErrProtocolMisuse)
	ErrContextFailed      = fmt.Errorf("%w: a previous handshake round failed", ErrProtocolMisuse)
	ErrContextReleased    = fmt.Errorf("%w: the security context has been released", ErrProtocolMisuse)
	ErrNoContext          = fmt.Errorf("%w: no handshake round has completed", ErrProtocolMisuse)
	ErrUnexpectedToken    = fmt.Errorf("%w: the first round must not carry a peer token", ErrProtocolMisuse)
	ErrMissingToken       = fmt.Errorf("%w: a peer token is required after the first round", ErrProtocolMisuse)
	ErrNoTokenBuffer      = fmt.Errorf("%w: the buffer set has no token buffer", ErrProtocolMisuse)
	ErrReadOnlyToken      = fmt.Errorf("%w: the token buffer is read-only", ErrProtocolMisuse)
	ErrNilCredential      = fmt.Errorf("%w: a credential is required", ErrProtocolMisuse)
)

// ErrTokenTooLarge is returned when a provider produces a token larger than the output buffer.
var ErrTokenTooLarge = fmt.Errorf("%w: the output token does not fit the output buffer", ErrResourceExhaustion)

// Error variables that correspond to provider failure status codes.

var ErrUnknownStatus = errors.New("an unrecognized security status was returned")
var ErrInsufficientMemory = errors.New("not enough memory is available to complete the request")
var ErrInvalidHandle = errors.New("the handle specified is invalid")
var ErrUnsupportedFunction = errors.New("the function requested is not supported")
var ErrTargetUnknown = errors.New("the specified target is unknown or unreachable")
var ErrInternalError = errors.New("the security provider reported an internal error")
var ErrPackageNotFound = errors.New("the requested security package does not exist")
var ErrInvalidToken = errors.New("the token supplied to the function is invalid")
var ErrQOPNotSupported = errors.New("the requested quality of protection is not supported")
var ErrLogonDenied = errors.New("the logon attempt failed")
var ErrUnknownCredentials = errors.New("the credentials supplied to the package were not recognized")
var ErrNoCredentials = errors.New("no credentials are available in the security package")
var ErrMessageAltered = errors.New("the message or signature supplied for verification has been altered")
var ErrOutOfSequence = errors.New("the message supplied for verification is out of sequence")
var ErrNoAuthenticatingAuthority = errors.New("no authority could be contacted for authentication")
var ErrContextExpired = errors.New("the context has expired and can no longer be used")
var ErrIncompleteMessage = errors.New("the supplied message is incomplete")
var ErrBufferTooSmall = errors.New("the buffers supplied to the function were too small")
var ErrWrongPrincipal = errors.New("the target principal name is incorrect")
var ErrTimeSkew = errors.New("the clocks on the client and server machines are skewed")
var ErrBadBindings = errors.New("the client and server channel bindings differ")
var ErrMutualAuthFailed = errors.New("the peer failed to authenticate itself")
var ErrAlgorithmMismatch = errors.New("the client and server cannot communicate because they do not possess a common algorithm")
