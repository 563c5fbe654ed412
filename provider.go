// SPDX-License-Identifier: Apache-2.0

package sspi

import (
	"sort"
	"sync"
	"time"
)

var registry struct {
	sync.Mutex
	libs map[string]ProviderConstructor
}

func init() {
	registry.libs = make(map[string]ProviderConstructor)
}

// ProviderConstructor defines the function signature passed to RegisterProvider, used
// by the registration interface to create new instances of a provider.
type ProviderConstructor func() (Provider, error)

// RegisterProvider associates the supplied provider factory with the unique
// name for the provider. If a provider with name is already registered, the new
// factory function will replace the existing registration.
//
// Providers register themselves by calling RegisterProvider in their init()
// function and document the name they use.
func RegisterProvider(name string, f ProviderConstructor) {
	registry.Lock()
	defer registry.Unlock()

	registry.libs[name] = f
}

// NewProvider instantiates a provider given its unique name by calling the
// factory function registered against the name.  It returns
// [ErrProviderNotFound] if name is not registered.
func NewProvider(name string) (p Provider, err error) {
	registry.Lock()
	defer registry.Unlock()

	f, ok := registry.libs[name]
	if !ok {
		return nil, ErrProviderNotFound
	}

	return f()
}

// MustNewProvider wraps NewProvider in a panic.
//
// Panics if the provider name is not registered or its constructor returns an error.
func MustNewProvider(name string) Provider {
	registry.Lock()
	defer registry.Unlock()

	f, ok := registry.libs[name]
	if !ok {
		panic("SSPI provider not found: " + name)
	}

	p, err := f()
	if err != nil {
		panic(err)
	}

	return p
}

// Providers returns the sorted names of the registered providers
func Providers() []string {
	registry.Lock()
	defer registry.Unlock()

	names := make([]string, 0, len(registry.libs))
	for name := range registry.libs {
		names = append(names, name)
	}
	sort.Strings(names)

	return names
}

// Credential is a handle to credentials acquired from a provider.  Security
// contexts borrow credentials and never release them;  one credential may be
// shared read-only by any number of contexts.
type Credential interface {
	// Package returns the name of the security package the credential was acquired for
	Package() string
	// Principal returns the name of the principal the credential represents
	Principal() string
}

// ContextHandle is an opaque reference to provider side context state.  The
// zero value refers to no context.
type ContextHandle uint64

// InitializeRequest carries the inputs of one handshake round.
type InitializeRequest struct {
	Credential Credential
	Handle     ContextHandle // zero on the first round
	Target     string        // target principal, may be empty
	Flags      ContextFlag   // requested context attributes
	DataRep    DataRepresentation
	Input      BufferSet // peer token and, on the first round, channel bindings
	Output     BufferSet // caller provisioned token buffer, written in place
}

// InitializeResult carries the outputs of one handshake round.
type InitializeResult struct {
	Status Status
	Handle ContextHandle // set by the provider on the first round
	Flags  ContextFlag   // context attributes negotiated so far
	Expiry time.Time     // zero if the provider does not know the expiry
}

// TokenStatus reports whether the last token produced by a context is the
// final token of the handshake.
type TokenStatus int

const (
	LastTokenYes TokenStatus = iota
	LastTokenNo
	LastTokenMaybe
)

func (s TokenStatus) String() string {
	switch s {
	case LastTokenYes:
		return "yes"
	case LastTokenNo:
		return "no"
	}

	return "maybe"
}

// Sizes reports the buffer sizes a context needs for message protection.
type Sizes struct {
	MaxToken        int // maximum handshake token size
	MaxSignature    int // maximum signature size
	BlockSize       int // preferred message size multiple
	SecurityTrailer int // space needed for the signature of an encrypted message
}

// Package capability bits, the same as the SECPKG_FLAG_* constants.
const (
	PackageCapIntegrity     uint32 = 0x00000001
	PackageCapPrivacy       uint32 = 0x00000002
	PackageCapTokenOnly     uint32 = 0x00000004
	PackageCapDatagram      uint32 = 0x00000008
	PackageCapConnection    uint32 = 0x00000010
	PackageCapMultiRequired uint32 = 0x00000020
	PackageCapClientOnly    uint32 = 0x00000040
	PackageCapExtendedError uint32 = 0x00000080
	PackageCapImpersonation uint32 = 0x00000100
	PackageCapStream        uint32 = 0x00000400
	PackageCapNegotiable    uint32 = 0x00000800
	PackageCapGSSCompatible uint32 = 0x00001000
	PackageCapLogon         uint32 = 0x00002000
	PackageCapMutualAuth    uint32 = 0x00010000
	PackageCapDelegation    uint32 = 0x00020000
)

// PackageInfo describes a security package.
type PackageInfo struct {
	Name         string
	Comment      string
	Capabilities uint32
	Version      uint16
	RPCID        uint16
	MaxToken     int
}

// Provider is the boundary to a security package implementation.
//
// Providers keep per-context state in a table indexed by [ContextHandle] and
// must guard that table against concurrent access, as one provider instance
// is shared by many contexts and handles may be released from a cleanup
// goroutine.
//
// Handshake and per-message methods report the outcome as a [Status];  a
// non-nil error carries mechanism specific detail.  Query methods return an
// error, usually built with [Status.Err].
type Provider interface {
	// Name returns the unique name of the provider.
	Name() string

	// InitializeContext runs one round of the handshake, corresponding to
	// InitializeSecurityContext.  The provider writes the output token into
	// req.Output in place and shortens its Data to the bytes written.
	InitializeContext(req *InitializeRequest) (InitializeResult, error)

	// CompleteToken finalizes an output token after InitializeContext returned
	// StatusCompleteNeeded or StatusCompleteAndContinue (CompleteAuthToken).
	CompleteToken(h ContextHandle, out BufferSet) (Status, error)

	// DeleteContext releases the provider state for h.  Deleting an unknown
	// handle is not an error.
	DeleteContext(h ContextHandle) error

	QuerySessionKey(h ContextHandle) ([]byte, error)
	QuerySizes(h ContextHandle) (*Sizes, error)
	QueryLastTokenStatus(h ContextHandle) (TokenStatus, error)
	QueryPackageInfo(h ContextHandle) (*PackageInfo, error)

	// MakeSignature writes a signature over the data segments of bs into its
	// token segment.
	MakeSignature(h ContextHandle, bs BufferSet, seq uint32) (Status, error)
	// VerifySignature checks the token segment of bs against its data
	// segments.  A bad signature is reported as StatusMessageAltered and a
	// sequence mismatch as StatusOutOfSequence.
	VerifySignature(h ContextHandle, bs BufferSet, seq uint32) (Status, error)
	// EncryptMessage encrypts the writable data segments of bs in place and
	// writes the signature into its token segment.
	EncryptMessage(h ContextHandle, bs BufferSet, seq uint32) (Status, error)
	// DecryptMessage reverses EncryptMessage in place.
	DecryptMessage(h ContextHandle, bs BufferSet, seq uint32) (Status, error)
}
