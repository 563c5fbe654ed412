// SPDX-License-Identifier: Apache-2.0

package sspi

import "log/slog"

// DefaultMaxTokenSize is the capacity of the output token buffer provisioned
// for each handshake round.
const DefaultMaxTokenSize = 64 * 1024

// ClientOptions holds the optional parameters for creating a client context.
type ClientOptions struct {
	Target         string             // Target principal name, for example "HTTP/host.example.com"
	Flags          ContextFlag        // Requested context attributes
	DataRep        DataRepresentation // Wire data representation
	ChannelBinding *ChannelBinding    // Channel bindings, sent on the first round
	Logger         *slog.Logger       // Structured logger;  discards by default
	MaxTokenSize   int                // Output token buffer capacity
}

// ClientOption is a function type for configuring client context options.
type ClientOption func(o *ClientOptions)

// WithTarget sets the name of the service principal the context authenticates to.
func WithTarget(target string) ClientOption {
	return func(o *ClientOptions) {
		o.Target = target
	}
}

// WithFlags sets the requested context attributes.  [ContextFlagAllocateMemory]
// is never passed to the provider, as output buffers are always provisioned
// by the context.
func WithFlags(flags ContextFlag) ClientOption {
	return func(o *ClientOptions) {
		o.Flags = flags
	}
}

// WithDataRepresentation selects network (the default) or native byte order.
func WithDataRepresentation(rep DataRepresentation) ClientOption {
	return func(o *ClientOptions) {
		o.DataRep = rep
	}
}

// WithChannelBinding binds the context to an outer channel.
func WithChannelBinding(cb *ChannelBinding) ClientOption {
	return func(o *ClientOptions) {
		o.ChannelBinding = cb
	}
}

// WithLogger sets the logger used for handshake and release diagnostics.
func WithLogger(l *slog.Logger) ClientOption {
	return func(o *ClientOptions) {
		o.Logger = l
	}
}

// WithMaxTokenSize overrides the output token buffer capacity for packages
// that advertise tokens larger than [DefaultMaxTokenSize].
func WithMaxTokenSize(n int) ClientOption {
	return func(o *ClientOptions) {
		o.MaxTokenSize = n
	}
}
