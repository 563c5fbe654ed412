// SPDX-License-Identifier: Apache-2.0

package sspi

import "time"

// LifetimeStatus defines the possible states of a Lifetime
// instance
type LifetimeStatus int

const (
	// Indicates that the lifetime ExpiresAt value is valid
	LifetimeAvailable LifetimeStatus = iota

	// Indicates that the lifetime has expired;  ExpiresAt holds the expiry time
	LifetimeExpired

	// Indicates that the lifetime is indefinite or not yet known;  the ExpiresAt value is not valid
	LifetimeIndefinite
)

// Lifetime represents a context expiry.  The status is kept separate from the
// expiry time so that an unknown or indefinite lifetime is not confused with
// a time value.
type Lifetime struct {
	Status    LifetimeStatus
	ExpiresAt time.Time
}

// MakeLifetime builds a Lifetime from an absolute expiry reported by a
// provider.  A zero time means that the provider did not report an expiry.
func MakeLifetime(expiry time.Time) Lifetime {
	switch {
	case expiry.IsZero():
		return Lifetime{Status: LifetimeIndefinite}
	case !expiry.After(time.Now()):
		return Lifetime{Status: LifetimeExpired, ExpiresAt: expiry}
	}

	return Lifetime{Status: LifetimeAvailable, ExpiresAt: expiry}
}

// Remaining returns the time left before expiry, or zero when the lifetime is
// not available
func (l Lifetime) Remaining() time.Duration {
	if l.Status != LifetimeAvailable {
		return 0
	}

	return time.Until(l.ExpiresAt)
}
