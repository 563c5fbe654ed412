// SPDX-License-Identifier: Apache-2.0

// Package test holds assertion helpers shared by the package tests.
package test

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// Assert is testify/assert with some extensions
type Assert struct {
	*assert.Assertions

	t testing.TB
}

func NewAssert(t testing.TB) *Assert {
	return &Assert{assert.New(t), t}
}

// NoErrorFatal fails the test immediately on error
func (a *Assert) NoErrorFatal(err error) {
	a.t.Helper()
	if !a.NoError(err) {
		a.t.Logf("Stopping test %s due to fatal error", a.t.Name())
		a.t.FailNow()
	}
}

// ErrorIsFatal fails the test immediately unless err wraps target
func (a *Assert) ErrorIsFatal(err, target error) {
	a.t.Helper()
	if !a.ErrorIs(err, target) {
		a.t.FailNow()
	}
}
