// SPDX-License-Identifier: Apache-2.0

package sspi

import (
	"fmt"
	"strings"
)

// Status is a security status code as returned by a provider.  Values are the
// same as the Windows SECURITY_STATUS codes so that native providers can pass
// them through unchanged.  Codes with the top bit set indicate failure.
type Status uint32

const (
	StatusOK                  Status = 0x00000000
	StatusContinueNeeded      Status = 0x00090312
	StatusCompleteNeeded      Status = 0x00090313
	StatusCompleteAndContinue Status = 0x00090314
	StatusLocalLogon          Status = 0x00090315
	StatusContextExpiredInfo  Status = 0x00090317
	StatusIncompleteCreds     Status = 0x00090320
	StatusRenegotiate         Status = 0x00090321

	StatusInsufficientMemory        Status = 0x80090300
	StatusInvalidHandle             Status = 0x80090301
	StatusUnsupportedFunction       Status = 0x80090302
	StatusTargetUnknown             Status = 0x80090303
	StatusInternalError             Status = 0x80090304
	StatusPackageNotFound           Status = 0x80090305
	StatusNotOwner                  Status = 0x80090306
	StatusCannotInstall             Status = 0x80090307
	StatusInvalidToken              Status = 0x80090308
	StatusCannotPack                Status = 0x80090309
	StatusQOPNotSupported           Status = 0x8009030A
	StatusNoImpersonation           Status = 0x8009030B
	StatusLogonDenied               Status = 0x8009030C
	StatusUnknownCredentials        Status = 0x8009030D
	StatusNoCredentials             Status = 0x8009030E
	StatusMessageAltered            Status = 0x8009030F
	StatusOutOfSequence             Status = 0x80090310
	StatusNoAuthenticatingAuthority Status = 0x80090311
	StatusBadPackageID              Status = 0x80090316
	StatusContextExpired            Status = 0x80090317
	StatusIncompleteMessage         Status = 0x80090318
	StatusBufferTooSmall            Status = 0x80090321
	StatusWrongPrincipal            Status = 0x80090322
	StatusTimeSkew                  Status = 0x80090324
	StatusUntrustedRoot             Status = 0x80090325
	StatusIllegalMessage            Status = 0x80090326
	StatusCertUnknown               Status = 0x80090327
	StatusCertExpired               Status = 0x80090328
	StatusAlgorithmMismatch         Status = 0x80090331
	StatusBadBindings               Status = 0x80090346
	StatusMutualAuthFailed          Status = 0x80090363
)

// IsError reports whether s is a failure code
func (s Status) IsError() bool {
	return s&0x80000000 != 0
}

// Continues reports whether s asks the caller for a further handshake round
func (s Status) Continues() bool {
	return s == StatusContinueNeeded || s == StatusCompleteAndContinue
}

// NeedsCompletion reports whether s asks the caller to complete the output token
func (s Status) NeedsCompletion() bool {
	return s == StatusCompleteNeeded || s == StatusCompleteAndContinue
}

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "SEC_E_OK"
	case StatusContinueNeeded:
		return "SEC_I_CONTINUE_NEEDED"
	case StatusCompleteNeeded:
		return "SEC_I_COMPLETE_NEEDED"
	case StatusCompleteAndContinue:
		return "SEC_I_COMPLETE_AND_CONTINUE"
	case StatusLocalLogon:
		return "SEC_I_LOCAL_LOGON"
	case StatusContextExpiredInfo:
		return "SEC_I_CONTEXT_EXPIRED"
	case StatusIncompleteCreds:
		return "SEC_I_INCOMPLETE_CREDENTIALS"
	case StatusRenegotiate:
		return "SEC_I_RENEGOTIATE"
	}

	if err := s.sentinel(); err != ErrUnknownStatus {
		return fmt.Sprintf("0x%08X (%s)", uint32(s), err.Error())
	}

	return fmt.Sprintf("0x%08X", uint32(s))
}

// sentinel maps a failure code to the package level error variable that
// describes it
func (s Status) sentinel() error {
	switch s {
	default:
		return ErrUnknownStatus
	case StatusInsufficientMemory:
		return ErrInsufficientMemory
	case StatusInvalidHandle:
		return ErrInvalidHandle
	case StatusUnsupportedFunction:
		return ErrUnsupportedFunction
	case StatusTargetUnknown:
		return ErrTargetUnknown
	case StatusInternalError:
		return ErrInternalError
	case StatusPackageNotFound, StatusBadPackageID:
		return ErrPackageNotFound
	case StatusInvalidToken, StatusIllegalMessage:
		return ErrInvalidToken
	case StatusQOPNotSupported:
		return ErrQOPNotSupported
	case StatusLogonDenied:
		return ErrLogonDenied
	case StatusUnknownCredentials:
		return ErrUnknownCredentials
	case StatusNoCredentials:
		return ErrNoCredentials
	case StatusMessageAltered:
		return ErrMessageAltered
	case StatusOutOfSequence:
		return ErrOutOfSequence
	case StatusNoAuthenticatingAuthority:
		return ErrNoAuthenticatingAuthority
	case StatusContextExpired:
		return ErrContextExpired
	case StatusIncompleteMessage:
		return ErrIncompleteMessage
	case StatusBufferTooSmall:
		return ErrBufferTooSmall
	case StatusWrongPrincipal:
		return ErrWrongPrincipal
	case StatusTimeSkew:
		return ErrTimeSkew
	case StatusBadBindings:
		return ErrBadBindings
	case StatusMutualAuthFailed:
		return ErrMutualAuthFailed
	case StatusAlgorithmMismatch:
		return ErrAlgorithmMismatch
	}
}

// Err returns nil if s is not a failure code, otherwise a *ProviderError
// carrying s.  Providers use it to report failures from their query methods.
func (s Status) Err(mechErrors ...error) error {
	if !s.IsError() {
		return nil
	}

	ret := &ProviderError{Status: s}
	for _, err := range mechErrors {
		if err != nil {
			ret.MechErrors = append(ret.MechErrors, err)
		}
	}

	return ret
}

// ProviderError is returned when a provider reports a failure status.  The
// error unwraps to [ErrProviderFailure], the error variable describing the
// status code, any mechanism specific errors and, depending on the status,
// [ErrVerificationMismatch] or [ErrResourceExhaustion].  Callers can therefore
// test for both the broad category and the specific cause with errors.Is.
type ProviderError struct {
	Op         string  // Provider operation that failed, for example "InitializeSecurityContext"
	Status     Status  // The failure status
	MechErrors []error // Mechanism-specific errors
}

func (e *ProviderError) Unwrap() []error {
	ret := []error{ErrProviderFailure, e.Status.sentinel()}

	switch e.Status {
	case StatusMessageAltered, StatusOutOfSequence:
		ret = append(ret, ErrVerificationMismatch)
	case StatusInsufficientMemory, StatusBufferTooSmall:
		ret = append(ret, ErrResourceExhaustion)
	}

	ret = append(ret, e.MechErrors...)

	return ret
}

func (e *ProviderError) Error() string {
	var parts []string

	prefix := "sspi"
	if e.Op != "" {
		prefix += ": " + e.Op
	}

	status := e.Status.sentinel()
	// the generic internal error text adds nothing when the mechanism told us more
	if !(status == ErrInternalError && len(e.MechErrors) > 0) {
		parts = append(parts, status.Error())
	}

	if len(e.MechErrors) > 0 {
		mechStrs := make([]string, len(e.MechErrors))
		for i, err := range e.MechErrors {
			mechStrs[i] = err.Error()
		}
		parts = append(parts, strings.Join(mechStrs, "; "))
	}

	return fmt.Sprintf("%s: %s (0x%08X)", prefix, strings.Join(parts, ".  "), uint32(e.Status))
}

// providerError builds the error returned to callers for a failed provider
// call.  A provider may report a failure status, an error, or both.
func providerError(op string, status Status, err error) error {
	if err != nil {
		if pe, ok := err.(*ProviderError); ok {
			ret := *pe
			if ret.Op == "" {
				ret.Op = op
			}
			return &ret
		}
	}

	if !status.IsError() {
		status = StatusInternalError
	}

	ret := &ProviderError{Op: op, Status: status}
	if err != nil {
		ret.MechErrors = []error{err}
	}

	return ret
}
