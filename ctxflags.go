// SPDX-License-Identifier: Apache-2.0

package sspi

import "strings"

// ContextFlag holds request and return attributes of a security context.
// Values are the same as the ISC_REQ_* constants of the Windows SSPI.
type ContextFlag uint32

const (
	ContextFlagDelegate          ContextFlag = 0x00000001 // delegate the initiator's credentials to the peer
	ContextFlagMutualAuth        ContextFlag = 0x00000002 // the peer must authenticate itself
	ContextFlagReplayDetect      ContextFlag = 0x00000004 // detect replayed messages
	ContextFlagSequenceDetect    ContextFlag = 0x00000008 // detect out of sequence messages
	ContextFlagConfidentiality   ContextFlag = 0x00000010 // messages may be encrypted
	ContextFlagUseSessionKey     ContextFlag = 0x00000020 // a new session key must be negotiated
	ContextFlagPromptForCreds    ContextFlag = 0x00000040 // the package may prompt for credentials
	ContextFlagUseSuppliedCreds  ContextFlag = 0x00000080 // use the credentials supplied in the input buffers
	ContextFlagAllocateMemory    ContextFlag = 0x00000100 // the package allocates output buffers; never requested
	ContextFlagUseDCEStyle       ContextFlag = 0x00000200 // three-leg DCE style authentication
	ContextFlagDatagram          ContextFlag = 0x00000400 // datagram semantics
	ContextFlagConnection        ContextFlag = 0x00000800 // connection semantics
	ContextFlagCallLevel         ContextFlag = 0x00001000
	ContextFlagFragmentSupplied  ContextFlag = 0x00002000
	ContextFlagExtendedError     ContextFlag = 0x00004000 // errors are reported to the peer
	ContextFlagStream            ContextFlag = 0x00008000 // stream semantics
	ContextFlagIntegrity         ContextFlag = 0x00010000 // messages may be signed
	ContextFlagIdentify          ContextFlag = 0x00020000 // the peer may identify but not impersonate the initiator
	ContextFlagNullSession       ContextFlag = 0x00040000
	ContextFlagManualCredValid   ContextFlag = 0x00080000
	ContextFlagFragmentToFit     ContextFlag = 0x00200000
	ContextFlagNoIntegrity       ContextFlag = 0x00800000
	ContextFlagUseHTTPStyle      ContextFlag = 0x01000000
	ContextFlagConfidentialityOK ContextFlag = 0x40000000
)

// FlagList returns a slice of individual flags derived from the
// composite value f
func FlagList(f ContextFlag) (fl []ContextFlag) {
	t := ContextFlag(1)
	for i := 0; i < 32; i++ {
		if f&t != 0 {
			fl = append(fl, t)
		}

		t <<= 1
	}

	return
}

// FlagName returns a human-readable description of a context flag value
func FlagName(f ContextFlag) string {
	switch f {
	case ContextFlagDelegate:
		return "Delegation"
	case ContextFlagMutualAuth:
		return "Mutual authentication"
	case ContextFlagReplayDetect:
		return "Message replay detection"
	case ContextFlagSequenceDetect:
		return "Out of sequence message detection"
	case ContextFlagConfidentiality:
		return "Confidentiality"
	case ContextFlagUseSessionKey:
		return "Use session key"
	case ContextFlagPromptForCreds:
		return "Prompt for credentials"
	case ContextFlagUseSuppliedCreds:
		return "Use supplied credentials"
	case ContextFlagAllocateMemory:
		return "Allocate memory"
	case ContextFlagUseDCEStyle:
		return "DCE style"
	case ContextFlagDatagram:
		return "Datagram"
	case ContextFlagConnection:
		return "Connection"
	case ContextFlagCallLevel:
		return "Call level"
	case ContextFlagFragmentSupplied:
		return "Fragment supplied"
	case ContextFlagExtendedError:
		return "Extended errors"
	case ContextFlagStream:
		return "Stream"
	case ContextFlagIntegrity:
		return "Integrity"
	case ContextFlagIdentify:
		return "Identify only"
	case ContextFlagNullSession:
		return "Null session"
	case ContextFlagManualCredValid:
		return "Manual credential validation"
	case ContextFlagFragmentToFit:
		return "Fragment to fit"
	case ContextFlagNoIntegrity:
		return "No integrity"
	case ContextFlagUseHTTPStyle:
		return "HTTP style"
	case ContextFlagConfidentialityOK:
		return "Confidentiality only"
	}

	return "Unknown"
}

func (f ContextFlag) String() string {
	var names []string
	for _, flag := range FlagList(f) {
		names = append(names, FlagName(flag))
	}

	return strings.Join(names, ", ")
}
