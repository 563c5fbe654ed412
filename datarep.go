// SPDX-License-Identifier: Apache-2.0

package sspi

// DataRepresentation selects the byte order used by the security package on
// the wire.  Values are the same as the SECURITY_*_DREP constants.
type DataRepresentation uint32

const (
	DataRepNetwork DataRepresentation = 0x00
	DataRepNative  DataRepresentation = 0x10
)

func (d DataRepresentation) String() string {
	if d == DataRepNative {
		return "native"
	}

	return "network"
}
