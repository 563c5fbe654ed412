// SPDX-License-Identifier: Apache-2.0

package sspi

import "fmt"

// BufferType identifies the role of a segment in a [BufferSet].  Values are
// the same as the SECBUFFER_* constants of the Windows SSPI.
type BufferType uint32

const (
	BufferEmpty           BufferType = 0  // unused segment
	BufferData            BufferType = 1  // message data
	BufferToken           BufferType = 2  // security token or signature
	BufferPackageParams   BufferType = 3  // package specific parameters
	BufferMissing         BufferType = 4  // number of missing bytes, set by the provider
	BufferExtra           BufferType = 5  // unprocessed input, set by the provider
	BufferStreamTrailer   BufferType = 6  // stream protocol trailer
	BufferStreamHeader    BufferType = 7  // stream protocol header
	BufferPadding         BufferType = 9  // block cipher padding
	BufferStream          BufferType = 10 // a whole stream protocol record
	BufferChannelBindings BufferType = 14 // marshalled channel bindings
	BufferTargetHost      BufferType = 16 // target host name
)

// Native flag bits that may be combined with a BufferType.
const (
	BufferAttrReadOnly             uint32 = 0x80000000
	BufferAttrReadOnlyWithChecksum uint32 = 0x10000000
	bufferAttrMask                 uint32 = 0xF0000000
)

func (t BufferType) String() string {
	switch t {
	case BufferEmpty:
		return "Empty"
	case BufferData:
		return "Data"
	case BufferToken:
		return "Token"
	case BufferPackageParams:
		return "PackageParams"
	case BufferMissing:
		return "Missing"
	case BufferExtra:
		return "Extra"
	case BufferStreamTrailer:
		return "StreamTrailer"
	case BufferStreamHeader:
		return "StreamHeader"
	case BufferPadding:
		return "Padding"
	case BufferStream:
		return "Stream"
	case BufferChannelBindings:
		return "ChannelBindings"
	case BufferTargetHost:
		return "TargetHost"
	}

	return fmt.Sprintf("BufferType(%d)", uint32(t))
}

// SecurityBuffer is one typed segment of a [BufferSet].
//
// Operations that transform a buffer set work in place: they write into the
// existing Data backing array and may shorten Data to the number of bytes
// written.  ReadOnly segments are never written.  Read-only data segments are
// still covered by the integrity check of the operation.
type SecurityBuffer struct {
	Type     BufferType
	ReadOnly bool
	Data     []byte
}

// NativeType returns the buffer type combined with the native read-only flag
func (b SecurityBuffer) NativeType() uint32 {
	t := uint32(b.Type)
	if b.ReadOnly {
		// read-only data segments are still integrity protected
		t |= BufferAttrReadOnlyWithChecksum
	}

	return t
}

// BufferFromNative builds a SecurityBuffer from a native buffer type value,
// which may carry the read-only flags
func BufferFromNative(t uint32, data []byte) SecurityBuffer {
	return SecurityBuffer{
		Type:     BufferType(t &^ bufferAttrMask),
		ReadOnly: t&(BufferAttrReadOnly|BufferAttrReadOnlyWithChecksum) != 0,
		Data:     data,
	}
}

// BufferSet is an ordered list of typed segments passed to a provider.
type BufferSet []SecurityBuffer

// Index returns the index of the first segment of type t, or -1
func (bs BufferSet) Index(t BufferType) int {
	for i := range bs {
		if bs[i].Type == t {
			return i
		}
	}

	return -1
}

// First returns a pointer to the first segment of type t, or nil
func (bs BufferSet) First(t BufferType) *SecurityBuffer {
	if i := bs.Index(t); i >= 0 {
		return &bs[i]
	}

	return nil
}

// Clone returns a deep copy of the buffer set
func (bs BufferSet) Clone() BufferSet {
	if bs == nil {
		return nil
	}

	ret := make(BufferSet, len(bs))
	for i, b := range bs {
		ret[i] = SecurityBuffer{Type: b.Type, ReadOnly: b.ReadOnly}
		if b.Data != nil {
			ret[i].Data = append([]byte(nil), b.Data...)
		}
	}

	return ret
}

// Data returns the concatenated contents of the data segments, read-only
// segments included
func (bs BufferSet) Data() []byte {
	var ret []byte
	for _, b := range bs {
		if b.Type == BufferData {
			ret = append(ret, b.Data...)
		}
	}

	return ret
}

// MutableData returns the data segments that may be transformed
func (bs BufferSet) MutableData() []*SecurityBuffer {
	var ret []*SecurityBuffer
	for i := range bs {
		if bs[i].Type == BufferData && !bs[i].ReadOnly {
			ret = append(ret, &bs[i])
		}
	}

	return ret
}

// ReadOnlyData returns the data segments that must not be modified
func (bs BufferSet) ReadOnlyData() []*SecurityBuffer {
	var ret []*SecurityBuffer
	for i := range bs {
		if bs[i].Type == BufferData && bs[i].ReadOnly {
			ret = append(ret, &bs[i])
		}
	}

	return ret
}

// withToken returns a working copy of the segment headers of bs that is
// guaranteed to contain a token segment, and the index of that segment.
// Data backing arrays are shared with bs.
func (bs BufferSet) withToken(tok []byte) (BufferSet, int) {
	work := make(BufferSet, len(bs), len(bs)+1)
	copy(work, bs)

	if i := work.Index(BufferToken); i >= 0 {
		return work, i
	}

	work = append(work, SecurityBuffer{Type: BufferToken, Data: tok})
	return work, len(work) - 1
}

// adopt copies segment headers written by a provider back into bs
func (bs BufferSet) adopt(work BufferSet) {
	for i := range bs {
		if !bs[i].ReadOnly {
			bs[i].Data = work[i].Data
		}
	}
}
