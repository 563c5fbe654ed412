// SPDX-License-Identifier: Apache-2.0

package krb5

/*
 * Derived from github.com/jcmturner/gokrb5/v8/spnego/krb5Token.go
 *
 * The modified version adds functionality to marshal an APReq message
 * to be used as part of a mutually-authenticated GSSAPI security
 * context; verification is moved out.
 */

import (
	"crypto/md5"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/jcmturner/gofork/encoding/asn1"
	"github.com/jcmturner/gokrb5/v8/asn1tools"
	"github.com/jcmturner/gokrb5/v8/messages"

	"github.com/golang-auth/go-sspi"
)

// GSSAPI KRB5 MechToken IDs.
const (
	tokenIDKrbAPReq = "0100"
	tokenIDKrbAPRep = "0200"
	tokenIDKrbError = "0300"
)

// RFC 4121 §  4.1.1.1 context establishment flags carried in the
// authenticator checksum
const (
	gssFlagDeleg    uint32 = 1
	gssFlagMutual   uint32 = 2
	gssFlagReplay   uint32 = 4
	gssFlagSequence uint32 = 8
	gssFlagConf     uint32 = 16
	gssFlagInteg    uint32 = 32
)

func oID() asn1.ObjectIdentifier {
	return asn1.ObjectIdentifier{1, 2, 840, 113554, 1, 2, 2}
}

// kRB5Token context token implementation for GSSAPI.
type kRB5Token struct {
	oID      asn1.ObjectIdentifier
	tokID    []byte
	aPReq    *messages.APReq
	aPRep    *aPRep
	kRBError *messages.KRBError
}

// marshal a KRB5Token into a slice of bytes.
func (m *kRB5Token) marshal() (outTok []byte, err error) {
	// Create the header
	b, _ := asn1.Marshal(m.oID)
	b = append(b, m.tokID...)
	var tb []byte
	switch hex.EncodeToString(m.tokID) {
	case tokenIDKrbAPReq:
		tb, err = m.aPReq.Marshal()
		if err != nil {
			err = fmt.Errorf("krb5: error marshalling AP-REQ for MechToken: %v", err)
		}
	case tokenIDKrbAPRep:
		tb, err = m.aPRep.marshal()
		if err != nil {
			err = fmt.Errorf("krb5: error marshalling AP-REP for MechToken: %v", err)
		}
	case tokenIDKrbError:
		tb, err = m.kRBError.Marshal()
		if err != nil {
			err = fmt.Errorf("krb5: error marshalling KRB-ERROR for MechToken: %v", err)
		}
	}
	if err != nil {
		return
	}
	b = append(b, tb...)

	outTok = asn1tools.AddASNAppTag(b, 0)
	return
}

// unmarshal a KRB5Token.
func (m *kRB5Token) unmarshal(b []byte) error {
	m.aPReq = nil
	m.aPRep = nil
	m.kRBError = nil

	var oid asn1.ObjectIdentifier
	r, err := asn1.UnmarshalWithParams(b, &oid, fmt.Sprintf("application,explicit,tag:%v", 0))
	if err != nil {
		return fmt.Errorf("krb5: error unmarshalling KRB5Token OID: %v", err)
	}
	if !oid.Equal(oID()) {
		return fmt.Errorf("krb5: error unmarshalling KRB5Token, OID is %s not %s", oid.String(), oID().String())
	}
	m.oID = oid
	if len(r) < 2 {
		return fmt.Errorf("krb5: krb5token too short")
	}
	m.tokID = r[0:2]
	switch hex.EncodeToString(m.tokID) {
	case tokenIDKrbAPReq:
		var a messages.APReq
		err = a.Unmarshal(r[2:])
		if err != nil {
			return fmt.Errorf("krb5: error unmarshalling KRB5Token AP_REQ: %v", err)
		}
		m.aPReq = &a
	case tokenIDKrbAPRep:
		var a aPRep
		err = a.unmarshal(r[2:])
		if err != nil {
			return fmt.Errorf("krb5: error unmarshalling KRB5Token AP_REP: %v", err)
		}
		m.aPRep = &a
	case tokenIDKrbError:
		var a messages.KRBError
		err = a.Unmarshal(r[2:])
		if err != nil {
			return fmt.Errorf("krb5: error unmarshalling KRB5Token KRBError: %v", err)
		}
		m.kRBError = &a
	default:
		return fmt.Errorf("krb5: unknown KRB5Token ID %x", m.tokID)
	}
	return nil
}

// gssFlags maps requested context flags to the RFC 4121 checksum flags
func gssFlags(f sspi.ContextFlag) uint32 {
	var ret uint32

	for _, m := range []struct {
		sspi sspi.ContextFlag
		gss  uint32
	}{
		{sspi.ContextFlagDelegate, gssFlagDeleg},
		{sspi.ContextFlagMutualAuth, gssFlagMutual},
		{sspi.ContextFlagReplayDetect, gssFlagReplay},
		{sspi.ContextFlagSequenceDetect, gssFlagSequence},
		{sspi.ContextFlagConfidentiality, gssFlagConf},
		{sspi.ContextFlagIntegrity, gssFlagInteg},
	} {
		if f&m.sspi != 0 {
			ret |= m.gss
		}
	}

	return ret
}

// Create the GSSAPI checksum for the authenticator.  This isn't really
// a checksum, it is a way to carry GSSAPI level context information in
// the Kerberos AP-REQ message. See RFC 4121 § 4.1.1
func newAuthenticatorChksum(flags sspi.ContextFlag, bindings []byte) ([]byte, error) {
	// 24 octet minimum length, up to and including context-establishment flags
	a := make([]byte, 24)

	// 4-byte length of "channel binding" info, always 16 bytes
	binary.LittleEndian.PutUint32(a[:4], 16)

	// Octets 4..19: Channel binding info
	if len(bindings) > 0 {
		sum, err := cbChecksum(bindings)
		if err != nil {
			return nil, err
		}
		copy(a[4:20], sum)
	}

	// Context-establishment flags
	binary.LittleEndian.PutUint32(a[20:24], gssFlags(flags))

	return a, nil
}

// cbChecksum hashes marshalled SEC_CHANNEL_BINDINGS the way RFC 4121 §
// 4.1.1.2 hashes gss_channel_bindings_struct: each address as a type and
// length followed by the address, then the application data length and data,
// all little-endian.
func cbChecksum(b []byte) ([]byte, error) {
	const hdrLen = 32

	if len(b) < hdrLen {
		return nil, errors.New("krb5: channel bindings structure too short")
	}

	get := func(field int) uint32 {
		return binary.LittleEndian.Uint32(b[field*4:])
	}
	part := func(l, o uint32) ([]byte, error) {
		if l == 0 {
			return nil, nil
		}
		if uint64(o)+uint64(l) > uint64(len(b)) {
			return nil, errors.New("krb5: channel bindings field exceeds structure")
		}
		return b[o : o+l], nil
	}

	buf := make([]byte, 0, len(b))

	for _, f := range [][3]int{{0, 1, 2}, {3, 4, 5}} {
		addr, err := part(get(f[1]), get(f[2]))
		if err != nil {
			return nil, err
		}

		buf = binary.LittleEndian.AppendUint32(buf, get(f[0]))
		buf = binary.LittleEndian.AppendUint32(buf, uint32(len(addr)))
		buf = append(buf, addr...)
	}

	data, err := part(get(6), get(7))
	if err != nil {
		return nil, err
	}
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(data)))
	buf = append(buf, data...)

	hashed := md5.Sum(buf)
	return hashed[:], nil
}
