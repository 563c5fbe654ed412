// SPDX-License-Identifier: Apache-2.0

package sspi

import (
	"crypto"
	_ "crypto/sha256"
	_ "crypto/sha512"
	"crypto/tls"
	"crypto/x509"
	"encoding/binary"
	"errors"
	"fmt"
	"net"

	cb "github.com/golang-auth/go-channelbinding"
)

// AddressFamily values used in marshalled channel bindings (RFC 2744 § 3.11)
type AddressFamily uint32

const (
	AddrFamilyUnspec AddressFamily = 0
	AddrFamilyLocal  AddressFamily = 1
	AddrFamilyInet   AddressFamily = 2
	AddrFamilyInet6  AddressFamily = 24
)

// TLSServerEndpointPrefix is the channel binding type prefix from RFC 5929 § 4
const TLSServerEndpointPrefix = "tls-server-end-point:"

const channelBindingsHeaderLen = 32

// ChannelBinding ties a security context to an outer channel such as a TLS
// connection.  It is passed to the provider on the first handshake round only.
type ChannelBinding struct {
	InitiatorAddr net.Addr
	AcceptorAddr  net.Addr
	Data          []byte
}

// NewTLSChannelBinding builds RFC 5929 tls-server-end-point bindings for a
// TLS connection.  On the client side serverCert is nil and the leaf
// certificate of the peer is used.
//
// The end-point binding depends only on the server certificate, so it is
// also produced for TLS 1.3 connections, as Windows acceptors expect.
func NewTLSChannelBinding(state *tls.ConnectionState, serverCert *x509.Certificate) (*ChannelBinding, error) {
	if state == nil {
		return nil, errors.New("channel binding: no TLS connection state")
	}

	if serverCert == nil {
		if len(state.PeerCertificates) == 0 {
			return nil, errors.New("channel binding: no server certificate found in TLS connection state")
		}
		serverCert = state.PeerCertificates[0]
	}

	if state.Version > tls.VersionTLS12 {
		return NewEndpointChannelBinding(EndpointCertificateHash(serverCert)), nil
	}

	data, err := cb.MakeTLSChannelBinding(*state, serverCert, cb.TLSChannelBindingEndpoint)
	if err != nil {
		return nil, fmt.Errorf("channel binding: %w", err)
	}

	return &ChannelBinding{Data: data}, nil
}

// EndpointCertificateHash hashes cert as RFC 5929 § 4.1 describes: with the
// certificate's signature hash, or SHA-256 when that is MD5 or SHA-1.
func EndpointCertificateHash(cert *x509.Certificate) []byte {
	hashType := crypto.SHA256
	switch cert.SignatureAlgorithm {
	case x509.SHA384WithRSA, x509.ECDSAWithSHA384, x509.SHA384WithRSAPSS:
		hashType = crypto.SHA384
	case x509.SHA512WithRSA, x509.ECDSAWithSHA512, x509.SHA512WithRSAPSS:
		hashType = crypto.SHA512
	}

	h := hashType.New()
	_, _ = h.Write(cert.Raw)

	return h.Sum(nil)
}

// NewEndpointChannelBinding builds tls-server-end-point bindings from a
// certificate hash computed by the caller
func NewEndpointChannelBinding(certHash []byte) *ChannelBinding {
	data := make([]byte, 0, len(TLSServerEndpointPrefix)+len(certHash))
	data = append(data, TLSServerEndpointPrefix...)
	data = append(data, certHash...)

	return &ChannelBinding{Data: data}
}

// Marshal encodes the bindings as a SEC_CHANNEL_BINDINGS structure: a 32 byte
// little-endian header of (type, length, offset) triples for the initiator and
// acceptor addresses followed by the application data length and offset, then
// the variable length parts.
func (c *ChannelBinding) Marshal() ([]byte, error) {
	initType, initAddr, err := marshalAddr(c.InitiatorAddr)
	if err != nil {
		return nil, fmt.Errorf("channel binding initiator address: %w", err)
	}
	accType, accAddr, err := marshalAddr(c.AcceptorAddr)
	if err != nil {
		return nil, fmt.Errorf("channel binding acceptor address: %w", err)
	}

	buf := make([]byte, channelBindingsHeaderLen, channelBindingsHeaderLen+len(initAddr)+len(accAddr)+len(c.Data))

	put := func(field int, v uint32) {
		binary.LittleEndian.PutUint32(buf[field*4:], v)
	}

	offset := uint32(channelBindingsHeaderLen)

	put(0, uint32(initType))
	put(1, uint32(len(initAddr)))
	if len(initAddr) > 0 {
		put(2, offset)
		offset += uint32(len(initAddr))
	}

	put(3, uint32(accType))
	put(4, uint32(len(accAddr)))
	if len(accAddr) > 0 {
		put(5, offset)
		offset += uint32(len(accAddr))
	}

	put(6, uint32(len(c.Data)))
	put(7, offset)

	buf = append(buf, initAddr...)
	buf = append(buf, accAddr...)
	buf = append(buf, c.Data...)

	return buf, nil
}

// UnmarshalChannelBinding decodes a SEC_CHANNEL_BINDINGS structure.  Addresses
// are returned as *net.IPAddr.
func UnmarshalChannelBinding(b []byte) (*ChannelBinding, error) {
	if len(b) < channelBindingsHeaderLen {
		return nil, errors.New("channel binding: structure too short")
	}

	get := func(field int) uint32 {
		return binary.LittleEndian.Uint32(b[field*4:])
	}
	part := func(lenField, offField int) ([]byte, error) {
		l, o := get(lenField), get(offField)
		if l == 0 {
			return nil, nil
		}
		if uint64(o)+uint64(l) > uint64(len(b)) {
			return nil, errors.New("channel binding: field exceeds structure")
		}
		return b[o : o+l], nil
	}

	ret := &ChannelBinding{}

	ia, err := part(1, 2)
	if err != nil {
		return nil, err
	}
	ret.InitiatorAddr = unmarshalAddr(AddressFamily(get(0)), ia)

	aa, err := part(4, 5)
	if err != nil {
		return nil, err
	}
	ret.AcceptorAddr = unmarshalAddr(AddressFamily(get(3)), aa)

	data, err := part(6, 7)
	if err != nil {
		return nil, err
	}
	if data != nil {
		ret.Data = append([]byte(nil), data...)
	}

	return ret, nil
}

func marshalAddr(addr net.Addr) (AddressFamily, []byte, error) {
	var ip net.IP

	switch a := addr.(type) {
	case nil:
		return AddrFamilyUnspec, nil, nil
	case *net.IPAddr:
		ip = a.IP
	case *net.TCPAddr:
		ip = a.IP
	case *net.UDPAddr:
		ip = a.IP
	case *net.UnixAddr:
		return AddrFamilyLocal, []byte(a.Name), nil
	default:
		return 0, nil, fmt.Errorf("unsupported address type %T", addr)
	}

	if ip4 := ip.To4(); ip4 != nil {
		return AddrFamilyInet, []byte(ip4), nil
	}
	if ip16 := ip.To16(); ip16 != nil {
		return AddrFamilyInet6, []byte(ip16), nil
	}

	return 0, nil, fmt.Errorf("invalid IP address %q", ip)
}

func unmarshalAddr(family AddressFamily, b []byte) net.Addr {
	switch family {
	case AddrFamilyInet, AddrFamilyInet6:
		return &net.IPAddr{IP: net.IP(append([]byte(nil), b...))}
	case AddrFamilyLocal:
		return &net.UnixAddr{Name: string(b), Net: "unix"}
	}

	return nil
}
